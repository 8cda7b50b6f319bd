package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/cshub/internal/metrics"
	"github.com/revittco/cshub/internal/store"
)

// AgencyAccess is a usable agency access token.
type AgencyAccess struct {
	AccessToken string
	ExpiresAt   time.Time
	Refreshed   bool
}

// GetAgencyAccessToken returns a valid access token for companyID,
// refreshing it first when the stored one is expired.
func (m *Manager) GetAgencyAccessToken(ctx context.Context, companyID string) (*AgencyAccess, error) {
	acc, err := m.getAgencyAccessToken(ctx, companyID)
	switch {
	case err != nil:
		metrics.AgencyTokenRequests.WithLabelValues("error").Inc()
	case acc.Refreshed:
		metrics.AgencyTokenRequests.WithLabelValues("refreshed").Inc()
	default:
		metrics.AgencyTokenRequests.WithLabelValues("valid").Inc()
	}
	return acc, err
}

func (m *Manager) getAgencyAccessToken(ctx context.Context, companyID string) (*AgencyAccess, error) {
	row, err := m.loadAgency(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if row.ValidAt(m.now()) {
		return m.decodeAgency(row)
	}
	if !row.HasRefreshToken() {
		return nil, fmt.Errorf("company %s: %w", companyID, ErrRefreshTokenMissing)
	}

	v, err, _ := m.agencyFlight.Do(companyID, func() (any, error) {
		return m.refreshAgency(context.WithoutCancel(ctx), companyID)
	})
	if err != nil {
		return nil, err
	}
	acc := *v.(*AgencyAccess)
	return &acc, nil
}

// refreshAgency runs once per company at a time. It re-reads the row since
// a refresh that finished just before this one started may already have
// replaced it.
func (m *Manager) refreshAgency(ctx context.Context, companyID string) (*AgencyAccess, error) {
	row, err := m.loadAgency(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if row.ValidAt(m.now()) {
		return m.decodeAgency(row)
	}
	if !row.HasRefreshToken() {
		return nil, fmt.Errorf("company %s: %w", companyID, ErrRefreshTokenMissing)
	}

	refreshToken, err := m.codec.Decrypt(row.RefreshTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token for company %s: %w", companyID, err)
	}

	grant, err := m.platform.RefreshToken(ctx, refreshToken)
	if err != nil {
		m.logger.Warn("agency token refresh failed", "company_id", companyID, "error", err)
		return nil, fmt.Errorf("refresh agency token: %w", err)
	}

	accessEnc, err := m.codec.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	// Refresh tokens are not always rotated; keep the stored one as is.
	refreshEnc := row.RefreshTokenEnc
	if grant.RefreshToken != "" {
		if refreshEnc, err = m.codec.Encrypt(grant.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	next := *row
	next.AccessTokenEnc = accessEnc
	next.RefreshTokenEnc = refreshEnc
	next.ExpiresAt = m.expiry(m.now(), grant.ExpiresIn, m.agencyTTL)
	if len(grant.Scopes) > 0 {
		next.Scopes = grant.Scopes
	}
	if grant.UserType != "" {
		next.UserType = grant.UserType
	}
	if err := m.store.UpsertAgencyToken(ctx, &next); err != nil {
		return nil, fmt.Errorf("store refreshed agency token: %w", err)
	}

	m.logger.Info("agency token refreshed",
		"company_id", companyID,
		"expires_at", next.ExpiresAt,
		"rotated", grant.RefreshToken != "",
	)
	return &AgencyAccess{AccessToken: grant.AccessToken, ExpiresAt: next.ExpiresAt, Refreshed: true}, nil
}

func (m *Manager) loadAgency(ctx context.Context, companyID string) (*store.AgencyToken, error) {
	row, err := m.store.GetAgencyToken(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("company %s: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load agency token: %w", err)
	}
	return row, nil
}

func (m *Manager) decodeAgency(row *store.AgencyToken) (*AgencyAccess, error) {
	token, err := m.codec.Decrypt(row.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt access token for company %s: %w", row.CompanyID, err)
	}
	return &AgencyAccess{AccessToken: token, ExpiresAt: row.ExpiresAt}, nil
}

// Installation is the result of a completed install.
type Installation struct {
	CompanyID string
	ExpiresAt time.Time
	UserType  string
}

// HandleInstall exchanges an installation code and stores the resulting
// agency token under the company the platform reports. The caller has
// already checked CSRF state.
func (m *Manager) HandleInstall(ctx context.Context, code string) (*Installation, error) {
	grant, err := m.platform.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange installation code: %w", err)
	}
	if grant.CompanyID == "" {
		return nil, ErrMissingCompanyID
	}

	accessEnc, err := m.codec.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var refreshEnc string
	if grant.RefreshToken != "" {
		if refreshEnc, err = m.codec.Encrypt(grant.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	row := &store.AgencyToken{
		CompanyID:       grant.CompanyID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       m.expiry(m.now(), grant.ExpiresIn, m.agencyTTL),
		Scopes:          grant.Scopes,
		UserType:        grant.UserType,
	}
	if err := m.store.UpsertAgencyToken(ctx, row); err != nil {
		return nil, fmt.Errorf("store agency token: %w", err)
	}

	m.logger.Info("agency installed",
		"company_id", row.CompanyID,
		"user_type", row.UserType,
		"has_refresh_token", row.HasRefreshToken(),
	)
	return &Installation{CompanyID: row.CompanyID, ExpiresAt: row.ExpiresAt, UserType: row.UserType}, nil
}
