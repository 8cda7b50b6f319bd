package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/cshub/internal/metrics"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/store"
)

// LocationAccess is a usable location access token. CacheErr is set when
// the token was minted but could not be persisted; the token is still
// valid.
type LocationAccess struct {
	AccessToken string
	ExpiresAt   time.Time
	Cached      bool
	CacheErr    error
}

// GetLocationAccessToken returns a valid token for the location, minting
// one from the company's agency token when none is cached.
func (m *Manager) GetLocationAccessToken(ctx context.Context, companyID, locationID string) (*LocationAccess, error) {
	acc, err := m.getLocationAccessToken(ctx, companyID, locationID)
	switch {
	case err != nil:
		metrics.LocationTokenRequests.WithLabelValues("error").Inc()
	case acc.Cached:
		metrics.LocationTokenRequests.WithLabelValues("cached").Inc()
	default:
		metrics.LocationTokenRequests.WithLabelValues("minted").Inc()
	}
	return acc, err
}

func (m *Manager) getLocationAccessToken(ctx context.Context, companyID, locationID string) (*LocationAccess, error) {
	if acc, err := m.cachedLocation(ctx, companyID, locationID); acc != nil || err != nil {
		return acc, err
	}

	v, err, _ := m.locationFlight.Do(companyID+"/"+locationID, func() (any, error) {
		return m.mintLocation(context.WithoutCancel(ctx), companyID, locationID)
	})
	if err != nil {
		return nil, err
	}
	acc := *v.(*LocationAccess)
	return &acc, nil
}

// cachedLocation returns the stored token when it is still valid, and nil
// when a new one has to be minted.
func (m *Manager) cachedLocation(ctx context.Context, companyID, locationID string) (*LocationAccess, error) {
	row, err := m.store.GetLocationToken(ctx, companyID, locationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load location token: %w", err)
	}
	if !row.ValidAt(m.now()) {
		return nil, nil
	}
	token, err := m.codec.Decrypt(row.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt location token %s/%s: %w", companyID, locationID, err)
	}
	return &LocationAccess{AccessToken: token, ExpiresAt: row.ExpiresAt, Cached: true}, nil
}

func (m *Manager) mintLocation(ctx context.Context, companyID, locationID string) (*LocationAccess, error) {
	if acc, err := m.cachedLocation(ctx, companyID, locationID); acc != nil || err != nil {
		return acc, err
	}

	agency, err := m.GetAgencyAccessToken(ctx, companyID)
	if err != nil {
		return nil, err
	}

	grant, err := m.platform.ExchangeLocationToken(ctx, platform.LocationTokenRequest{
		CompanyID:         companyID,
		LocationID:        locationID,
		AgencyAccessToken: agency.AccessToken,
	})
	if err != nil {
		m.logger.Warn("location token exchange failed",
			"company_id", companyID, "location_id", locationID, "error", err)
		return nil, fmt.Errorf("exchange location token: %w", err)
	}

	// A location token never outlives the agency token it came from.
	expiresAt := m.expiry(m.now(), grant.ExpiresIn, m.locationTTL)
	if expiresAt.After(agency.ExpiresAt) {
		expiresAt = agency.ExpiresAt
	}

	acc := &LocationAccess{AccessToken: grant.AccessToken, ExpiresAt: expiresAt}
	if err := m.storeLocation(ctx, companyID, locationID, grant.AccessToken, expiresAt); err != nil {
		// The minted token is still good; hand it out and report the write.
		acc.CacheErr = err
		metrics.LocationTokenCacheWriteFailures.Inc()
		m.logger.Error("location token cache write failed",
			"company_id", companyID, "location_id", locationID, "error", err)
	}
	return acc, nil
}

func (m *Manager) storeLocation(ctx context.Context, companyID, locationID, token string, expiresAt time.Time) error {
	enc, err := m.codec.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt location token: %w", err)
	}
	return m.store.UpsertLocationToken(ctx, &store.LocationToken{
		CompanyID:      companyID,
		LocationID:     locationID,
		AccessTokenEnc: enc,
		ExpiresAt:      expiresAt,
	})
}
