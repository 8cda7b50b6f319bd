package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/revittco/cshub/internal/store"
)

const agencySelect = `
	SELECT company_id, access_token_enc, COALESCE(refresh_token_enc, ''),
	       expires_at, scopes, user_type, created_at, updated_at
	FROM agency_tokens`

// GetAgencyToken returns the agency row for companyID.
func (d *DB) GetAgencyToken(ctx context.Context, companyID string) (*store.AgencyToken, error) {
	row := d.db.QueryRow(ctx, agencySelect+` WHERE company_id = $1`, companyID)
	t, err := scanAgencyToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agency token: %w", err)
	}
	return t, nil
}

// UpsertAgencyToken writes the whole row. An empty refresh token is stored
// as NULL.
func (d *DB) UpsertAgencyToken(ctx context.Context, t *store.AgencyToken) error {
	if t.CompanyID == "" {
		return fmt.Errorf("%w: agency token without company id", store.ErrInvalidRow)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	scopes := t.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	query := `
		INSERT INTO agency_tokens (company_id, access_token_enc, refresh_token_enc, expires_at, scopes, user_type, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
		ON CONFLICT (company_id) DO UPDATE
		SET access_token_enc = EXCLUDED.access_token_enc,
		    refresh_token_enc = EXCLUDED.refresh_token_enc,
		    expires_at = EXCLUDED.expires_at,
		    scopes = EXCLUDED.scopes,
		    user_type = EXCLUDED.user_type,
		    updated_at = EXCLUDED.updated_at`

	_, err := d.db.Exec(ctx, query,
		t.CompanyID,
		t.AccessTokenEnc,
		t.RefreshTokenEnc,
		t.ExpiresAt,
		scopes,
		t.UserType,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agency token: %w", err)
	}
	return nil
}

// ListAgencyTokens returns every agency row, oldest first.
func (d *DB) ListAgencyTokens(ctx context.Context) ([]store.AgencyToken, error) {
	rows, err := d.db.Query(ctx, agencySelect+` ORDER BY created_at, company_id`)
	if err != nil {
		return nil, fmt.Errorf("list agency tokens: %w", err)
	}
	defer rows.Close()

	var out []store.AgencyToken
	for rows.Next() {
		t, err := scanAgencyToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agency token: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanAgencyToken(row pgx.Row) (*store.AgencyToken, error) {
	var t store.AgencyToken
	err := row.Scan(
		&t.CompanyID,
		&t.AccessTokenEnc,
		&t.RefreshTokenEnc,
		&t.ExpiresAt,
		&t.Scopes,
		&t.UserType,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(t.Scopes) == 0 {
		t.Scopes = nil
	}
	return &t, nil
}

const locationSelect = `
	SELECT company_id, location_id, access_token_enc, expires_at, created_at, updated_at
	FROM location_tokens`

// GetLocationToken returns the cached location row for the pair.
func (d *DB) GetLocationToken(ctx context.Context, companyID, locationID string) (*store.LocationToken, error) {
	row := d.db.QueryRow(ctx, locationSelect+` WHERE company_id = $1 AND location_id = $2`,
		companyID, locationID)
	t, err := scanLocationToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location token: %w", err)
	}
	return t, nil
}

// UpsertLocationToken writes the whole row for the pair.
func (d *DB) UpsertLocationToken(ctx context.Context, t *store.LocationToken) error {
	if t.CompanyID == "" || t.LocationID == "" {
		return fmt.Errorf("%w: location token without company or location id", store.ErrInvalidRow)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO location_tokens (company_id, location_id, access_token_enc, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, location_id) DO UPDATE
		SET access_token_enc = EXCLUDED.access_token_enc,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at`

	_, err := d.db.Exec(ctx, query,
		t.CompanyID,
		t.LocationID,
		t.AccessTokenEnc,
		t.ExpiresAt,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert location token: %w", err)
	}
	return nil
}

// ListLocationTokens returns every location row.
func (d *DB) ListLocationTokens(ctx context.Context) ([]store.LocationToken, error) {
	rows, err := d.db.Query(ctx, locationSelect+` ORDER BY company_id, location_id`)
	if err != nil {
		return nil, fmt.Errorf("list location tokens: %w", err)
	}
	defer rows.Close()

	var out []store.LocationToken
	for rows.Next() {
		t, err := scanLocationToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location token: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanLocationToken(row pgx.Row) (*store.LocationToken, error) {
	var t store.LocationToken
	err := row.Scan(
		&t.CompanyID,
		&t.LocationID,
		&t.AccessTokenEnc,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
