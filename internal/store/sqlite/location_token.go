package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/cshub/internal/store"
)

const locationColumns = `company_id, location_id, access_token_enc, expires_at, created_at, updated_at`

func (d *DB) GetLocationToken(ctx context.Context, companyID, locationID string) (*store.LocationToken, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM location_tokens WHERE company_id = ? AND location_id = ?`,
		companyID, locationID)
	t, err := scanLocationToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (d *DB) UpsertLocationToken(ctx context.Context, t *store.LocationToken) error {
	if t.CompanyID == "" || t.LocationID == "" {
		return fmt.Errorf("%w: location token without company or location id", store.ErrInvalidRow)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO location_tokens
		(company_id, location_id, access_token_enc, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, location_id) DO UPDATE SET
			access_token_enc = excluded.access_token_enc,
			expires_at       = excluded.expires_at,
			updated_at       = excluded.updated_at`,
		t.CompanyID, t.LocationID, t.AccessTokenEnc, formatTime(t.ExpiresAt),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert location token: %w", err)
	}
	return nil
}

func (d *DB) ListLocationTokens(ctx context.Context) ([]store.LocationToken, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM location_tokens ORDER BY company_id, location_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.LocationToken
	for rows.Next() {
		t, err := scanLocationToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanLocationToken(s scanner) (*store.LocationToken, error) {
	var t store.LocationToken
	var expiresAt, createdAt, updatedAt string
	if err := s.Scan(&t.CompanyID, &t.LocationID, &t.AccessTokenEnc,
		&expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
