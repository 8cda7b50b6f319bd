package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/cshub/internal/store"
)

const agencyColumns = `company_id, access_token_enc, COALESCE(refresh_token_enc, ''),
	expires_at, scopes, user_type, created_at, updated_at`

func (d *DB) GetAgencyToken(ctx context.Context, companyID string) (*store.AgencyToken, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+agencyColumns+` FROM agency_tokens WHERE company_id = ?`, companyID)
	t, err := scanAgencyToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

func (d *DB) UpsertAgencyToken(ctx context.Context, t *store.AgencyToken) error {
	if t.CompanyID == "" {
		return fmt.Errorf("%w: agency token without company id", store.ErrInvalidRow)
	}
	scopes, err := encodeScopes(t.Scopes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var refresh any
	if t.RefreshTokenEnc != "" {
		refresh = t.RefreshTokenEnc
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO agency_tokens
		(company_id, access_token_enc, refresh_token_enc, expires_at, scopes, user_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id) DO UPDATE SET
			access_token_enc  = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			expires_at        = excluded.expires_at,
			scopes            = excluded.scopes,
			user_type         = excluded.user_type,
			updated_at        = excluded.updated_at`,
		t.CompanyID, t.AccessTokenEnc, refresh, formatTime(t.ExpiresAt),
		scopes, t.UserType, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert agency token: %w", err)
	}
	return nil
}

func (d *DB) ListAgencyTokens(ctx context.Context) ([]store.AgencyToken, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+agencyColumns+` FROM agency_tokens ORDER BY created_at, company_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AgencyToken
	for rows.Next() {
		t, err := scanAgencyToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgencyToken(s scanner) (*store.AgencyToken, error) {
	var t store.AgencyToken
	var expiresAt, scopes, createdAt, updatedAt string
	if err := s.Scan(&t.CompanyID, &t.AccessTokenEnc, &t.RefreshTokenEnc,
		&expiresAt, &scopes, &t.UserType, &createdAt, &updatedAt); err != nil {
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
	if t.Scopes, err = decodeScopes(scopes); err != nil {
		return nil, err
	}
	return &t, nil
}
