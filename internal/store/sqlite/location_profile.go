package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/revittco/cshub/internal/store"
)

func (d *DB) GetLocationProfile(ctx context.Context, companyID, locationID string) (*store.LocationProfile, error) {
	var p store.LocationProfile
	var profile, subscription sql.NullString
	var syncedAt string

	err := d.db.QueryRowContext(ctx, `
		SELECT company_id, location_id, name, profile_raw, subscription_raw,
		       subscription_error, synced_at
		FROM location_profiles WHERE company_id = ? AND location_id = ?`,
		companyID, locationID,
	).Scan(&p.CompanyID, &p.LocationID, &p.Name, &profile, &subscription,
		&p.SubscriptionError, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if profile.Valid {
		p.ProfileRaw = json.RawMessage(profile.String)
	}
	if subscription.Valid {
		p.SubscriptionRaw = json.RawMessage(subscription.String)
	}
	if p.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) UpsertLocationProfile(ctx context.Context, p *store.LocationProfile) error {
	if p.CompanyID == "" || p.LocationID == "" {
		return fmt.Errorf("%w: location profile without company or location id", store.ErrInvalidRow)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO location_profiles
		(company_id, location_id, name, profile_raw, subscription_raw, subscription_error, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id, location_id) DO UPDATE SET
			name               = excluded.name,
			profile_raw        = excluded.profile_raw,
			subscription_raw   = excluded.subscription_raw,
			subscription_error = excluded.subscription_error,
			synced_at          = excluded.synced_at`,
		p.CompanyID, p.LocationID, p.Name, rawOrNull(p.ProfileRaw),
		rawOrNull(p.SubscriptionRaw), p.SubscriptionError, formatTime(p.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert location profile: %w", err)
	}
	return nil
}
