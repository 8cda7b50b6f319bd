package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/revittco/cshub/internal/store"
)

// GetLocationProfile returns the last synced snapshot for the pair.
func (d *DB) GetLocationProfile(ctx context.Context, companyID, locationID string) (*store.LocationProfile, error) {
	query := `
		SELECT company_id, location_id, name, profile_raw, subscription_raw, subscription_error, synced_at
		FROM location_profiles
		WHERE company_id = $1 AND location_id = $2`

	var p store.LocationProfile
	var profile, subscription []byte
	err := d.db.QueryRow(ctx, query, companyID, locationID).Scan(
		&p.CompanyID,
		&p.LocationID,
		&p.Name,
		&profile,
		&subscription,
		&p.SubscriptionError,
		&p.SyncedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location profile: %w", err)
	}
	if len(profile) > 0 {
		p.ProfileRaw = json.RawMessage(profile)
	}
	if len(subscription) > 0 {
		p.SubscriptionRaw = json.RawMessage(subscription)
	}
	return &p, nil
}

// UpsertLocationProfile replaces the snapshot for the pair.
func (d *DB) UpsertLocationProfile(ctx context.Context, p *store.LocationProfile) error {
	if p.CompanyID == "" || p.LocationID == "" {
		return fmt.Errorf("%w: location profile without company or location id", store.ErrInvalidRow)
	}

	query := `
		INSERT INTO location_profiles (company_id, location_id, name, profile_raw, subscription_raw, subscription_error, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, location_id) DO UPDATE
		SET name = EXCLUDED.name,
		    profile_raw = EXCLUDED.profile_raw,
		    subscription_raw = EXCLUDED.subscription_raw,
		    subscription_error = EXCLUDED.subscription_error,
		    synced_at = EXCLUDED.synced_at`

	_, err := d.db.Exec(ctx, query,
		p.CompanyID,
		p.LocationID,
		p.Name,
		jsonOrNil(p.ProfileRaw),
		jsonOrNil(p.SubscriptionRaw),
		p.SubscriptionError,
		p.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert location profile: %w", err)
	}
	return nil
}

func jsonOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
