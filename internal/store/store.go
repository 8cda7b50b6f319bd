package store

import "context"

// Store is the composite interface for all data access.
type Store interface {
	AgencyTokenStore
	LocationTokenStore
	LocationProfileStore
	Ping(ctx context.Context) error
	Close() error
}

// AgencyTokenStore manages agency token rows keyed by company id.
type AgencyTokenStore interface {
	GetAgencyToken(ctx context.Context, companyID string) (*AgencyToken, error)
	// UpsertAgencyToken replaces the whole row for t.CompanyID.
	UpsertAgencyToken(ctx context.Context, t *AgencyToken) error
	ListAgencyTokens(ctx context.Context) ([]AgencyToken, error)
}

// LocationTokenStore manages location token rows keyed by company and
// location id.
type LocationTokenStore interface {
	GetLocationToken(ctx context.Context, companyID, locationID string) (*LocationToken, error)
	// UpsertLocationToken replaces the whole row for the pair.
	UpsertLocationToken(ctx context.Context, t *LocationToken) error
	ListLocationTokens(ctx context.Context) ([]LocationToken, error)
}

// LocationProfileStore manages synced location snapshots.
type LocationProfileStore interface {
	GetLocationProfile(ctx context.Context, companyID, locationID string) (*LocationProfile, error)
	UpsertLocationProfile(ctx context.Context, p *LocationProfile) error
}
