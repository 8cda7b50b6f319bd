// Package oauth is the token lifecycle core: it hands out valid agency and
// location access tokens, refreshing or minting them against the platform
// when the stored ones are missing or expired.
package oauth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/store"
)

// Codec encrypts token material at rest.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(payload string) (string, error)
}

// Platform is the subset of the platform client the manager calls.
type Platform interface {
	ExchangeCode(ctx context.Context, code string) (*platform.AgencyGrant, error)
	RefreshToken(ctx context.Context, refreshToken string) (*platform.AgencyGrant, error)
	ExchangeLocationToken(ctx context.Context, req platform.LocationTokenRequest) (*platform.LocationGrant, error)
}

// TokenStore is the persistence the manager needs.
type TokenStore interface {
	store.AgencyTokenStore
	store.LocationTokenStore
}

// Manager owns the agency and location token state machine.
type Manager struct {
	store       TokenStore
	codec       Codec
	platform    Platform
	agencyTTL   time.Duration
	locationTTL time.Duration
	now         func() time.Time
	logger      *slog.Logger

	// Concurrent refreshes of one company, or mints of one location,
	// collapse into a single upstream call.
	agencyFlight   singleflight.Group
	locationFlight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now for validity checks and expiry math.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager. TTL fallbacks come from cfg.
func NewManager(s TokenStore, codec Codec, p Platform, cfg config.PlatformConfig, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		codec:       codec,
		platform:    p,
		agencyTTL:   cfg.AgencyTTL(),
		locationTTL: cfg.LocationTTL(),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// expiry returns now+expiresIn seconds, or now+fallback when the platform
// omitted expires_in.
func (m *Manager) expiry(now time.Time, expiresIn int64, fallback time.Duration) time.Time {
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn) * time.Second)
	}
	return now.Add(fallback)
}
