package oauth

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/secrets"
	"github.com/revittco/cshub/internal/store"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory TokenStore.
type memStore struct {
	mu        sync.Mutex
	agencies  map[string]store.AgencyToken
	locations map[string]store.LocationToken
	order     []string

	failLocationWrite error
}

func newMemStore() *memStore {
	return &memStore{
		agencies:  make(map[string]store.AgencyToken),
		locations: make(map[string]store.LocationToken),
	}
}

func (m *memStore) GetAgencyToken(_ context.Context, companyID string) (*store.AgencyToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.agencies[companyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) UpsertAgencyToken(_ context.Context, t *store.AgencyToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agencies[t.CompanyID]; !ok {
		m.order = append(m.order, t.CompanyID)
	}
	m.agencies[t.CompanyID] = *t
	return nil
}

func (m *memStore) ListAgencyTokens(_ context.Context) ([]store.AgencyToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.AgencyToken, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.agencies[id])
	}
	return out, nil
}

func (m *memStore) GetLocationToken(_ context.Context, companyID, locationID string) (*store.LocationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.locations[companyID+"/"+locationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) UpsertLocationToken(_ context.Context, t *store.LocationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLocationWrite != nil {
		return m.failLocationWrite
	}
	m.locations[t.CompanyID+"/"+t.LocationID] = *t
	return nil
}

func (m *memStore) ListLocationTokens(_ context.Context) ([]store.LocationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.locations))
	for k := range m.locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]store.LocationToken, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.locations[k])
	}
	return out, nil
}

// fakePlatform records calls and returns canned grants.
type fakePlatform struct {
	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	mintCalls     atomic.Int32
	profileCalls  atomic.Int32

	exchange func(code string) (*platform.AgencyGrant, error)
	refresh  func(refreshToken string) (*platform.AgencyGrant, error)
	mint     func(req platform.LocationTokenRequest) (*platform.LocationGrant, error)
	profile  func(bearer, locationID string) (*platform.LocationProfile, error)
}

func (f *fakePlatform) ExchangeCode(_ context.Context, code string) (*platform.AgencyGrant, error) {
	f.exchangeCalls.Add(1)
	if f.exchange == nil {
		return nil, errors.New("unexpected exchange")
	}
	return f.exchange(code)
}

func (f *fakePlatform) RefreshToken(_ context.Context, refreshToken string) (*platform.AgencyGrant, error) {
	f.refreshCalls.Add(1)
	if f.refresh == nil {
		return nil, errors.New("unexpected refresh")
	}
	return f.refresh(refreshToken)
}

func (f *fakePlatform) ExchangeLocationToken(_ context.Context, req platform.LocationTokenRequest) (*platform.LocationGrant, error) {
	f.mintCalls.Add(1)
	if f.mint == nil {
		return nil, errors.New("unexpected mint")
	}
	return f.mint(req)
}

func (f *fakePlatform) GetLocationProfile(_ context.Context, bearer, locationID string) (*platform.LocationProfile, error) {
	f.profileCalls.Add(1)
	if f.profile == nil {
		return nil, errors.New("unexpected profile lookup")
	}
	return f.profile(bearer, locationID)
}

func (f *fakePlatform) upstreamCalls() int32 {
	return f.exchangeCalls.Load() + f.refreshCalls.Load() + f.mintCalls.Load() + f.profileCalls.Load()
}

type fixture struct {
	mgr      *Manager
	store    *memStore
	platform *fakePlatform
	codec    *secrets.Codec
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := secrets.NewCodec([]secrets.Key{{Version: "v1", Secret: bytes.Repeat([]byte{7}, secrets.KeySize)}}, "v1")
	require.NoError(t, err)

	f := &fixture{
		store:    newMemStore(),
		platform: &fakePlatform{},
		codec:    codec,
		clock:    &clock{t: t0},
	}
	cfg := config.PlatformConfig{AgencyTokenTTL: 3600, LocationTokenTTL: 900}
	f.mgr = NewManager(f.store, codec, f.platform, cfg, WithClock(f.clock.Now))
	return f
}

func (f *fixture) enc(t *testing.T, s string) string {
	t.Helper()
	out, err := f.codec.Encrypt(s)
	require.NoError(t, err)
	return out
}

func (f *fixture) dec(t *testing.T, s string) string {
	t.Helper()
	out, err := f.codec.Decrypt(s)
	require.NoError(t, err)
	return out
}

// seedAgency stores an agency token for companyID expiring at exp. An
// empty refresh means none.
func (f *fixture) seedAgency(t *testing.T, companyID, access, refresh string, exp time.Time) {
	t.Helper()
	row := &store.AgencyToken{
		CompanyID:      companyID,
		AccessTokenEnc: f.enc(t, access),
		ExpiresAt:      exp,
		CreatedAt:      t0.Add(-24 * time.Hour),
	}
	if refresh != "" {
		row.RefreshTokenEnc = f.enc(t, refresh)
	}
	require.NoError(t, f.store.UpsertAgencyToken(context.Background(), row))
}
