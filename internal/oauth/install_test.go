package oauth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/platform"
)

const testInstallURL = "https://marketplace.example.com/oauth/chooselocation?response_type=code&client_id=abc"

func installGrant(string) (*platform.AgencyGrant, error) {
	return &platform.AgencyGrant{AccessToken: "at", RefreshToken: "rt", CompanyID: "C1"}, nil
}

func TestInstaller_AuthorizeURLCarriesState(t *testing.T) {
	f := newFixture(t)
	states := NewMemoryStateStore(10 * time.Minute)
	in := NewInstaller(f.mgr, states, testInstallURL, true)

	raw, err := in.AuthorizeURL(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("client_id"))
	assert.Len(t, u.Query().Get("state"), 32)
	assert.Equal(t, 1, states.Len())
}

func TestInstaller_AuthorizeURLUnconfigured(t *testing.T) {
	f := newFixture(t)
	in := NewInstaller(f.mgr, NewMemoryStateStore(time.Minute), "", true)

	_, err := in.AuthorizeURL(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestInstaller_Callback(t *testing.T) {
	t.Run("valid state is single use", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = installGrant
		in := NewInstaller(f.mgr, NewMemoryStateStore(10*time.Minute), testInstallURL, true)

		raw, err := in.AuthorizeURL(context.Background())
		require.NoError(t, err)
		u, _ := url.Parse(raw)
		state := u.Query().Get("state")

		inst, err := in.Callback(context.Background(), "code", state)
		require.NoError(t, err)
		assert.Equal(t, "C1", inst.CompanyID)

		_, err = in.Callback(context.Background(), "code", state)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, int32(1), f.platform.exchangeCalls.Load())
	})

	t.Run("unknown state rejected before exchange", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = installGrant
		in := NewInstaller(f.mgr, NewMemoryStateStore(time.Minute), testInstallURL, true)

		_, err := in.Callback(context.Background(), "code", "forged")
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Zero(t, f.platform.exchangeCalls.Load())
	})

	t.Run("enforcement disabled accepts any state", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = installGrant
		in := NewInstaller(f.mgr, NewMemoryStateStore(time.Minute), testInstallURL, false)
		assert.False(t, in.Enforced())

		inst, err := in.Callback(context.Background(), "code", "")
		require.NoError(t, err)
		assert.Equal(t, "C1", inst.CompanyID)
	})
}

func TestMemoryStateStore_Expiry(t *testing.T) {
	clk := &clock{t: t0}
	s := NewMemoryStateStore(10 * time.Minute)
	s.now = clk.Now

	state, err := s.Create(context.Background())
	require.NoError(t, err)

	clk.Advance(11 * time.Minute)
	ok, err := s.Consume(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, ok, "expired state")

	stale, err := s.Create(context.Background())
	require.NoError(t, err)
	clk.Advance(11 * time.Minute)
	_, err = s.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len(), "create sweeps expired entries")

	ok, _ = s.Consume(context.Background(), stale)
	assert.False(t, ok)
}
