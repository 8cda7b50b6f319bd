package oauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/secrets"
)

func TestGetAgencyAccessToken_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.platform.upstreamCalls())
}

func TestGetAgencyAccessToken_ValidityMargin(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		refreshed bool
	}{
		{"expires in 61s is valid", 61 * time.Second, false},
		{"expires in 59s is expired", 59 * time.Second, true},
		{"expires in exactly 60s is expired", 60 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedAgency(t, "C1", "a1", "r1", t0.Add(tt.expiresIn))
			f.platform.refresh = func(string) (*platform.AgencyGrant, error) {
				return &platform.AgencyGrant{AccessToken: "a2", ExpiresIn: 3600}, nil
			}

			got, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
			require.NoError(t, err)
			assert.Equal(t, tt.refreshed, got.Refreshed)
			if tt.refreshed {
				assert.Equal(t, "a2", got.AccessToken)
				assert.Equal(t, int32(1), f.platform.refreshCalls.Load())
			} else {
				assert.Equal(t, "a1", got.AccessToken)
				assert.Zero(t, f.platform.upstreamCalls())
			}
		})
	}
}

func TestGetAgencyAccessToken_RefreshWithoutRotation(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(-time.Minute))
	before, err := f.store.GetAgencyToken(context.Background(), "C1")
	require.NoError(t, err)

	f.platform.refresh = func(rt string) (*platform.AgencyGrant, error) {
		assert.Equal(t, "r1", rt)
		return &platform.AgencyGrant{AccessToken: "a2", ExpiresIn: 3600}, nil
	}

	got, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	require.NoError(t, err)
	assert.True(t, got.Refreshed)
	assert.Equal(t, "a2", got.AccessToken)

	row, err := f.store.GetAgencyToken(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "a2", f.dec(t, row.AccessTokenEnc))
	assert.Equal(t, before.RefreshTokenEnc, row.RefreshTokenEnc, "refresh ciphertext carried forward unchanged")
	assert.Equal(t, t0.Add(3600*time.Second), row.ExpiresAt)
	assert.Equal(t, before.CreatedAt, row.CreatedAt)
}

func TestGetAgencyAccessToken_RefreshRotates(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(-time.Minute))
	f.platform.refresh = func(string) (*platform.AgencyGrant, error) {
		return &platform.AgencyGrant{AccessToken: "a2", RefreshToken: "r2"}, nil
	}

	got, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	require.NoError(t, err)

	row, err := f.store.GetAgencyToken(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "r2", f.dec(t, row.RefreshTokenEnc))
	assert.Equal(t, t0.Add(time.Hour), got.ExpiresAt, "falls back to the agency ttl")
}

func TestGetAgencyAccessToken_RefreshTokenMissing(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "", t0.Add(-time.Minute))

	_, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	assert.ErrorIs(t, err, ErrRefreshTokenMissing)
	assert.Zero(t, f.platform.upstreamCalls())
}

func TestGetAgencyAccessToken_UpstreamErrorLeavesRow(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(-time.Minute))
	before, _ := f.store.GetAgencyToken(context.Background(), "C1")

	upstream := &platform.UpstreamError{Op: platform.OpRefreshToken, Status: 401, Body: `{"error":"invalid_grant"}`}
	f.platform.refresh = func(string) (*platform.AgencyGrant, error) { return nil, upstream }

	_, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	var ue *platform.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 401, ue.Status)

	after, _ := f.store.GetAgencyToken(context.Background(), "C1")
	assert.Equal(t, before, after)
}

func TestGetAgencyAccessToken_CorruptPayload(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(time.Hour))
	row, _ := f.store.GetAgencyToken(context.Background(), "C1")
	row.AccessTokenEnc = "v9:" + strings.TrimPrefix(row.AccessTokenEnc, "v1:")
	require.NoError(t, f.store.UpsertAgencyToken(context.Background(), row))

	_, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
	assert.ErrorIs(t, err, secrets.ErrUnknownKeyVersion)
}

func TestGetAgencyAccessToken_ConcurrentRefreshCollapses(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(-time.Minute))

	release := make(chan struct{})
	f.platform.refresh = func(string) (*platform.AgencyGrant, error) {
		<-release
		return &platform.AgencyGrant{AccessToken: "a2", ExpiresIn: 3600}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.mgr.GetAgencyAccessToken(context.Background(), "C1")
			if assert.NoError(t, err) {
				results[i] = got.AccessToken
			}
		}(i)
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), f.platform.refreshCalls.Load())
	for _, r := range results {
		assert.Equal(t, "a2", r)
	}
}

func TestGetAgencyAccessToken_RefreshSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	f.seedAgency(t, "C1", "a1", "r1", t0.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	f.platform.refresh = func(string) (*platform.AgencyGrant, error) {
		cancel()
		return &platform.AgencyGrant{AccessToken: "a2", ExpiresIn: 3600}, nil
	}

	_, err := f.mgr.GetAgencyAccessToken(ctx, "C1")
	require.NoError(t, err)

	row, err := f.store.GetAgencyToken(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "a2", f.dec(t, row.AccessTokenEnc))
}

func TestHandleInstall(t *testing.T) {
	t.Run("two installs leave one row with the second data", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = func(code string) (*platform.AgencyGrant, error) {
			return &platform.AgencyGrant{
				AccessToken:  "at-" + code,
				RefreshToken: "rt-" + code,
				ExpiresIn:    86400,
				CompanyID:    "C1",
				UserType:     "Company",
				Scopes:       []string{"oauth.write"},
			}, nil
		}

		for _, code := range []string{"first", "second"} {
			inst, err := f.mgr.HandleInstall(context.Background(), code)
			require.NoError(t, err)
			assert.Equal(t, "C1", inst.CompanyID)
		}

		list, err := f.store.ListAgencyTokens(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "at-second", f.dec(t, list[0].AccessTokenEnc))
		assert.Equal(t, "rt-second", f.dec(t, list[0].RefreshTokenEnc))
		assert.Equal(t, t0.Add(24*time.Hour), list[0].ExpiresAt)
		assert.Equal(t, []string{"oauth.write"}, list[0].Scopes)
	})

	t.Run("missing company id", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = func(string) (*platform.AgencyGrant, error) {
			return &platform.AgencyGrant{AccessToken: "at"}, nil
		}

		_, err := f.mgr.HandleInstall(context.Background(), "code")
		assert.ErrorIs(t, err, ErrMissingCompanyID)
		list, _ := f.store.ListAgencyTokens(context.Background())
		assert.Empty(t, list)
	})

	t.Run("install without refresh token", func(t *testing.T) {
		f := newFixture(t)
		f.platform.exchange = func(string) (*platform.AgencyGrant, error) {
			return &platform.AgencyGrant{AccessToken: "at", CompanyID: "C2"}, nil
		}

		_, err := f.mgr.HandleInstall(context.Background(), "code")
		require.NoError(t, err)
		row, err := f.store.GetAgencyToken(context.Background(), "C2")
		require.NoError(t, err)
		assert.False(t, row.HasRefreshToken())
	})
}
