package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/revittco/cshub/internal/auth"
	"github.com/revittco/cshub/internal/cache"
	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/store"
	"github.com/revittco/cshub/internal/syncer"
)

var expiresAt = time.Date(2026, 6, 1, 13, 0, 0, 0, time.UTC)

type fakeTokens struct {
	agencyErr   error
	locationErr error
	lastCompany string
}

func (f *fakeTokens) GetAgencyAccessToken(_ context.Context, companyID string) (*oauth.AgencyAccess, error) {
	f.lastCompany = companyID
	if f.agencyErr != nil {
		return nil, f.agencyErr
	}
	return &oauth.AgencyAccess{AccessToken: "agency-" + companyID, ExpiresAt: expiresAt, Refreshed: true}, nil
}

func (f *fakeTokens) GetLocationAccessToken(_ context.Context, companyID, locationID string) (*oauth.LocationAccess, error) {
	if f.locationErr != nil {
		return nil, f.locationErr
	}
	return &oauth.LocationAccess{AccessToken: "loc-" + locationID, ExpiresAt: expiresAt, Cached: true}, nil
}

type fakeInstall struct {
	err       error
	gotCode   string
	gotState  string
	authorize string
}

func (f *fakeInstall) AuthorizeURL(context.Context) (string, error) {
	return f.authorize, nil
}

func (f *fakeInstall) Enforced() bool { return true }

func (f *fakeInstall) Callback(_ context.Context, code, state string) (*oauth.Installation, error) {
	f.gotCode, f.gotState = code, state
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.Installation{CompanyID: "C1", ExpiresAt: expiresAt}, nil
}

type fakeResolver struct {
	owner     string
	err       error
	forgotten []string
}

func (f *fakeResolver) Resolve(context.Context, string) (string, error) { return f.owner, f.err }
func (f *fakeResolver) Forget(locationID string) { f.forgotten = append(f.forgotten, locationID) }
func (f *fakeResolver) CacheStats() cache.Stats { return cache.Stats{Entries: 3} }

type fakeBreaker struct{ state string }

func (f fakeBreaker) BreakerState() string { return f.state }

type fakeSyncer struct {
	gotCompany string
}

func (f *fakeSyncer) Sync(_ context.Context, companyID, locationID string) (*syncer.Result, error) {
	f.gotCompany = companyID
	return &syncer.Result{
		LocationProfile: store.LocationProfile{
			CompanyID:         "C1",
			LocationID:        locationID,
			Name:              "Shop",
			SubscriptionError: "platform subscription: status 404",
			SyncedAt:          expiresAt,
		},
		Timezone: "UTC",
	}, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testRouter struct {
	handler http.Handler
	tokens   *fakeTokens
	install  *fakeInstall
	resolver *fakeResolver
	syncer   *fakeSyncer
}

func newTestRouter(t *testing.T, secret, successURL string) *testRouter {
	t.Helper()
	tr := &testRouter{
		tokens:  &fakeTokens{},
		install:  &fakeInstall{authorize: "https://marketplace.example/install?state=abc"},
		resolver: &fakeResolver{owner: "C9"},
		syncer:   &fakeSyncer{},
	}
	tr.handler = NewRouter(RouterDeps{
		Store:      fakePinger{},
		Tokens:     tr.tokens,
		Installer:  tr.install,
		Resolver:   tr.resolver,
		Syncer:     tr.syncer,
		Platform:   fakeBreaker{state: "closed"},
		Gate:       auth.NewGate(config.GateConfig{Secret: secret}),
		SuccessURL: successURL,
	})
	return tr
}

func (tr *testRouter) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	tr.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return m
}

func TestLocationTokenEndpoint(t *testing.T) {
	secret := map[string]string{"X-Internal-Secret": "s3cret"}

	t.Run("returns token", func(t *testing.T) {
		tr := newTestRouter(t, "s3cret", "")
		rr := tr.do(http.MethodPost, "/api/v1/location-token", `{"companyId":"C1","locationId":"L1"}`, secret)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["locationAccessToken"] != "loc-L1" || body["cached"] != true {
			t.Fatalf("unexpected body %v", body)
		}
		if body["expiresAt"] != "2026-06-01T13:00:00Z" {
			t.Fatalf("unexpected expiresAt %v", body["expiresAt"])
		}
	})

	tests := []struct {
		name   string
		body   string
		header map[string]string
		err    error
		want   int
	}{
		{"missing secret", `{"companyId":"C1","locationId":"L1"}`, nil, nil, http.StatusUnauthorized},
		{"missing location", `{"companyId":"C1"}`, secret, nil, http.StatusBadRequest},
		{"malformed body", `{"companyId":`, secret, nil, http.StatusBadRequest},
		{"no agency token", `{"companyId":"C1","locationId":"L1"}`, secret, oauth.ErrNotFound, http.StatusNotFound},
		{"upstream failure", `{"companyId":"C1","locationId":"L1"}`, secret,
			&platform.UpstreamError{Op: platform.OpLocationToken, Status: http.StatusUnauthorized, Body: "bad token"}, http.StatusUnauthorized},
		{"internal failure", `{"companyId":"C1","locationId":"L1"}`, secret, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestRouter(t, "s3cret", "")
			tr.tokens.locationErr = tt.err
			rr := tr.do(http.MethodPost, "/api/v1/location-token", tt.body, tt.header)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["ok"] != false || body["error"] == "" {
				t.Fatalf("expected error envelope, got %v", body)
			}
		})
	}
}

func TestAgencyTokenEndpoint(t *testing.T) {
	tr := newTestRouter(t, "", "")
	rr := tr.do(http.MethodPost, "/api/v1/agency-token", `{"companyId":"C1"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["agencyAccessToken"] != "agency-C1" || body["refreshed"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if tr.tokens.lastCompany != "C1" {
		t.Fatalf("expected company C1, got %q", tr.tokens.lastCompany)
	}
}

func TestInstallRoutes(t *testing.T) {
	t.Run("install redirects to marketplace", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodGet, "/oauth/install", "", nil)
		if rr.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rr.Code)
		}
		if got := rr.Header().Get("Location"); got != tr.install.authorize {
			t.Fatalf("unexpected location %q", got)
		}
	})

	t.Run("callback returns json", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodGet, "/oauth/callback?code=abc&state=xyz", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["ok"] != true || body["companyId"] != "C1" {
			t.Fatalf("unexpected body %v", body)
		}
		if tr.install.gotCode != "abc" || tr.install.gotState != "xyz" {
			t.Fatalf("unexpected callback args %q %q", tr.install.gotCode, tr.install.gotState)
		}
	})

	t.Run("callback redirects to success url", func(t *testing.T) {
		tr := newTestRouter(t, "", "https://app.example/installed?from=ghl")
		rr := tr.do(http.MethodGet, "/oauth/callback?code=abc&state=xyz", "", nil)
		if rr.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rr.Code)
		}
		want := "https://app.example/installed?companyId=C1&from=ghl"
		if got := rr.Header().Get("Location"); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("missing code", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodGet, "/oauth/callback?state=xyz", "", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("invalid state", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		tr.install.err = oauth.ErrInvalidState
		rr := tr.do(http.MethodGet, "/oauth/callback?code=abc&state=bad", "", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("callback is not gated", func(t *testing.T) {
		tr := newTestRouter(t, "s3cret", "")
		rr := tr.do(http.MethodGet, "/oauth/callback?code=abc", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
}

func TestLocationRoutes(t *testing.T) {
	t.Run("resolve", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodPost, "/api/v1/locations/L1/resolve", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if body := decodeBody(t, rr); body["companyId"] != "C9" {
			t.Fatalf("unexpected body %v", body)
		}
		if len(tr.resolver.forgotten) != 0 {
			t.Fatalf("plain resolve must keep the memo, forgot %v", tr.resolver.forgotten)
		}
	})

	t.Run("resolve with refresh drops memo", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodPost, "/api/v1/locations/L1/resolve?refresh=true", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if len(tr.resolver.forgotten) != 1 || tr.resolver.forgotten[0] != "L1" {
			t.Fatalf("expected L1 forgotten, got %v", tr.resolver.forgotten)
		}
	})

	t.Run("sync without body", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodPost, "/api/v1/locations/L1/sync", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["locationId"] != "L1" || body["subscriptionError"] == nil {
			t.Fatalf("unexpected body %v", body)
		}
		if tr.syncer.gotCompany != "" {
			t.Fatalf("expected empty company, got %q", tr.syncer.gotCompany)
		}
	})

	t.Run("sync with company", func(t *testing.T) {
		tr := newTestRouter(t, "", "")
		rr := tr.do(http.MethodPost, "/api/v1/locations/L1/sync", `{"companyId":"C1"}`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if tr.syncer.gotCompany != "C1" {
			t.Fatalf("expected company C1, got %q", tr.syncer.gotCompany)
		}
	})
}

func TestHealth(t *testing.T) {
	tr := newTestRouter(t, "s3cret", "")
	rr := tr.do(http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ok" || body["auth_mode"] != "shared_secret" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["breaker"] != "closed" || body["enforce_state"] != true {
		t.Fatalf("expected breaker and state enforcement in health, got %v", body)
	}

	h := NewRouter(RouterDeps{Store: fakePinger{err: errors.New("closed")}, Tokens: &fakeTokens{}})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tr := newTestRouter(t, "", "")
	tr.do(http.MethodGet, "/api/v1/health", "", nil)
	rr := tr.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cshub_http_requests_total") {
		t.Fatal("expected http request counter in metrics output")
	}
}
