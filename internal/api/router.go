package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revittco/cshub/internal/auth"
	"github.com/revittco/cshub/internal/cache"
	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/syncer"
)

// TokenManager hands out agency and location access tokens.
type TokenManager interface {
	GetAgencyAccessToken(ctx context.Context, companyID string) (*oauth.AgencyAccess, error)
	GetLocationAccessToken(ctx context.Context, companyID, locationID string) (*oauth.LocationAccess, error)
}

// InstallFlow runs the platform installation handshake.
type InstallFlow interface {
	AuthorizeURL(ctx context.Context) (string, error)
	Callback(ctx context.Context, code, state string) (*oauth.Installation, error)
	Enforced() bool
}

// CompanyResolver maps a location to the company that owns it.
type CompanyResolver interface {
	Resolve(ctx context.Context, locationID string) (string, error)
	Forget(locationID string)
	CacheStats() cache.Stats
}

// LocationSyncer refreshes a stored location snapshot.
type LocationSyncer interface {
	Sync(ctx context.Context, companyID, locationID string) (*syncer.Result, error)
}

// BreakerReporter exposes the platform circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Store      Pinger
	Tokens     TokenManager
	Installer  InstallFlow     // optional; enables /oauth routes
	Resolver   CompanyResolver // optional; enables location resolution
	Syncer     LocationSyncer  // optional; enables location sync
	Platform   BreakerReporter // optional; reported by health
	Gate       *auth.Gate
	SuccessURL string // redirect target after a completed install
	Logger     *slog.Logger
}

// NewRouter creates an http.Handler with all routes. Token and location
// routes sit behind the gate; install, health and metrics do not.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := deps.Gate
	if gate == nil {
		gate = auth.NewGate(config.GateConfig{})
	}

	mux := http.NewServeMux()

	if deps.Installer != nil {
		ih := &installHandler{flow: deps.Installer, successURL: deps.SuccessURL, logger: logger}
		mux.HandleFunc("GET /oauth/install", ih.start)
		mux.HandleFunc("GET /oauth/callback", ih.callback)
	}

	if gate.Mode() == auth.AuthModeDisabled {
		logger.Warn("internal endpoints are not gated", "header", gate.Header())
	}

	th := &tokenHandler{tokens: deps.Tokens}
	mux.HandleFunc("POST /api/v1/agency-token", gated(gate, th.agency))
	mux.HandleFunc("POST /api/v1/location-token", gated(gate, th.location))

	lh := &locationHandler{resolver: deps.Resolver, syncer: deps.Syncer}
	if deps.Resolver != nil {
		mux.HandleFunc("POST /api/v1/locations/{locationId}/resolve", gated(gate, lh.resolve))
	}
	if deps.Syncer != nil {
		mux.HandleFunc("POST /api/v1/locations/{locationId}/sync", gated(gate, lh.sync))
	}

	hh := &healthHandler{
		store:    deps.Store,
		resolver: deps.Resolver,
		install:  deps.Installer,
		platform: deps.Platform,
		mode:     gate.Mode(),
	}
	mux.HandleFunc("GET /api/v1/health", hh.get)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware chain: RequestID -> Logging -> Metrics -> mux
	var handler http.Handler = mux
	handler = metricsMiddleware(handler)
	handler = loggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)

	return handler
}
