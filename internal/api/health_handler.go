package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/revittco/cshub/internal/auth"
	"github.com/revittco/cshub/internal/cache"
)

// Version is reported by the health endpoint; set at link time.
var Version = "dev"

var startTime = time.Now()

type healthHandler struct {
	store    Pinger
	resolver CompanyResolver
	install  InstallFlow
	platform BreakerReporter
	mode     auth.AuthMode
}

type healthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int          `json:"uptime_seconds"`
	AuthMode      string       `json:"auth_mode"`
	Store         string       `json:"store"`
	Breaker       string       `json:"breaker,omitempty"`
	EnforceState  *bool        `json:"enforce_state,omitempty"`
	ResolverCache *cache.Stats `json:"resolver_cache,omitempty"`
}

func (h *healthHandler) get(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int(time.Since(startTime).Seconds()),
		AuthMode:      h.mode.String(),
		Store:         "ok",
	}
	status := http.StatusOK

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = "unreachable"
			slog.Warn("health check: store ping failed", "error", err)
			status = http.StatusServiceUnavailable
		}
	}
	if h.platform != nil {
		resp.Breaker = h.platform.BreakerState()
	}
	if h.install != nil {
		enforced := h.install.Enforced()
		resp.EnforceState = &enforced
	}
	if h.resolver != nil {
		st := h.resolver.CacheStats()
		resp.ResolverCache = &st
	}
	writeJSON(w, status, resp)
}
