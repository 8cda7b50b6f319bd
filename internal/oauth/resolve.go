package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/revittco/cshub/internal/cache"
	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/metrics"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/store"
)

// ProfileFetcher loads a location profile with a bearer token.
type ProfileFetcher interface {
	GetLocationProfile(ctx context.Context, bearer, locationID string) (*platform.LocationProfile, error)
}

// AgencyTokenSource hands out valid agency tokens.
type AgencyTokenSource interface {
	GetAgencyAccessToken(ctx context.Context, companyID string) (*AgencyAccess, error)
}

// Resolver finds the company that owns a location by asking the platform
// on behalf of each installed company in turn.
type Resolver struct {
	agencies store.AgencyTokenStore
	tokens   AgencyTokenSource
	profiles ProfileFetcher
	limiter  *rate.Limiter
	memo     *cache.Cache[string]
	logger   *slog.Logger
}

// NewResolver creates a Resolver. Lookups are paced by cfg.Rate and
// results memoized for cfg.CacheTTL.
func NewResolver(agencies store.AgencyTokenStore, tokens AgencyTokenSource, profiles ProfileFetcher, cfg config.ResolveConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Resolver{
		agencies: agencies,
		tokens:   tokens,
		profiles: profiles,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		memo:     cache.New[string](10000, cfg.CacheTTL),
		logger:   logger,
	}
}

// Resolve returns the company id that owns locationID.
func (r *Resolver) Resolve(ctx context.Context, locationID string) (string, error) {
	companyID, err := r.memo.GetOrLoad(ctx, locationID, func(ctx context.Context) (string, error) {
		return r.scan(ctx, locationID)
	})
	if errors.Is(err, ErrLocationNotFound) {
		metrics.ResolveAttempts.WithLabelValues("not_found").Inc()
		return "", err
	}
	if err != nil {
		metrics.ResolveAttempts.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.ResolveAttempts.WithLabelValues("resolved").Inc()
	return companyID, nil
}

// Forget drops a memoized resolution, e.g. after the location moved.
func (r *Resolver) Forget(locationID string) {
	r.memo.Invalidate(locationID)
}

// CacheStats reports memo counters.
func (r *Resolver) CacheStats() cache.Stats {
	return r.memo.Stats()
}

// scan walks agency tokens in store order and stops at the first company
// whose profile lookup succeeds and agrees on ownership.
func (r *Resolver) scan(ctx context.Context, locationID string) (string, error) {
	agencies, err := r.agencies.ListAgencyTokens(ctx)
	if err != nil {
		return "", fmt.Errorf("list agency tokens: %w", err)
	}

	var lastErr error
	for i, a := range agencies {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}

		owner, err := r.try(ctx, a.CompanyID, locationID)
		if err != nil {
			lastErr = err
			r.logger.Debug("location not claimed",
				"location_id", locationID,
				"company_id", a.CompanyID,
				"attempt", i+1,
				"error", err,
			)
			continue
		}
		r.logger.Info("location resolved",
			"location_id", locationID,
			"company_id", owner,
			"attempts", i+1,
		)
		return owner, nil
	}
	return "", &LocationNotFoundError{LocationID: locationID, Tried: len(agencies), LastErr: lastErr}
}

func (r *Resolver) try(ctx context.Context, companyID, locationID string) (string, error) {
	agency, err := r.tokens.GetAgencyAccessToken(ctx, companyID)
	if err != nil {
		return "", err
	}
	p, err := r.profiles.GetLocationProfile(ctx, agency.AccessToken, locationID)
	if err != nil {
		return "", err
	}
	// An empty company id in the profile still counts: the lookup
	// succeeded with this company's credentials.
	if p.CompanyID != "" && p.CompanyID != companyID {
		return "", fmt.Errorf("location %s belongs to company %s", locationID, p.CompanyID)
	}
	return companyID, nil
}
