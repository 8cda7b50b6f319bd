// Package syncer refreshes the stored snapshot of a location: it obtains a
// location token, reads the profile and, best effort, the subscription.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/cshub/internal/metrics"
	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/store"
)

// LocationTokens hands out location access tokens.
type LocationTokens interface {
	GetLocationAccessToken(ctx context.Context, companyID, locationID string) (*oauth.LocationAccess, error)
}

// CompanyResolver finds the owner of a location.
type CompanyResolver interface {
	Resolve(ctx context.Context, locationID string) (string, error)
}

// LocationAPI reads location data from the platform.
type LocationAPI interface {
	GetLocationProfile(ctx context.Context, bearer, locationID string) (*platform.LocationProfile, error)
	GetSubscription(ctx context.Context, bearer, locationID string) (*platform.Subscription, error)
}

// Syncer runs location syncs.
type Syncer struct {
	tokens   LocationTokens
	resolver CompanyResolver
	api      LocationAPI
	profiles store.LocationProfileStore
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Syncer. resolver may be nil, in which case every sync must
// name its company.
func New(tokens LocationTokens, resolver CompanyResolver, api LocationAPI, profiles store.LocationProfileStore, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		tokens:   tokens,
		resolver: resolver,
		api:      api,
		profiles: profiles,
		now:      time.Now,
		logger:   logger,
	}
}

// Result is a stored snapshot plus the profile fields not persisted as
// columns.
type Result struct {
	store.LocationProfile
	Email              string `json:"email,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	TokenCached        bool   `json:"token_cached"`
}

// Sync refreshes one location. An empty companyID is resolved first. A
// failed subscription lookup is recorded on the result and never fails the
// sync.
func (s *Syncer) Sync(ctx context.Context, companyID, locationID string) (*Result, error) {
	res, err := s.sync(ctx, companyID, locationID)
	switch {
	case err != nil:
		metrics.SyncRuns.WithLabelValues("error").Inc()
	case res.SubscriptionError != "":
		metrics.SyncRuns.WithLabelValues("partial").Inc()
	default:
		metrics.SyncRuns.WithLabelValues("ok").Inc()
	}
	return res, err
}

func (s *Syncer) sync(ctx context.Context, companyID, locationID string) (*Result, error) {
	if companyID == "" {
		if s.resolver == nil {
			return nil, fmt.Errorf("sync %s: company id required", locationID)
		}
		owner, err := s.resolver.Resolve(ctx, locationID)
		if err != nil {
			return nil, err
		}
		companyID = owner
	}

	tok, err := s.tokens.GetLocationAccessToken(ctx, companyID, locationID)
	if err != nil {
		return nil, err
	}

	profile, err := s.api.GetLocationProfile(ctx, tok.AccessToken, locationID)
	if err != nil {
		return nil, fmt.Errorf("fetch location profile: %w", err)
	}

	res := &Result{
		LocationProfile: store.LocationProfile{
			CompanyID:  companyID,
			LocationID: locationID,
			Name:       profile.Name,
			ProfileRaw: profile.Raw,
			SyncedAt:   s.now().UTC(),
		},
		Email:       profile.Email,
		Timezone:    profile.Timezone,
		TokenCached: tok.Cached,
	}

	sub, err := s.api.GetSubscription(ctx, tok.AccessToken, locationID)
	if err != nil {
		res.SubscriptionError = err.Error()
		s.logger.Warn("subscription lookup failed",
			"company_id", companyID, "location_id", locationID, "error", err)
	} else {
		res.SubscriptionRaw = sub.Raw
		res.SubscriptionStatus = sub.Status
	}

	if err := s.profiles.UpsertLocationProfile(ctx, &res.LocationProfile); err != nil {
		return nil, fmt.Errorf("store location profile: %w", err)
	}
	s.logger.Info("location synced",
		"company_id", companyID,
		"location_id", locationID,
		"subscription_ok", res.SubscriptionError == "",
	)
	return res, nil
}

// Outcome is one entry of a SyncAll run.
type Outcome struct {
	LocationID string
	Result     *Result
	Err        error
}

// SyncAll syncs locationIDs with at most concurrency in flight. Failures
// are reported per location and never stop the others.
func (s *Syncer) SyncAll(ctx context.Context, companyID string, locationIDs []string, concurrency int) []Outcome {
	if concurrency < 1 {
		concurrency = 1
	}
	out := make([]Outcome, len(locationIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range locationIDs {
		g.Go(func() error {
			res, err := s.Sync(ctx, companyID, id)
			out[i] = Outcome{LocationID: id, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
