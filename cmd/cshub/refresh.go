package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/store"
)

// RefreshAllCmd walks every installed company and refreshes tokens that
// are no longer usable.
type RefreshAllCmd struct {
	Concurrency int `default:"4" help:"Companies refreshed at once."`
}

func (r *RefreshAllCmd) Run(cctx *Context) error {
	ctx := context.Background()
	cfg, logger, err := cctx.load()
	if err != nil {
		return err
	}
	c, err := newCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	rep, err := refreshAll(ctx, c.store, c.manager, r.Concurrency, logger)
	if err != nil {
		return err
	}
	logger.Info("refresh-all finished",
		"companies", rep.total, "refreshed", rep.refreshed, "failed", rep.failed)
	if rep.failed > 0 {
		return fmt.Errorf("%d of %d companies failed to refresh", rep.failed, rep.total)
	}
	return nil
}

type agencyTokens interface {
	GetAgencyAccessToken(ctx context.Context, companyID string) (*oauth.AgencyAccess, error)
}

type refreshReport struct {
	total     int
	refreshed int64
	failed    int64
}

// refreshAll never stops on a single company's failure.
func refreshAll(ctx context.Context, s store.AgencyTokenStore, tokens agencyTokens, concurrency int, logger *slog.Logger) (refreshReport, error) {
	rows, err := s.ListAgencyTokens(ctx)
	if err != nil {
		return refreshReport{}, fmt.Errorf("list agency tokens: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var refreshed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, row := range rows {
		companyID := row.CompanyID
		g.Go(func() error {
			tok, err := tokens.GetAgencyAccessToken(ctx, companyID)
			if err != nil {
				failed.Add(1)
				logger.Error("agency token refresh failed", "company_id", companyID, "error", err)
				return nil
			}
			if tok.Refreshed {
				refreshed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return refreshReport{total: len(rows), refreshed: refreshed.Load(), failed: failed.Load()}, nil
}
