package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/cshub/internal/secrets"
	"github.com/revittco/cshub/internal/store"
)

// RotateKeysCmd re-encrypts every stored token whose payload was not
// written with the active key.
type RotateKeysCmd struct {
	DryRun      bool `name:"dry-run" help:"Report what would change without writing."`
	Concurrency int  `default:"4" help:"Rows rewritten at once."`
}

func (r *RotateKeysCmd) Run(cctx *Context) error {
	ctx := context.Background()
	cfg, logger, err := cctx.load()
	if err != nil {
		return err
	}
	codec, err := secrets.NewCodecFromConfig(cfg.Keys)
	if err != nil {
		return fmt.Errorf("key ring: %w", err)
	}
	s, err := openStore(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rep, err := rotateTokens(ctx, s, codec, r.DryRun, r.Concurrency)
	if err != nil {
		return err
	}
	logger.Info("rotate-keys finished",
		"active_key", codec.ActiveVersion(),
		"dry_run", r.DryRun,
		"agency_rotated", rep.agency.Load(),
		"location_rotated", rep.location.Load(),
	)
	return nil
}

type rotationStore interface {
	store.AgencyTokenStore
	store.LocationTokenStore
}

type rotationReport struct {
	agency   atomic.Int64
	location atomic.Int64
}

// rotateTokens stops at the first row that cannot be re-encrypted. The
// listing only selects candidates: each row is read again right before it
// is rewritten, so a refresh that lands in between is kept.
func rotateTokens(ctx context.Context, s rotationStore, codec *secrets.Codec, dryRun bool, concurrency int) (*rotationReport, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	agencies, err := s.ListAgencyTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agency tokens: %w", err)
	}
	locations, err := s.ListLocationTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list location tokens: %w", err)
	}

	rep := &rotationReport{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, listed := range agencies {
		if !agencyNeedsRotation(codec, &listed) {
			continue
		}
		companyID := listed.CompanyID
		g.Go(func() error {
			rotated, err := rotateAgency(gctx, s, codec, companyID, dryRun)
			if err != nil {
				return err
			}
			if rotated {
				rep.agency.Add(1)
				slog.Debug("agency token rotated", "company_id", companyID, "dry_run", dryRun)
			}
			return nil
		})
	}

	for _, listed := range locations {
		if !codec.NeedsRotation(listed.AccessTokenEnc) {
			continue
		}
		companyID, locationID := listed.CompanyID, listed.LocationID
		g.Go(func() error {
			rotated, err := rotateLocation(gctx, s, codec, companyID, locationID, dryRun)
			if err != nil {
				return err
			}
			if rotated {
				rep.location.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return rep, err
	}
	return rep, nil
}

func agencyNeedsRotation(codec *secrets.Codec, row *store.AgencyToken) bool {
	return codec.NeedsRotation(row.AccessTokenEnc) ||
		(row.HasRefreshToken() && codec.NeedsRotation(row.RefreshTokenEnc))
}

// rotateAgency re-encrypts the current row for companyID. A row that was
// rewritten under the active key since listing is left alone.
func rotateAgency(ctx context.Context, s rotationStore, codec *secrets.Codec, companyID string, dryRun bool) (bool, error) {
	row, err := s.GetAgencyToken(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("agency %s: %w", companyID, err)
	}
	if !agencyNeedsRotation(codec, row) {
		return false, nil
	}

	access, err := reencrypt(codec, row.AccessTokenEnc)
	if err != nil {
		return false, fmt.Errorf("agency %s access token: %w", companyID, err)
	}
	refresh := row.RefreshTokenEnc
	if refresh != "" {
		if refresh, err = reencrypt(codec, refresh); err != nil {
			return false, fmt.Errorf("agency %s refresh token: %w", companyID, err)
		}
	}
	if dryRun {
		return true, nil
	}
	row.AccessTokenEnc, row.RefreshTokenEnc = access, refresh
	if err := s.UpsertAgencyToken(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func rotateLocation(ctx context.Context, s rotationStore, codec *secrets.Codec, companyID, locationID string, dryRun bool) (bool, error) {
	row, err := s.GetLocationToken(ctx, companyID, locationID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("location %s/%s: %w", companyID, locationID, err)
	}
	if !codec.NeedsRotation(row.AccessTokenEnc) {
		return false, nil
	}

	access, err := reencrypt(codec, row.AccessTokenEnc)
	if err != nil {
		return false, fmt.Errorf("location %s/%s: %w", companyID, locationID, err)
	}
	if dryRun {
		return true, nil
	}
	row.AccessTokenEnc = access
	if err := s.UpsertLocationToken(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

// reencrypt keeps already-current payloads as they are.
func reencrypt(codec *secrets.Codec, payload string) (string, error) {
	if !codec.NeedsRotation(payload) {
		return payload, nil
	}
	plain, err := codec.Decrypt(payload)
	if err != nil {
		return "", err
	}
	return codec.Encrypt(plain)
}
