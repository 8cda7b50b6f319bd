package main

import (
	"context"
	"fmt"
)

// SyncCmd refreshes stored profiles for the given locations.
type SyncCmd struct {
	Company     string   `help:"Owning company id. Resolved per location when empty."`
	Concurrency int      `default:"4" help:"Locations synced at once."`
	Locations   []string `arg:"" name:"location" help:"Location ids to sync."`
}

func (s *SyncCmd) Run(cctx *Context) error {
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

	var failed int
	for _, o := range c.syncer.SyncAll(ctx, s.Company, s.Locations, s.Concurrency) {
		if o.Err != nil {
			failed++
			logger.Error("location sync failed", "location_id", o.LocationID, "error", o.Err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", o.LocationID, o.Result.CompanyID, o.Result.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d locations failed to sync", failed, len(s.Locations))
	}
	return nil
}
