package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/oauth"
	"github.com/revittco/cshub/internal/platform"
	"github.com/revittco/cshub/internal/secrets"
	"github.com/revittco/cshub/internal/store"
	"github.com/revittco/cshub/internal/store/postgres"
	"github.com/revittco/cshub/internal/store/sqlite"
	"github.com/revittco/cshub/internal/syncer"
)

// Context is shared by every command.
type Context struct {
	EnvFile string
}

// load reads the env file, parses configuration and installs the default
// logger.
func (c *Context) load() (*config.Config, *slog.Logger, error) {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", c.EnvFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.DBConfig) (store.Store, error) {
	if cfg.Driver == "postgres" {
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := sqlite.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// core is the wired token service.
type core struct {
	store    store.Store
	codec    *secrets.Codec
	client   *platform.Client
	manager  *oauth.Manager
	resolver *oauth.Resolver
	syncer   *syncer.Syncer
}

func newCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	codec, err := secrets.NewCodecFromConfig(cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("key ring: %w", err)
	}
	client, err := platform.New(cfg.Platform, platform.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	s, err := openStore(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	m := oauth.NewManager(s, codec, client, cfg.Platform, oauth.WithLogger(logger))
	r := oauth.NewResolver(s, m, client, cfg.Resolve, logger)
	return &core{
		store:    s,
		codec:    codec,
		client:   client,
		manager:  m,
		resolver: r,
		syncer:   syncer.New(m, r, client, s, logger),
	}, nil
}

func (c *core) Close() error {
	return c.store.Close()
}
