package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/revittco/cshub/internal/api"
	"github.com/revittco/cshub/internal/auth"
	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/oauth"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Addr string `help:"Address to listen on (overrides CSHUB_HTTP_ADDR)."`
}

func (s *ServeCmd) Run(cctx *Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := cctx.load()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTPAddr = s.Addr
	}

	c, err := newCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	states, closeStates, err := newStateStore(ctx, cfg.State)
	if err != nil {
		return err
	}
	defer closeStates()

	router := api.NewRouter(api.RouterDeps{
		Store:      c.store,
		Tokens:     c.manager,
		Installer:  oauth.NewInstaller(c.manager, states, cfg.Platform.InstallURL, cfg.State.Enforce),
		Resolver:   c.resolver,
		Syncer:     c.syncer,
		Platform:   c.client,
		Gate:       auth.NewGate(cfg.Gate),
		SuccessURL: cfg.Platform.InstallSuccessURL,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening",
			"addr", cfg.HTTPAddr,
			"db_driver", cfg.DB.Driver,
			"enforce_state", cfg.State.Enforce,
			"active_key", c.codec.ActiveVersion(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newStateStore picks redis when an address is configured so every
// instance sees the same install states.
func newStateStore(ctx context.Context, cfg config.StateConfig) (oauth.StateStore, func(), error) {
	if cfg.RedisAddr == "" {
		return oauth.NewMemoryStateStore(cfg.TTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("oauth state store", "backend", "redis", "addr", cfg.RedisAddr)
	return oauth.NewRedisStateStore(client, cfg.TTL), func() { _ = client.Close() }, nil
}
