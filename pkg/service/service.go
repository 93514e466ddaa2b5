// Package service assembles the coordination substrate (message bus, tiered
// memory store, cleanup loop, and health surface) behind an explicit
// construct/start/shutdown lifecycle. Agent adapters receive the bus and
// store by injection; nothing here is process-global.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-agent-substrate/pkg/memorystore"
	"github.com/illmade-knight/go-agent-substrate/pkg/messagebus"
)

// Substrate owns the bus and store instances for one process.
type Substrate struct {
	Logger zerolog.Logger

	cfg   Config
	bus   *messagebus.Bus
	store *memorystore.TieredStore

	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex

	cleanupCancel context.CancelFunc
	cleanupDone   <-chan struct{}
}

// New wires the tiers the config enables and constructs the bus and store.
// Tier connections are verified here, so a misconfigured external tier fails
// at startup rather than degrading silently forever.
func New(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Substrate, error) {
	var cache memorystore.CacheTier
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("redis_address", opts.Addr).Msg("Successfully connected to Redis.")
		cache = memorystore.NewRedisTierFromClient(client, logger)
	}

	var durable memorystore.DurableTier
	switch {
	case cfg.DatabaseURL != "":
		tier, err := memorystore.NewPostgresTier(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		durable = tier
	case cfg.SQLitePath != "":
		tier, err := memorystore.NewSQLiteTier(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		durable = tier
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", HealthzHandler)

	return &Substrate{
		Logger: logger,
		cfg:    *cfg,
		bus:    messagebus.New(nil, logger),
		store:  memorystore.NewTieredStore(cache, durable, logger),
		mux:    mux,
		httpServer: &http.Server{
			Addr:    cfg.HTTPPort,
			Handler: mux,
		},
	}, nil
}

// Bus returns the process's message bus.
func (s *Substrate) Bus() *messagebus.Bus { return s.bus }

// Store returns the process's tiered memory store.
func (s *Substrate) Store() *memorystore.TieredStore { return s.store }

// Mux returns the underlying ServeMux so callers can add admin handlers.
func (s *Substrate) Mux() *http.ServeMux { return s.mux }

// Start begins serving the health surface and launches the periodic
// expired-entry sweep.
func (s *Substrate) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	if s.cfg.CleanupInterval > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		s.cleanupCancel = cancel
		s.cleanupDone = s.store.StartCleanup(cleanupCtx, s.cfg.CleanupInterval)
	}
	return nil
}

// Shutdown stops the HTTP server, the cleanup loop, and releases the tier
// connections, respecting the provided context's deadline.
func (s *Substrate) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down substrate service...")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		errs = append(errs, err)
	}

	if s.cleanupCancel != nil {
		s.cleanupCancel()
		select {
		case <-s.cleanupDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timed out waiting for cleanup loop: %w", ctx.Err()))
		}
	}

	if err := s.store.Close(); err != nil {
		s.Logger.Error().Err(err).Msg("Error closing memory store tiers.")
		errs = append(errs, err)
	}

	s.Logger.Info().Msg("Substrate service stopped.")
	return errors.Join(errs...)
}

// GetHTTPPort returns the actual port the server is listening on, which
// differs from the configured one when ":0" was requested.
func (s *Substrate) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.cfg.HTTPPort
	}
	return ":" + port
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
