// Package server ties the AutoEcho components together into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/admission"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/api"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/artifact"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/asset"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/billing"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/engine"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/pipeline"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/probe"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

const (
	purgeInterval   = time.Hour
	shutdownTimeout = 30 * time.Second
)

// Components are the wired building blocks shared by the HTTP server and
// the offline CLI.
type Components struct {
	Store    store.Store
	Policy   *tier.Policy
	Pipeline *pipeline.Pipeline
	Ingestor *billing.Ingestor
	Engine   engine.Engine
}

// Option overrides a component, mainly for tests.
type Option func(*buildOptions)

type buildOptions struct {
	engine engine.Engine
	probe  admission.DurationProbe
	store  store.Store
}

// WithEngine replaces the configured transcription engine.
func WithEngine(e engine.Engine) Option {
	return func(o *buildOptions) { o.engine = e }
}

// WithProbe replaces the duration probe.
func WithProbe(p admission.DurationProbe) Option {
	return func(o *buildOptions) { o.probe = p }
}

// WithStore replaces the configured entitlement store.
func WithStore(s store.Store) Option {
	return func(o *buildOptions) { o.store = s }
}

// Build constructs the components described by cfg. The caller owns
// Components.Store and must close it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Components, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := cfg.TierPolicy()
	if err != nil {
		return nil, fmt.Errorf("build tier policy: %w", err)
	}

	st := o.store
	if st == nil {
		st, err = openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	eng := o.engine
	if eng == nil {
		eng, err = engine.New(cfg.Engine, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init engine: %w", err)
		}
	}

	var prb admission.DurationProbe = o.probe
	if prb == nil {
		prb = probe.New(cfg.Probe.FFprobeBinary, logger)
	}

	renderer, err := artifact.NewRenderer(cfg.Artifact.Format)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	p := pipeline.New(pipeline.Config{
		Validator: asset.NewValidator(cfg.Upload.NormalizedExtensions(), cfg.Upload.MaxBytes),
		Admission: admission.New(store.Entitlements{Store: st}, policy, prb, logger),
		Pool:      engine.NewPool(cfg.Engine.Workers, cfg.Engine.QueueDepth),
		Engine:    eng,
		Composer:  artifact.NewComposer(policy, renderer),
		Auditor:   st,
		TempDir:   cfg.Upload.TempDir,
		Timeout:   cfg.Engine.JobTimeout.Duration,
		Logger:    logger,
	})

	return &Components{
		Store:    st,
		Policy:   policy,
		Pipeline: p,
		Ingestor: billing.NewIngestor(st, policy, logger),
		Engine:   eng,
	}, nil
}

// openStore opens the configured database, fronted by Redis when a cache
// address is set.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if cfg.Cache.RedisAddr == "" {
		return db, nil
	}
	client := store.NewRedisClient(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	cached, err := store.NewCached(ctx, db, client, cfg.Cache.TTL.Duration, logger)
	if err != nil {
		_ = client.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init tier cache: %w", err)
	}
	return cached, nil
}

// Server is the long-running AutoEcho HTTP service.
type Server struct {
	cfg        *config.Config
	components *Components
	api        *api.Server
	logger     *slog.Logger
}

// New builds the service from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	c, err := Build(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	deps := api.Deps{
		Store:       c.Store,
		Policy:      c.Policy,
		Transcriber: c.Pipeline,
	}
	if cfg.Billing.Enabled {
		deps.Verifier = billing.NewStripeVerifier(cfg.Billing.StripeWebhookSecret)
		deps.Events = c.Ingestor
	}

	s := &Server{
		cfg:        cfg,
		components: c,
		api:        api.NewServer(deps, cfg, logger),
		logger:     logger.With("component", "server"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			s.logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if !cfg.Billing.Enabled {
		s.logger.Info("billing webhook disabled, tiers change only through the store")
	}
	s.logger.Info("transcription engine ready", "engine", c.Engine.Name())

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.api.Handler()
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully and
// closes the store.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.api.StartBackgroundTasks(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("autoecho listening", "addr", s.cfg.Server.Addr)
		var err error
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			err = srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			s.logger.Info("http server stopped gracefully")
		}
		return nil
	})

	if s.cfg.Storage.AuditRetention.Duration > 0 {
		g.Go(func() error {
			s.runRetentionPurger(gctx, purgeInterval, s.cfg.Storage.AuditRetention.Duration)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("closing store")
	if cerr := s.components.Store.Close(); cerr != nil {
		s.logger.Warn("failed to close store", "error", cerr)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) runRetentionPurger(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeAudit(ctx, retention)
		}
	}
}

func (s *Server) purgeAudit(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	if n, err := s.components.Store.PurgeOldAuditEvents(ctx, cutoff); err != nil {
		s.logger.Warn("retention purge: audit events failed", "error", err)
	} else if n > 0 {
		s.logger.Info("retention purge: deleted old audit events", "count", n)
	}
}
