// Package api exposes the transcription pipeline and the billing webhook
// over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/billing"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/pipeline"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

// Transcriber runs one upload through the job pipeline.
type Transcriber interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// EventSink applies verified billing events.
type EventSink interface {
	Apply(ctx context.Context, ev billing.Event) (billing.Outcome, error)
}

// Deps are the collaborators the HTTP layer dispatches to. Verifier and
// Events may be nil, in which case the webhook route is not mounted.
type Deps struct {
	Store       store.Store
	Policy      *tier.Policy
	Transcriber Transcriber
	Verifier    billing.Verifier
	Events      EventSink
}

// Server is the HTTP API server.
type Server struct {
	mux         *chi.Mux
	store       store.Store
	policy      *tier.Policy
	transcriber Transcriber
	verifier    billing.Verifier
	events      EventSink
	logger      *slog.Logger
	startTime   time.Time

	maxBodyBytes    int64
	maxUploadBytes  int64
	maxWebhookBytes int64
	rl              *rateLimiter
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	s := &Server{
		mux:             chi.NewRouter(),
		store:           deps.Store,
		policy:          deps.Policy,
		transcriber:     deps.Transcriber,
		verifier:        deps.Verifier,
		events:          deps.Events,
		logger:          logger.With("component", "api"),
		startTime:       time.Now(),
		maxBodyBytes:    cfg.Server.MaxBodyBytes,
		maxUploadBytes:  cfg.Upload.MaxBytes,
		maxWebhookBytes: cfg.Billing.MaxPayloadBytes,
		rl:              newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}

	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(securityHeadersMiddleware)
	s.mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	s.mux.Get("/healthz", s.handleHealthz)
	s.mux.Get("/readyz", s.handleReadyz)
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.Route("/api", func(r chi.Router) {
		r.Get("/tiers", s.handleListTiers)

		// Client-facing routes are throttled per account, or per IP when
		// no account is presented.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/transcriptions", s.handleTranscribe)
			r.Get("/entitlements/{account}", s.handleGetEntitlement)
		})

		// Stripe retries on its own schedule; the webhook is not throttled.
		if s.verifier != nil && s.events != nil {
			r.Post("/billing/webhook", s.handleBillingWebhook)
		}
	})

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of idle rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
