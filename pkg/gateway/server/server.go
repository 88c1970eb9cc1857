// Package server wires configuration, middleware and handlers into one
// http.Handler.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aqual-ai/aqual-gateway/pkg/core/realtime"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/config"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/handlers"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/query"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/live/sessions"
	"github.com/aqual-ai/aqual-gateway/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	dialer   realtime.Dialer
	store    *sessions.Store
	slots    *sessions.Registry
	runner   *query.Runner
	ring     *handlers.Ring
	metrics  *mw.Metrics
	registry *prometheus.Registry
}

// New assembles the gateway. Dialer may be nil when no API key is
// configured; the voice endpoints then answer 503 while health, ring
// events and TTS keep working.
func New(cfg config.Config, logger *slog.Logger, dialer realtime.Dialer, slots *sessions.Registry) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if slots == nil {
		slots = sessions.NewRegistry()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		dialer:   dialer,
		store:    sessions.NewStore(cfg.SessionTTL, cfg.SessionCap, nil),
		slots:    slots,
		ring:     handlers.NewRing(cfg.RingCapacity),
		metrics:  mw.NewMetrics(registry),
		registry: registry,
	}

	if dialer != nil {
		runner, err := query.New(query.Dependencies{
			Dialer: dialer,
			Store:  s.store,
			Logger: logger,
			Config: query.Config{
				Models:            cfg.Models(),
				SystemInstruction: cfg.SystemInstruction,
				Temperature:       cfg.Temperature,
				MaxOutputTokens:   cfg.MaxOutputTokens,
				ThinkingBudget:    cfg.ThinkingBudget,
				TurnTimeout:       cfg.TurnTimeout,
			},
		})
		if err != nil {
			return nil, err
		}
		s.runner = runner
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:  s.cfg,
		Dialer:  s.dialer,
		Store:   s.store,
		Slots:   s.slots,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	s.mux.Handle("/v1/live-query", handlers.LiveQueryHandler{
		Config: s.cfg,
		Runner: s.runner,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/speak", handlers.SpeakHandler{
		Config: s.cfg,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/ring-events/push", handlers.RingPushHandler{Ring: s.ring})
	s.mux.Handle("/v1/ring-events/poll", handlers.RingPollHandler{Ring: s.ring})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.metrics.Instrument(h)
	h = mw.CORS(s.cfg.AllowedOrigins, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
