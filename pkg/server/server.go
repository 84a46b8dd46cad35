// Package server exposes the validation service over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantfabric/refcheck/pkg/config"
	"github.com/quantfabric/refcheck/pkg/engine"
	"github.com/quantfabric/refcheck/pkg/instrument"
	"github.com/quantfabric/refcheck/pkg/report"
)

// Server wires the HTTP routes onto the validation service.
type Server struct {
	cfg         *config.Config
	svc         *engine.Service
	instruments *instrument.Service
	persister   *report.Persister // nil when persistence is disabled
	started     time.Time

	http *http.Server
}

// New builds the server. persister may be nil.
func New(cfg *config.Config, svc *engine.Service, instruments *instrument.Service, persister *report.Persister) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		instruments: instruments,
		persister:   persister,
		started:     time.Now(),
	}
	s.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s
}

// Router assembles the chi route tree. Exposed separately so tests can
// drive it through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/instruments", func(r chi.Router) {
			r.Get("/ric/{ric}", s.handleFindByRIC)
			r.Get("/id/{id}", s.handleFindByMasterID)
			r.Get("/exchanges", s.handleExchanges)
			r.Get("/exchanges-by-region", s.handleExchangesByRegion)
			r.Get("/exchange/{exchange}", s.handleByExchange)
			r.Get("/exchange/{exchange}/filter", s.handleFilter)
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/validate/{product}/{exchange}", s.handleValidate)
			r.Post("/validate/{product}/{exchange}", s.handleValidate)
			r.Get("/validate-custom/{product}/{exchange}", s.handleValidateCustom)
			r.Post("/validate-custom/{product}/{exchange}", s.handleValidateCustom)
			r.Get("/rules/{product}/{exchange}", s.handleRules)
			r.Get("/rules-yaml/{product}/{exchange}", s.handleRulesYAML)
			r.Get("/combined-rules/{product}/{exchange}", s.handleCombinedRules)
			r.Get("/combined-rules-details/{product}/{exchange}", s.handleCombinedRuleDetails)
			r.Get("/combined-rules-details-yaml/{product}/{exchange}", s.handleCombinedRuleDetailsYAML)
			r.Get("/validate-by-masterid/{id}/{combinedRule}", s.handleValidateByMasterID)
		})
	})

	return r
}

// Start serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.http.Addr, "env", s.cfg.Environment)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("http server shutting down")
		return s.http.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
