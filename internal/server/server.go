package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/datacure/livejobs/internal/broker"
	"github.com/datacure/livejobs/internal/metrics"
	"github.com/datacure/livejobs/internal/model"
	"github.com/datacure/livejobs/internal/store"
)

const gracefulShutdownTimeout = 5 * time.Second

// Submitter starts processing new jobs. *simulator.Simulator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req model.CreateJobRequest) (model.Job, error)
}

// Config holds server settings.
type Config struct {
	AllowedOrigins []string
	MetricsPath    string        // Empty disables the metrics route
	PingInterval   time.Duration // WebSocket keepalive (default: 30s)
	WriteTimeout   time.Duration // WebSocket write deadline (default: 5s)
}

// Server serves the jobfeed API.
type Server struct {
	cfg    Config
	store  store.JobStore
	jobs   Submitter
	broker broker.Broker
	logger *slog.Logger

	upgrader websocket.Upgrader
	router   chi.Router
}

// New builds a Server and its routes.
func New(cfg Config, st store.JobStore, jobs Submitter, b broker.Broker, logger *slog.Logger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		store:  st,
		jobs:   jobs,
		broker: b,
		logger: logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
		s.requestLogger,
		chiMiddleware.Recoverer,
		metrics.HTTPMiddleware,
		cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/records", s.handleListRecords)
				r.Get("/records/{recordID}", s.handleGetRecord)
				r.Get("/metrics", s.handleJobMetrics)
				r.Post("/export", s.handleExport)
			})
		})
		r.Get("/metrics/dashboard", s.handleDashboardMetrics)
		r.Get("/ws/jobs/{jobID}", s.handleJobSocket)
	})

	return r
}

// Run serves on listener until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	srv := http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutdown signal received", "reason", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		s.logger.Info("jobfeed server terminated")
	}()

	s.logger.Info("jobfeed server listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// checkOrigin accepts configured origins, same-host origins and clients
// that send no Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.EqualFold(host, r.Host)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}
