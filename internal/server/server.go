// Package server exposes the document pipeline over HTTP: uploads,
// async processing, job status, drift stats, and prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/archive"
	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/jobs"
	"github.com/sells-group/docintel/internal/monitoring"
	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Server handles the HTTP API.
type Server struct {
	store    store.Store
	queue    jobs.Queue
	engine   ocr.Engine
	recorder *monitoring.DriftRecorder
	archive  *archive.Client
	cfg      config.ServerConfig
}

// New wires the API server. queue and recorder may be nil; the
// endpoints that need them respond 503.
func New(st store.Store, q jobs.Queue, engine ocr.Engine, recorder *monitoring.DriftRecorder, cfg config.ServerConfig) *Server {
	return &Server{
		store:    st,
		queue:    q,
		engine:   engine,
		recorder: recorder,
		cfg:      cfg,
	}
}

// WithArchive attaches the object-storage client so document responses
// can carry a presigned download URL for the archived original.
func (s *Server) WithArchive(arch *archive.Client) *Server {
	s.archive = arch
	return s
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origin := s.cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents/upload", s.handleUpload)
		r.Post("/documents/process", s.handleProcess)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Get("/drift/stats", s.handleDriftStats)
		r.Post("/drift/baseline", s.handleDriftBaseline)
		r.Delete("/drift/{provider}", s.handleDriftClear)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
