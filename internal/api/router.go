// Package api exposes the aggregation pipeline over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/monitoring"
	"github.com/sells-group/vose-cli/internal/validate"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Runner runs a scrape. *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, sources []model.SourceID) *model.ScrapingResult
	Sources() []model.SourceID
}

// Options holds the server's collaborators.
type Options struct {
	Runner         Runner
	Detector       *classify.Detector
	Engine         *validate.Engine
	Collector      *monitoring.Collector
	LookbackRuns   int
	AllowedOrigins []string
}

// Server serves the HTTP API.
type Server struct {
	opts Options
}

// New creates a Server. Nil detector and engine select the defaults.
func New(opts Options) *Server {
	if opts.Detector == nil {
		opts.Detector = classify.New(nil, nil)
	}
	if opts.Engine == nil {
		opts.Engine = validate.New(validate.DefaultSettings(), validate.WithDetector(opts.Detector))
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{opts: opts}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape", s.handleScrape)
		r.Get("/status", s.handleStatus)
		r.Post("/detect", s.handleDetect)
		r.Post("/validate", s.handleValidate)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
