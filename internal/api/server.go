// Package api serves the classifier over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/archive"
	"koi-classifier/internal/batch"
	"koi-classifier/internal/catalog"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

// MetricsInterface defines metrics methods needed by the server
type MetricsInterface interface {
	RequestObserve(route string, code int, elapsed time.Duration)
	WSConnectionsAdd(delta float64)
}

// RunStore reads persisted batch runs.
type RunStore interface {
	GetRun(id string) (*storage.RunRecord, error)
	GetPredictions(id string) ([]storage.PredictionRecord, error)
}

// StarLookup resolves host star details.
type StarLookup interface {
	StarInfo(ctx context.Context, name string) (*archive.StarInfo, error)
}

// Config holds HTTP server settings.
type Config struct {
	Port           int
	AllowedOrigins []string
	MaxUploadBytes int64
	MaxBatchRows   int
	RequestTimeout time.Duration
}

// Deps are the collaborators behind the endpoints. Runs, Archive, Catalog,
// Metrics and Gatherer are optional.
type Deps struct {
	Predictor *ml.Predictor
	Runner    *batch.Runner
	Runs      RunStore
	Archive   StarLookup
	Catalog   *catalog.Catalog
	Metrics   MetricsInterface
	Gatherer  prometheus.Gatherer
}

// Server provides the HTTP API for predictions
type Server struct {
	cfg       Config
	deps      Deps
	router    *mux.Router
	server    *http.Server
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Predictor == nil || deps.Runner == nil {
		return nil, fmt.Errorf("server requires a predictor and a batch runner")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}

	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, s.corsMiddleware, s.metricsMiddleware)

	r.HandleFunc("/api/predict", s.handlePredict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/predict/batch", s.handlePredictBatch).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict", s.handlePredictUpload).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/exoplanet-detection-csv", s.handleDetectionCSV).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/star-info", s.handleStarInfo).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/runs/{id}", s.handleGetRun).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws/predict", s.handleWebSocket).Methods(http.MethodGet)
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting prediction server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
