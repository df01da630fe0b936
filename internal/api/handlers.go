package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/archive"
	"koi-classifier/internal/batch"
	"koi-classifier/internal/catalog"
	"koi-classifier/internal/metrics"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// predictionStatus maps a prediction error onto an HTTP status.
func predictionStatus(err error) int {
	switch ml.ErrorKind(err) {
	case "featurization":
		return http.StatusUnprocessableEntity
	case "canceled":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
}

func bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)

	var obj map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		bodyError(w, err)
		return
	}
	rec, err := batch.RecordFromJSON(obj)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: ml.ErrorKind(err)})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.deps.Predictor.PredictOne(ctx, rec)
	if err != nil {
		status := predictionStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Prediction failed")
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: ml.ErrorKind(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, in *batch.Input) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	report, err := s.deps.Runner.Run(ctx, in)
	switch {
	case errors.Is(err, batch.ErrTooManyRows):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "batch run did not finish in time")
	case err != nil:
		log.Error().Err(err).Msg("Batch run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)

	in, err := batch.ReadJSON(r.Body, s.cfg.MaxBatchRows)
	if err != nil {
		if errors.Is(err, batch.ErrTooManyRows) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		bodyError(w, err)
		return
	}
	in.Source = "api"
	s.runBatch(w, r, in)
}

// uploadedFile returns the multipart field "file".
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	s.limitBody(w, r)
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		} else {
			bodyError(w, err)
		}
		return nil, nil, false
	}
	return file, header, true
}

func isCSVUpload(h *multipart.FileHeader) bool {
	ct := h.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "text/csv", "application/csv", "application/vnd.ms-excel":
		return true
	}
	return strings.HasSuffix(strings.ToLower(h.Filename), ".csv")
}

func (s *Server) handlePredictUpload(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !isCSVUpload(header) {
		writeError(w, http.StatusBadRequest, "File must be a CSV")
		return
	}

	in, err := batch.ReadCSV(file, s.cfg.MaxBatchRows)
	if err != nil {
		if errors.Is(err, batch.ErrTooManyRows) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid CSV file: %v", err))
		return
	}
	in.Source = header.Filename
	s.runBatch(w, r, in)
}

func (s *Server) handleDetectionCSV(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil || s.deps.Catalog.Len() == 0 {
		writeError(w, http.StatusServiceUnavailable, catalog.ErrCatalogUnavailable.Error())
		return
	}

	file, header, ok := s.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "File must be a CSV file")
		return
	}

	rows, summary, err := s.deps.Catalog.MatchCSV(file, s.cfg.MaxBatchRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"results": rows,
	})
}

// StarRequest is the body of /api/star-info.
type StarRequest struct {
	StarName string `json:"star_name"`
}

func (s *Server) handleStarInfo(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "stellar archive lookup is not configured")
		return
	}
	s.limitBody(w, r)

	var req StarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		bodyError(w, err)
		return
	}
	if strings.TrimSpace(req.StarName) == "" {
		writeError(w, http.StatusBadRequest, "star_name is required")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	info, err := s.deps.Archive.StarInfo(ctx, req.StarName)
	switch {
	case errors.Is(err, archive.ErrStarNotFound):
		writeError(w, http.StatusNotFound, "Star not found in NASA's archive.")
	case err != nil:
		log.Warn().Err(err).Str("star", req.StarName).Msg("Star lookup failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("An error occurred: %v", err))
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run storage is not configured")
		return
	}

	id := mux.Vars(r)["id"]
	run, err := s.deps.Runs.GetRun(id)
	if err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	preds, err := s.deps.Runs.GetPredictions(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batch.ReportFromStore(run, preds))
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status        string  `json:"status"`
	BundleVersion string  `json:"bundle_version"`
	BundleAge     string  `json:"bundle_age"`
	StatsMode     string  `json:"stats_mode"`
	Uptime        string  `json:"uptime"`
	ErrorRate     float64 `json:"error_rate"`
	CatalogSize   int     `json:"catalog_entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := s.deps.Predictor.Bundle()
	health := HealthStatus{
		Status:        "ok",
		BundleVersion: b.Version(),
		BundleAge:     b.Age().Round(time.Second).String(),
		StatsMode:     string(s.deps.Predictor.Mode()),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		ErrorRate:     metrics.GetErrorRate(s.deps.Gatherer),
	}
	if s.deps.Catalog != nil {
		health.CatalogSize = s.deps.Catalog.Len()
	}
	writeJSON(w, http.StatusOK, health)
}

// ModelInfo is the body of /model/info.
type ModelInfo struct {
	Version      string             `json:"version"`
	TrainedAt    *time.Time         `json:"trained_at,omitempty"`
	Description  string             `json:"description,omitempty"`
	FeatureNames []string           `json:"feature_names"`
	Classes      []string           `json:"classes"`
	Estimators   []string           `json:"estimators,omitempty"`
	StatsMode    string             `json:"stats_mode"`
	HasStats     bool               `json:"has_frozen_stats"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	LoadedAt     time.Time          `json:"loaded_at"`
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	b := s.deps.Predictor.Bundle()
	info := ModelInfo{
		Version:      b.Version(),
		FeatureNames: b.FeatureNames(),
		Classes:      b.Codec().Classes(),
		StatsMode:    string(s.deps.Predictor.Mode()),
		HasStats:     len(b.Stats()) > 0,
		LoadedAt:     b.LoadedAt(),
	}
	if m := b.Manifest(); m != nil {
		if !m.TrainedAt.IsZero() {
			t := m.TrainedAt
			info.TrainedAt = &t
		}
		info.Description = m.Description
		info.Metrics = m.Metrics
	}
	if ens, ok := b.Classifier().(*ml.Ensemble); ok {
		for _, est := range ens.Estimators {
			info.Estimators = append(info.Estimators, est.Name)
		}
	}
	writeJSON(w, http.StatusOK, info)
}
