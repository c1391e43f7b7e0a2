package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/service"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// DetectionHandler exposes the ingest, analysis, threat and settings
// operations over HTTP.
type DetectionHandler struct {
	ingest   *service.IngestService
	analysis *service.AnalysisService
	threats  *service.ThreatService
	settings *service.SettingsService
	logger   *zap.Logger
}

func NewDetectionHandler(
	ingest *service.IngestService,
	analysis *service.AnalysisService,
	threats *service.ThreatService,
	settings *service.SettingsService,
	logger *zap.Logger,
) *DetectionHandler {
	return &DetectionHandler{
		ingest:   ingest,
		analysis: analysis,
		threats:  threats,
		settings: settings,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all detection routes
func (h *DetectionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/observations", func(r chi.Router) {
		r.Post("/", h.IngestObservation)
		r.Post("/batch", h.IngestBatch)
		r.Get("/near", h.ObservationsNear)
	})

	router.Route("/identities/{bssid}", func(r chi.Router) {
		r.Post("/analyze", h.AnalyzeIdentity)
		r.Get("/position", h.GetTriangulatedPosition)
		r.Get("/collision", h.GetCollisionRecord)
	})

	router.Route("/threats", func(r chi.Router) {
		r.Get("/", h.GetThreats)
		r.Post("/scan", h.RunDetection)
	})

	router.Post("/feedback", h.SubmitFeedback)

	router.Delete("/exclusions/{list}/{bssid}", h.RemoveExclusion)

	router.Route("/settings/{category}", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
		r.Get("/history", h.SettingsHistory)
	})
}

// IngestObservation handles a single observation submission
func (h *DetectionHandler) IngestObservation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.ingest.Ingest(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to ingest observation")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Observation ingested"))
	h.logger.Debug("Observation ingested via HTTP",
		util.String("bssid", req.BSSID),
		util.String("status", string(result.Status)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// IngestBatch handles a batch of observations
func (h *DetectionHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var reqs []*service.ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if len(reqs) == 0 {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidObservation, "Empty batch")
		return
	}

	stats, err := h.ingest.IngestBatch(ctx, reqs)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Batch ingest failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(stats, "Batch ingested"))
	h.logger.Info("Batch ingested via HTTP",
		util.Int("total", stats.Total),
		util.Int("inserted", stats.Inserted),
		util.Int("duplicates", stats.Duplicates),
		util.Duration("duration", time.Since(startTime)),
	)
}

// ObservationsNear handles spatial-range queries
func (h *DetectionHandler) ObservationsNear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidObservation, "lat and lon are required")
		return
	}

	radiusM, _ := strconv.ParseFloat(r.URL.Query().Get("radius_m"), 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid since timestamp")
			return
		}
		since = parsed
	}

	observations, err := h.ingest.ObservationsNear(ctx, lat, lon, radiusM, since, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Spatial query failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(observations, ""))
}

// AnalyzeIdentity triggers collision + triangulation analysis for one identity
func (h *DetectionHandler) AnalyzeIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bssid := chi.URLParam(r, "bssid")

	if err := h.analysis.AnalyzeIdentity(ctx, bssid); err != nil {
		if errors.Is(err, service.ErrInsufficientData) {
			h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Insufficient data for analysis"))
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Analysis failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Identity analyzed"))
}

// GetTriangulatedPosition returns the derived position for one identity
func (h *DetectionHandler) GetTriangulatedPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bssid := chi.URLParam(r, "bssid")

	pos, err := h.analysis.GetTriangulatedPosition(ctx, bssid)
	if err != nil {
		if errors.Is(err, service.ErrInsufficientData) {
			h.respondWithError(w, http.StatusNotFound, err, "Insufficient data")
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get position")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(pos, ""))
}

// GetCollisionRecord returns the collision verdict for one identity
func (h *DetectionHandler) GetCollisionRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bssid := chi.URLParam(r, "bssid")

	rec, err := h.analysis.GetCollisionRecord(ctx, bssid)
	if err != nil {
		if errors.Is(err, service.ErrNotAnalyzed) {
			h.respondWithError(w, http.StatusNotFound, err, "Not analyzed")
			return
		}
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get collision record")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(rec, ""))
}

// GetThreats returns the ordered threat list for a category
func (h *DetectionHandler) GetThreats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	category := models.RadioCategory(r.URL.Query().Get("category"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.threats.GetThreats(ctx, category, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get threats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(records, ""))
}

// RunDetection triggers a detection sweep for a category
func (h *DetectionHandler) RunDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	category := models.RadioCategory(req.Category)
	if !category.Valid() {
		h.respondWithError(w, http.StatusBadRequest, service.ErrInvalidObservation, "Unknown category")
		return
	}

	summary, err := h.threats.RunDetection(ctx, category)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Detection sweep failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(summary, "Detection sweep complete"))
	h.logger.Info("Detection sweep via HTTP",
		util.String("category", req.Category),
		util.Int("flagged", summary.Flagged),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SubmitFeedback records an operator judgment on a threat
func (h *DetectionHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	fb, err := h.threats.SubmitFeedback(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to record feedback")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(fb, "Feedback recorded"))
}

// RemoveExclusion takes an identity off a whitelist or owned-device list
func (h *DetectionHandler) RemoveExclusion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list := chi.URLParam(r, "list")
	bssid := chi.URLParam(r, "bssid")

	if err := h.threats.RemoveExclusion(ctx, list, bssid); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to remove exclusion")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Exclusion removed"))
}

// GetSettings returns the active settings for a category
func (h *DetectionHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := models.RadioCategory(chi.URLParam(r, "category"))

	settings, err := h.settings.GetSettings(ctx, category)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(settings, ""))
}

// UpdateSettings commits a new settings version for a category
func (h *DetectionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := models.RadioCategory(chi.URLParam(r, "category"))

	var req service.SettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	settings, err := h.settings.UpdateSettings(ctx, category, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update settings")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(settings, "Settings updated"))
	h.logger.Info("Settings updated via HTTP",
		util.String("category", string(category)),
		util.Int("version", settings.Version),
	)
}

// SettingsHistory returns committed settings versions, newest first
func (h *DetectionHandler) SettingsHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := models.RadioCategory(chi.URLParam(r, "category"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.settings.SettingsHistory(ctx, category, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get settings history")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(history, ""))
}

// respondWithJSON sends a JSON response
func (h *DetectionHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *DetectionHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *DetectionHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidObservation), errors.Is(err, service.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNotAnalyzed),
		errors.Is(err, service.ErrInsufficientData):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
