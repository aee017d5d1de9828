package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
)

// DetectorHandler exposes Detector/DetectorConfig CRUD (§6.1).
type DetectorHandler struct {
	Detectors data.DetectorModel
	Configs   data.DetectorConfigModel
}

func NewDetectorHandler(detectors data.DetectorModel, configs data.DetectorConfigModel) *DetectorHandler {
	return &DetectorHandler{Detectors: detectors, Configs: configs}
}

// POST /api/v1/detectors
func (h *DetectorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string   `json:"name"`
		GroupName           string   `json:"group_name"`
		QueryText           string   `json:"query_text"`
		Mode                string   `json:"mode"`
		ClassNames          []string `json:"class_names"`
		ConfidenceThreshold float64  `json:"confidence_threshold"`
		PatienceTime        float64  `json:"patience_time"`
		PrimaryModelPath    string   `json:"primary_model_path"`
		OODDModelPath       string   `json:"oodd_model_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	mode, ok := data.ParseDetectionMode(req.Mode)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid mode")
		return
	}
	if req.ConfidenceThreshold <= 0 {
		req.ConfidenceThreshold = 0.9
	}

	d := &data.Detector{
		Name:                req.Name,
		GroupName:           req.GroupName,
		QueryText:           req.QueryText,
		Mode:                mode,
		ClassNames:          req.ClassNames,
		ConfidenceThreshold: req.ConfidenceThreshold,
		PatienceTime:        req.PatienceTime,
		PrimaryModelPath:    req.PrimaryModelPath,
		OODDModelPath:       req.OODDModelPath,
	}
	if err := h.Detectors.Create(r.Context(), d); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create detector")
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// GET /api/v1/detectors/{id}
func (h *DetectorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	d, err := h.Detectors.GetByID(r.Context(), id)
	if err == data.ErrRecordNotFound {
		respondError(w, http.StatusNotFound, "detector not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load detector")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// GET /api/v1/detectors
func (h *DetectorHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.Detectors.List(r.Context(), 100, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list detectors")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// DELETE /api/v1/detectors/{id}
func (h *DetectorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.Detectors.SoftDelete(r.Context(), id); err == data.ErrRecordNotFound {
		respondError(w, http.StatusNotFound, "detector not found")
		return
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete detector")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/v1/detectors/{id}/config
func (h *DetectorHandler) UpsertConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		PerClassThreshold map[string]float64 `json:"per_class_thresholds"`
		InputSize         int                `json:"input_size"`
		DetectionParams   data.DetectionParams `json:"detection_params"`
		EdgeInferenceMode string             `json:"edge_inference_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.InputSize <= 0 {
		req.InputSize = 640
	}
	if req.DetectionParams == (data.DetectionParams{}) {
		req.DetectionParams = data.DefaultDetectionParams()
	}

	cfg := &data.DetectorConfig{
		DetectorID:        id,
		PerClassThreshold: req.PerClassThreshold,
		InputSize:         req.InputSize,
		DetectionParams:   req.DetectionParams,
		EdgeInferenceMode: req.EdgeInferenceMode,
	}
	if err := h.Configs.Upsert(r.Context(), cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save detector config")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}
