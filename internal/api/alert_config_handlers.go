package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
)

// AlertConfigHandler exposes DetectorAlertConfig CRUD (§6.1).
type AlertConfigHandler struct {
	Configs data.AlertConfigModel
}

func NewAlertConfigHandler(configs data.AlertConfigModel) *AlertConfigHandler {
	return &AlertConfigHandler{Configs: configs}
}

// POST /api/v1/detectors/{id}/alert-configs
func (h *AlertConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	detectorID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detector id")
		return
	}

	var req struct {
		Name             string               `json:"name"`
		Condition        string               `json:"condition"`
		ConditionLabel   string               `json:"condition_label"`
		ConditionValue   float64              `json:"condition_value"`
		ConsecutiveCount int                  `json:"consecutive_count"`
		WindowSeconds    int                  `json:"window_seconds"`
		CooldownSeconds  int                  `json:"cooldown_seconds"`
		Channels         []data.AlertChannel  `json:"channels"`
		Destination      string               `json:"destination"`
		Enabled          bool                 `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ConsecutiveCount <= 0 {
		req.ConsecutiveCount = 1
	}
	if req.CooldownSeconds <= 0 {
		req.CooldownSeconds = 300
	}

	cfg := &data.DetectorAlertConfig{
		DetectorID:       detectorID,
		Name:             req.Name,
		Condition:        data.AlertCondition(req.Condition),
		ConditionLabel:   req.ConditionLabel,
		ConditionValue:   req.ConditionValue,
		ConsecutiveCount: req.ConsecutiveCount,
		WindowSeconds:    req.WindowSeconds,
		CooldownSeconds:  req.CooldownSeconds,
		Channels:         req.Channels,
		Destination:      req.Destination,
		Enabled:          req.Enabled,
	}
	if err := h.Configs.Create(r.Context(), cfg); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create alert config")
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

// GET /api/v1/detectors/{id}/alert-configs
func (h *AlertConfigHandler) ListForDetector(w http.ResponseWriter, r *http.Request) {
	detectorID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detector id")
		return
	}
	list, err := h.Configs.ListEnabledByDetector(r.Context(), detectorID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list alert configs")
		return
	}
	respondJSON(w, http.StatusOK, list)
}
