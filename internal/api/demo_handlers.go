package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/demo"
)

// DemoHandler exposes the Demo Session Manager (C12, §6.3).
type DemoHandler struct {
	Manager *demo.Manager
}

func NewDemoHandler(manager *demo.Manager) *DemoHandler {
	return &DemoHandler{Manager: manager}
}

// POST /api/v1/demo-sessions
func (h *DemoHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceURL         string   `json:"source_url"`
		DetectorIDs       []string `json:"detector_ids"`
		PollingIntervalMS int      `json:"polling_interval_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.DetectorIDs))
	for _, s := range req.DetectorIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid detector id: "+s)
			return
		}
		ids = append(ids, id)
	}
	if req.PollingIntervalMS <= 0 {
		req.PollingIntervalMS = 1000
	}

	session, err := h.Manager.Start(r.Context(), req.SourceURL, ids, req.PollingIntervalMS)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start demo session")
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// POST /api/v1/demo-sessions/{id}/stop
func (h *DemoHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.Manager.Stop(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to stop demo session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/demo-sessions/{id}/status
func (h *DemoHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"active": h.Manager.IsActive(id)})
}
