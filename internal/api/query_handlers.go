package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/queries"
)

// QueryHandler exposes the Query Pipeline over HTTP (§6.1, §6.2).
type QueryHandler struct {
	Pipeline *queries.Pipeline
	Queries  data.QueryModel
	Feedback data.FeedbackModel
}

func NewQueryHandler(pipeline *queries.Pipeline, queryModel data.QueryModel, feedback data.FeedbackModel) *QueryHandler {
	return &QueryHandler{Pipeline: pipeline, Queries: queryModel, Feedback: feedback}
}

const maxUploadBytes = 20 << 20 // 20MB, a generous ceiling for a single detection frame

// POST /api/v1/queries (multipart: detector_id, camera_id?, want_async?, image file)
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	detectorID, err := uuid.Parse(r.FormValue("detector_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detector_id")
		return
	}

	var cameraID *uuid.UUID
	if v := r.FormValue("camera_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid camera_id")
			return
		}
		cameraID = &id
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	wantAsync, _ := strconv.ParseBool(r.FormValue("want_async"))

	q, err := h.Pipeline.Submit(r.Context(), queries.Submission{
		DetectorID: detectorID,
		CameraID:   cameraID,
		CameraName: r.FormValue("camera_name"),
		Filename:   header.Filename,
		ImageBytes: imageBytes,
		WantAsync:  wantAsync,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, q)
}

// GET /api/v1/queries/{id}
func (h *QueryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	q, err := h.Queries.GetByID(r.Context(), id)
	if err == data.ErrRecordNotFound {
		respondError(w, http.StatusNotFound, "query not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load query")
		return
	}
	respondJSON(w, http.StatusOK, q)
}

// GET /api/v1/detectors/{id}/queries
func (h *QueryHandler) ListByDetector(w http.ResponseWriter, r *http.Request) {
	detectorID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detector id")
		return
	}
	list, err := h.Queries.ListByDetector(r.Context(), detectorID, 50, 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list queries")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// DELETE /api/v1/queries/{id}
func (h *QueryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.Pipeline.Delete(r.Context(), h.Feedback, id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete query")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/queries/{id}/feedback
func (h *QueryHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Label   string `json:"label"`
		Correct bool   `json:"correct"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	fb := &data.Feedback{QueryID: id, Label: req.Label, Correct: req.Correct, Notes: req.Notes}
	if err := h.Feedback.Create(r.Context(), fb); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	respondJSON(w, http.StatusCreated, fb)
}

// POST /api/v1/queries/{id}/ground-truth
func (h *QueryHandler) ApplyGroundTruth(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		GroundTruth string `json:"ground_truth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	correct, err := h.Pipeline.ApplyGroundTruth(r.Context(), id, req.GroundTruth)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to apply ground truth")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"is_correct": correct})
}
