package assembler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sync-assembler/internal/audio"

	"github.com/go-chi/chi/v5"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "absolute-sync-assembler"

// Handler exposes assembly HTTP endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler that uses the given Service and Logger.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type assembleRequest struct {
	ProjectID  string      `json:"project_id"`
	ContextMap *ContextMap `json:"context_map,omitempty"`
	OutputPath string      `json:"output_path"`
}

type validateRequest struct {
	AudioPath          string `json:"audio_path"`
	ExpectedDurationMs int64  `json:"expected_duration_ms"`
	ToleranceMs        *int64 `json:"tolerance_ms,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

// Assemble handles POST /assemble.
// Body: { "project_id": "p1", "context_map": {...}, "output_path": "/out/p1.wav" }.
func (h *Handler) Assemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid assemble body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	if req.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "project_id is required"})
		return
	}
	if req.OutputPath == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "output_path is required"})
		return
	}

	rep, err := h.svc.Assemble(r.Context(), req.ProjectID, req.ContextMap, req.OutputPath)
	switch {
	case errors.Is(err, ErrContextMapNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	case errors.Is(err, ErrRunInProgress):
		h.log.Info("assemble rejected", slog.String("project_id", req.ProjectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case err != nil:
		h.log.Error("assemble failed", slog.String("project_id", req.ProjectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	status := http.StatusOK
	if !rep.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, rep)
}

// Validate handles POST /validate.
// Body: { "audio_path": "/out/p1.wav", "expected_duration_ms": 10000, "tolerance_ms": 10 }.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AudioPath == "" || req.ExpectedDurationMs <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"valid": false,
			"error": "audio_path and expected_duration_ms are required",
		})
		return
	}
	tol := int64(-1)
	if req.ToleranceMs != nil {
		tol = *req.ToleranceMs
	}

	check, err := h.svc.ValidateDuration(r.Context(), req.AudioPath, req.ExpectedDurationMs, tol)
	if err != nil {
		h.log.Warn("validate failed", slog.String("audio_path", req.AudioPath), slog.String("error", err.Error()))
		status := http.StatusInternalServerError
		if errors.Is(err, audio.ErrInvalidDuration) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// PutContextMap handles PUT /projects/{project_id}/context-map.
func (h *Handler) PutContextMap(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if projectID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var cm ContextMap
	if err := json.NewDecoder(r.Body).Decode(&cm); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid context map: " + err.Error()})
		return
	}
	if cm.ProjectID == "" {
		cm.ProjectID = projectID
	}
	if cm.ProjectID != projectID {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "project_id does not match path"})
		return
	}

	if err := h.svc.PutContextMap(&cm); err != nil {
		h.log.Error("store context map failed", slog.String("project_id", projectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	h.log.Debug("context map stored", slog.String("project_id", projectID), slog.Int("segments", len(cm.Segments)))
	w.WriteHeader(http.StatusNoContent)
}

// GetReport handles GET /projects/{project_id}/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	rep, ok := h.svc.LatestReport(projectID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
