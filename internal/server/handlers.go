package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zombor/invoice-reconciler/internal/storage"
	"github.com/zombor/invoice-reconciler/internal/workflow"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.batch.Progress())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.batch.Summary())
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.batch.Tasks())
}

// handleCancel requests cancellation. The batch stops at its next checkpoint,
// so the response only acknowledges the request.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	slog.Info("Cancellation requested over API", "remote", r.RemoteAddr)
	s.batch.Cancel()
	writeJSON(w, http.StatusAccepted, s.batch.Progress())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	slog.Info("Pause requested over API", "remote", r.RemoteAddr)
	s.batch.Pause()
	writeJSON(w, http.StatusAccepted, s.batch.Progress())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	slog.Info("Resume requested over API", "remote", r.RemoteAddr)
	s.batch.Resume()
	writeJSON(w, http.StatusAccepted, s.batch.Progress())
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.history.ListBatches()
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

type batchDetail struct {
	Summary *workflow.Summary `json:"summary"`
	Records []storage.Record  `json:"records"`
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := s.history.GetBatch(id)
	if errors.Is(err, storage.ErrNotFound) {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting batch", "batch", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	records, err := s.history.ListRecords(id)
	if err != nil {
		slog.Error("Error listing records", "batch", id, "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, batchDetail{Summary: summary, Records: records})
}
