package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TrialConsent/internal/models"
)

func (s *Server) listConsentsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.ParticipantStatus(r.URL.Query().Get("status"))
	if status != "" && !models.IsValidParticipantStatus(status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidStatus.Error()))
		return
	}
	records, err := s.store.ListConsentRecords(r.Context(), status)
	if err != nil {
		slog.Error("Server.listConsentsHandler: failed to list records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list consent records"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListConsentRecords(r.Context(), "")
	if err != nil {
		slog.Error("Server.summaryHandler: failed to list records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to summarize consent records"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.Summarize(records)))
}

func (s *Server) getConsentHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetConsentRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRecordError(w, "Server.getConsentHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// updateConsentHandler applies an approve or reject decision and tells the participant.
func (s *Server) updateConsentHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StatusUpdateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.updateConsentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	id := r.PathValue("id")
	rec, err := s.store.UpdateRecordStatus(r.Context(), id, req.Status)
	if err != nil {
		writeRecordError(w, "Server.updateConsentHandler", err)
		return
	}
	s.metrics.RecordReviewDecision(string(rec.Status))
	if s.notifier != nil {
		if err := s.notifier.NotifyReview(rec); err != nil {
			slog.Warn("Server.updateConsentHandler: failed to queue review notice", "error", err, "recordID", id)
		}
	}
	slog.Info("Server.updateConsentHandler: review decision recorded", "recordID", id, "status", rec.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) deleteConsentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteRecord(r.Context(), id); err != nil {
		writeRecordError(w, "Server.deleteConsentHandler", err)
		return
	}
	slog.Info("Server.deleteConsentHandler: consent record deleted", "recordID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Consent record deleted", nil))
}

// writeRecordError maps store errors to HTTP statuses.
func writeRecordError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, models.ErrTerminalStatus), errors.Is(err, models.ErrIllegalStatus):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, models.ErrInvalidStatus):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error(op+": store operation failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
