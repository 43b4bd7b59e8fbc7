package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TrialConsent/internal/auth"
	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/drafts"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

type schemaResponse struct {
	Fields   []consentform.FormField   `json:"fields"`
	Sections []consentform.SectionInfo `json:"sections"`
}

type sessionResponse struct {
	consentform.Snapshot
	Resumed bool `json:"resumed,omitempty"`
}

type fieldRequest struct {
	Value any `json:"value"`
}

type patchRequest struct {
	Values consentform.Patch `json:"values"`
}

type patchResponse struct {
	Patch   consentform.PatchResult `json:"patch"`
	Session consentform.Snapshot    `json:"session"`
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(schemaResponse{
		Fields:   s.schema.Fields(),
		Sections: s.schema.Sections(),
	}))
}

// startSessionHandler returns the participant's open session, resumes a saved
// draft, or starts a fresh form.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)

	s.mu.Lock()
	if id, ok := s.formOwners[owner]; ok {
		if e := s.forms[id]; e != nil && e.session.State() != consentform.StateSubmitted {
			e.lastActive = s.now()
			s.mu.Unlock()
			slog.Debug("Server.startSessionHandler: returning open session", "sessionID", id)
			writeJSONResponse(w, http.StatusOK, models.Success(sessionResponse{Snapshot: e.session.Snapshot(), Resumed: true}))
			return
		}
		delete(s.forms, id)
	}
	s.mu.Unlock()

	draft, found, err := s.loadDraft(r.Context(), owner)
	if err != nil {
		slog.Warn("Server.startSessionHandler: draft lookup failed, starting fresh", "error", err)
	}

	var session *consentform.Session
	if found {
		session = consentform.NewSession(s.schema, s.persister,
			consentform.WithID(draft.SessionID),
			consentform.WithIdempotencyKey(draft.IdempotencyKey))
		res, err := session.Restore(draft.Values)
		if err != nil {
			slog.Error("Server.startSessionHandler: failed to restore draft", "error", err, "sessionID", draft.SessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to restore saved form"))
			return
		}
		slog.Info("Server.startSessionHandler: draft restored", "sessionID", draft.SessionID, "applied", len(res.Applied), "rejected", len(res.Rejected))
	} else {
		session = consentform.NewSession(s.schema, s.persister)
	}

	s.mu.Lock()
	s.forms[session.ID()] = &formEntry{session: session, owner: owner, lastActive: s.now()}
	s.formOwners[owner] = session.ID()
	active := len(s.forms)
	s.mu.Unlock()
	s.metrics.SetActiveFormSessions(active)

	status := http.StatusCreated
	if found {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, models.Success(sessionResponse{Snapshot: session.Snapshot(), Resumed: found}))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session.Snapshot()))
}

func (s *Server) setFieldHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	var req fieldRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.setFieldHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	key := r.PathValue("key")
	if err := session.SetField(key, req.Value); err != nil {
		writeFormError(w, "Server.setFieldHandler", err)
		return
	}
	s.saveDraft(r.Context(), ownerOf(r), session)
	writeJSONResponse(w, http.StatusOK, models.Success(session.Snapshot()))
}

func (s *Server) patchHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	var req patchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		slog.Warn("Server.patchHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	res, err := session.ApplyPatch(req.Values)
	if err != nil {
		writeFormError(w, "Server.patchHandler", err)
		return
	}
	if len(res.Applied) > 0 {
		s.saveDraft(r.Context(), ownerOf(r), session)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(patchResponse{Patch: res, Session: session.Snapshot()}))
}

func (s *Server) reviewHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	res, err := session.SubmitForReview()
	if err != nil {
		writeFormError(w, "Server.reviewHandler", err)
		return
	}
	if !res.OK {
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Invalid("Please complete all required fields", res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session.Snapshot()))
}

func (s *Server) editHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	if err := session.EditAgain(); err != nil {
		writeFormError(w, "Server.editHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(session.Snapshot()))
}

func (s *Server) confirmHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.ownedForm(w, r)
	if !ok {
		return
	}
	rec, err := session.ConfirmSubmit(r.Context())
	if err != nil {
		writeFormError(w, "Server.confirmHandler", err)
		return
	}
	s.deleteDraft(r.Context(), ownerOf(r))
	slog.Info("Server.confirmHandler: consent submitted", "sessionID", session.ID(), "recordID", rec.ID, "trackingCode", rec.TrackingCode)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Consent form submitted. Your tracking code is "+rec.TrackingCode, rec))
}

// ownerOf returns the participant email of an authenticated request.
func ownerOf(r *http.Request) string {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return ""
	}
	return sess.Email()
}

// ownedForm resolves {id} to a form session owned by the caller. Sessions of
// other participants are reported as missing.
func (s *Server) ownedForm(w http.ResponseWriter, r *http.Request) (*consentform.Session, bool) {
	session, ok := s.formFor(r.PathValue("id"), ownerOf(r))
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Form session not found"))
		return nil, false
	}
	return session, true
}

// formFor returns the live form session id if owner holds it, marking it active.
func (s *Server) formFor(id, owner string) (*consentform.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.forms[id]
	if !ok || owner == "" || e.owner != owner {
		return nil, false
	}
	e.lastActive = s.now()
	return e.session, true
}

// reattach registers an evicted form again unless its owner has since opened
// another one.
func (s *Server) reattach(owner string, session *consentform.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.formOwners[owner]; ok && id != session.ID() {
		return
	}
	s.forms[session.ID()] = &formEntry{session: session, owner: owner, lastActive: s.now()}
	s.formOwners[owner] = session.ID()
}

// writeFormError maps form session errors to HTTP statuses.
func writeFormError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, consentform.ErrUnknownField):
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
	case errors.Is(err, consentform.ErrInvalidValue):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, consentform.ErrNotEditable),
		errors.Is(err, consentform.ErrNotPreviewing),
		errors.Is(err, consentform.ErrAlreadySubmitted),
		errors.Is(err, consentform.ErrSubmissionInFlight):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, consentform.ErrSubmissionFailed):
		slog.Error(op+": submission failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Submission failed. Your answers are kept, please try again."))
	default:
		slog.Error(op+": unexpected form error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

func (s *Server) loadDraft(ctx context.Context, owner string) (drafts.Draft, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultDraftTimeout)
	defer cancel()
	return s.drafts.Load(ctx, owner)
}

// saveDraft stores the session so the participant can continue later. Failures
// are logged; the form itself is unaffected.
func (s *Server) saveDraft(ctx context.Context, owner string, session *consentform.Session) {
	snap := session.Snapshot()
	if snap.State == consentform.StateSubmitted {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDraftTimeout)
	defer cancel()
	err := s.drafts.Save(ctx, owner, drafts.Draft{
		SessionID:      snap.ID,
		IdempotencyKey: snap.IdempotencyKey,
		Values:         snap.Values,
		UpdatedAt:      snap.UpdatedAt,
	})
	if err != nil {
		slog.Warn("Server.saveDraft: failed to save draft", "error", err, "sessionID", snap.ID)
	}
}

func (s *Server) deleteDraft(ctx context.Context, owner string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDraftTimeout)
	defer cancel()
	if err := s.drafts.Delete(ctx, owner); err != nil {
		slog.Warn("Server.deleteDraft: failed to delete draft", "error", err)
	}
}

// draftingTarget applies chat patches to a form and saves the result as a draft.
type draftingTarget struct {
	server  *Server
	owner   string
	session *consentform.Session
}

func (t draftingTarget) ApplyPatch(patch consentform.Patch) (consentform.PatchResult, error) {
	// keeps the form alive while its chat is in use
	if _, ok := t.server.formFor(t.session.ID(), t.owner); !ok {
		t.server.reattach(t.owner, t.session)
	}
	res, err := t.session.ApplyPatch(patch)
	if err == nil && len(res.Applied) > 0 {
		t.server.saveDraft(context.Background(), t.owner, t.session)
	}
	return res, err
}
