package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/drafts"
	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/store"
)

// requiredValues is a complete, valid set of required answers.
func requiredValues() map[string]any {
	return map[string]any{
		"firstName": "Ann", "lastName": "Lee", "dateOfBirth": "1980-02-29", "age": "46",
		"sex": "Female", "phoneNumber": "555 123 4567", "email": "ann@example.com", "address": "1 Main St",
		"emergencyContactName": "Bob Lee", "emergencyContactPhone": "555 987 6543", "emergencyContactRelationship": "Spouse",
		"hasReceivedInfo": true, "consentConsent1": true, "consentConsent2": true, "consentConsent3": true,
		"consentConsent4": true, "consentConsent5": true, "consentConsent6": true,
		"signature": "Ann Lee", "isUCLAPatient": "no", "hospital": "uclh",
	}
}

func (e *testEnv) startSession(t *testing.T, token string) sessionResponse {
	t.Helper()
	rr, resp := e.do(t, http.MethodPost, "/sessions", token, nil)
	if rr.Code != http.StatusCreated && rr.Code != http.StatusOK {
		t.Fatalf("start session: status %d %s", rr.Code, rr.Body.String())
	}
	var snap sessionResponse
	decodeResult(t, resp, &snap)
	return snap
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ann@example.com", "")

	snap := env.startSession(t, token)
	if snap.State != consentform.StateEditing || snap.Resumed {
		t.Fatalf("expected fresh editing session, got %+v", snap)
	}
	base := "/sessions/" + snap.ID

	rr, _ := env.do(t, http.MethodPut, base+"/fields/firstName", token, fieldRequest{Value: "Ann"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set field: expected 200, got %d", rr.Code)
	}

	rr, resp := env.do(t, http.MethodPost, base+"/review", token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("review of incomplete form: expected 422, got %d", rr.Code)
	}
	var vr consentform.ValidationResult
	decodeResult(t, resp, &vr)
	if vr.OK || len(vr.Missing) == 0 || vr.Missing[0] != "lastName" {
		t.Errorf("expected missing keys starting with lastName, got %v", vr.Missing)
	}

	rr, resp = env.do(t, http.MethodPost, base+"/patch", token, patchRequest{Values: requiredValues()})
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", rr.Code)
	}
	var pr patchResponse
	decodeResult(t, resp, &pr)
	if len(pr.Patch.Rejected) != 0 || pr.Session.Completeness.Percent != 100 {
		t.Errorf("unexpected patch outcome %+v", pr)
	}

	if rr, _ := env.do(t, http.MethodPost, base+"/review", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("review: expected 200, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPut, base+"/fields/firstName", token, fieldRequest{Value: "Bob"}); rr.Code != http.StatusConflict {
		t.Errorf("editing during preview: expected 409, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPost, base+"/edit", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("edit again: expected 200, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPost, base+"/confirm", token, nil); rr.Code != http.StatusConflict {
		t.Errorf("confirm while editing: expected 409, got %d", rr.Code)
	}
	env.do(t, http.MethodPost, base+"/review", token, nil)

	rr, resp = env.do(t, http.MethodPost, base+"/confirm", token, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	var rec models.ConsentRecord
	decodeResult(t, resp, &rec)
	if rec.TrackingCode == "" || rec.Status != models.StatusPending || rec.Fields["firstName"] != "Ann" {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(env.notifier.submissions) != 1 {
		t.Errorf("expected one submission notice, got %d", len(env.notifier.submissions))
	}

	if rr, _ := env.do(t, http.MethodPost, base+"/confirm", token, nil); rr.Code != http.StatusConflict {
		t.Errorf("second confirm: expected 409, got %d", rr.Code)
	}
	rr, resp = env.do(t, http.MethodGet, base, token, nil)
	var final consentform.Snapshot
	decodeResult(t, resp, &final)
	if final.State != consentform.StateSubmitted || final.Record == nil || final.Record.ID != rec.ID {
		t.Errorf("expected submitted snapshot with record, got %+v", final)
	}
}

func TestSetField_Errors(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "ann@example.com", "")
	base := "/sessions/" + env.startSession(t, token).ID

	if rr, _ := env.do(t, http.MethodPut, base+"/fields/favouriteColour", token, fieldRequest{Value: "blue"}); rr.Code != http.StatusNotFound {
		t.Errorf("unknown field: expected 404, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPut, base+"/fields/dateOfBirth", token, fieldRequest{Value: "yesterday"}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rr.Code)
	}
}

func TestSessionsAreOwned(t *testing.T) {
	env := newTestEnv(t)
	ann := env.login(t, "ann@example.com", "")
	bob := env.login(t, "bob@example.com", "")
	admin := env.login(t, testAdminEmail, testAdminPassword)

	id := env.startSession(t, ann).ID
	if rr, _ := env.do(t, http.MethodGet, "/sessions/"+id, bob, nil); rr.Code != http.StatusNotFound {
		t.Errorf("other participant: expected 404, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, "/sessions/"+id, admin, nil); rr.Code != http.StatusForbidden {
		t.Errorf("admin on participant route: expected 403, got %d", rr.Code)
	}
	if again := env.startSession(t, ann); again.ID != id || !again.Resumed {
		t.Errorf("expected the open session to be returned, got %+v", again)
	}
}

func TestSessionResumesDraft(t *testing.T) {
	shared := drafts.NewMemoryStore()
	env := newTestEnv(t, WithDrafts(shared))
	token := env.login(t, "ann@example.com", "")
	first := env.startSession(t, token)
	env.do(t, http.MethodPut, "/sessions/"+first.ID+"/fields/firstName", token, fieldRequest{Value: "Ann"})

	// a restarted server only has the draft store
	restarted := newTestEnv(t, WithDrafts(shared))
	token = restarted.login(t, "ann@example.com", "")
	snap := restarted.startSession(t, token)
	if !snap.Resumed || snap.ID != first.ID || snap.Values["firstName"] != "Ann" {
		t.Fatalf("expected resumed draft, got %+v", snap)
	}

	for k, v := range requiredValues() {
		restarted.do(t, http.MethodPut, "/sessions/"+snap.ID+"/fields/"+k, token, fieldRequest{Value: v})
	}
	restarted.do(t, http.MethodPost, "/sessions/"+snap.ID+"/review", token, nil)
	if rr, _ := restarted.do(t, http.MethodPost, "/sessions/"+snap.ID+"/confirm", token, nil); rr.Code != http.StatusCreated {
		t.Fatalf("confirm: expected 201, got %d", rr.Code)
	}
	if _, found, _ := shared.Load(context.Background(), "ann@example.com"); found {
		t.Error("expected draft to be deleted after submission")
	}
}

func TestConfirmFailureKeepsPreview(t *testing.T) {
	mem := store.NewInMemoryStore()
	env := newTestEnvWithStore(t, mem, failingStore{mem})
	token := env.login(t, "ann@example.com", "")
	base := "/sessions/" + env.startSession(t, token).ID

	env.do(t, http.MethodPost, base+"/patch", token, patchRequest{Values: requiredValues()})
	env.do(t, http.MethodPost, base+"/review", token, nil)

	rr, _ := env.do(t, http.MethodPost, base+"/confirm", token, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	_, resp := env.do(t, http.MethodGet, base, token, nil)
	var snap consentform.Snapshot
	decodeResult(t, resp, &snap)
	if snap.State != consentform.StatePreviewing {
		t.Errorf("expected session to stay in preview, got %s", snap.State)
	}
	if len(env.notifier.submissions) != 0 {
		t.Error("no notice expected for a failed submission")
	}
}

func TestDuplicateSubmissionNotifiesOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.server.persister
	fields := map[string]any{"firstName": "Ann"}

	first, err := p.CreateConsentRecord(context.Background(), fields, "idem_same")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := p.CreateConsentRecord(context.Background(), fields, "idem_same")
	if err != nil || again.ID != first.ID {
		t.Fatalf("expected the first record back, got %v %v", again.ID, err)
	}
	if len(env.notifier.submissions) != 1 {
		t.Errorf("expected one notice, got %d", len(env.notifier.submissions))
	}
}
