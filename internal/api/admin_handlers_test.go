package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/BTreeMap/TrialConsent/internal/models"
)

func seedRecord(t *testing.T, env *testEnv, first string) models.ConsentRecord {
	t.Helper()
	rec, err := env.store.CreateConsentRecord(context.Background(), map[string]any{"firstName": first}, "")
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	participant := env.login(t, "ann@example.com", "")

	if rr, _ := env.do(t, http.MethodGet, "/consents", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, "/consents", participant, nil); rr.Code != http.StatusForbidden {
		t.Errorf("participant: expected 403, got %d", rr.Code)
	}
}

func TestAdminReviewWorkflow(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, testAdminEmail, testAdminPassword)
	a := seedRecord(t, env, "Ann")
	b := seedRecord(t, env, "Bob")

	rr, resp := env.do(t, http.MethodGet, "/consents", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var all []models.ConsentRecord
	decodeResult(t, resp, &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}

	rr, resp = env.do(t, http.MethodPatch, "/consents/"+a.ID, admin, models.StatusUpdateRequest{Status: models.StatusApproved})
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	var approved models.ConsentRecord
	decodeResult(t, resp, &approved)
	if approved.Status != models.StatusApproved || approved.ApprovedDate == nil {
		t.Errorf("unexpected approved record %+v", approved)
	}
	if len(env.notifier.reviews) != 1 || env.notifier.reviews[0].ID != a.ID {
		t.Errorf("expected one review notice for %s, got %+v", a.ID, env.notifier.reviews)
	}

	if rr, _ := env.do(t, http.MethodPatch, "/consents/"+a.ID, admin, models.StatusUpdateRequest{Status: models.StatusRejected}); rr.Code != http.StatusConflict {
		t.Errorf("re-review of terminal record: expected 409, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPatch, "/consents/"+b.ID, admin, models.StatusUpdateRequest{Status: models.StatusCompleted}); rr.Code != http.StatusConflict {
		t.Errorf("non-terminal target: expected 409, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodPatch, "/consents/"+b.ID, admin, models.StatusUpdateRequest{Status: "archived"}); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown status: expected 400, got %d", rr.Code)
	}

	_, resp = env.do(t, http.MethodGet, "/consents?status=approved", admin, nil)
	var filtered []models.ConsentRecord
	decodeResult(t, resp, &filtered)
	if len(filtered) != 1 || filtered[0].ID != a.ID {
		t.Errorf("expected only the approved record, got %+v", filtered)
	}
	if rr, _ := env.do(t, http.MethodGet, "/consents?status=bogus", admin, nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad filter: expected 400, got %d", rr.Code)
	}

	_, resp = env.do(t, http.MethodGet, "/consents/summary", admin, nil)
	var summary models.ReviewSummary
	decodeResult(t, resp, &summary)
	if summary.Total != 2 || summary.ByStatus[models.StatusApproved] != 1 || summary.ByStatus[models.StatusPending] != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	if rr, _ := env.do(t, http.MethodDelete, "/consents/"+b.ID, admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodGet, "/consents/"+b.ID, admin, nil); rr.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rr.Code)
	}
	if rr, _ := env.do(t, http.MethodDelete, "/consents/"+b.ID, admin, nil); rr.Code != http.StatusNotFound {
		t.Errorf("delete twice: expected 404, got %d", rr.Code)
	}
}
