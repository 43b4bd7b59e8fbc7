package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/store"
	"github.com/BTreeMap/TrialConsent/internal/twiliowhatsapp"
	"github.com/BTreeMap/TrialConsent/internal/whatsapp"
)

func sampleRecord() models.ConsentRecord {
	return models.ConsentRecord{
		ID:           "rec-1",
		TrackingCode: "NS-12345678-0001",
		Status:       models.StatusPending,
		Fields: map[string]any{
			"firstName":   "Ada",
			"lastName":    "Lovelace",
			"phoneNumber": "+44 7700 900123",
		},
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"", ChannelNone, false},
		{"none", ChannelNone, false},
		{" SMS ", ChannelSMS, false},
		{"whatsapp", ChannelWhatsApp, false},
		{"pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseChannel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseChannel(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	tw := NewTwilioService(twiliowhatsapp.NewMockClient())
	wa := NewWhatsAppService(whatsapp.NewMockClient())

	got, err := tw.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil || got != "+15551234567" {
		t.Errorf("twilio canonical = %q, %v", got, err)
	}
	got, err = wa.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil || got != "15551234567" {
		t.Errorf("whatsapp canonical = %q, %v", got, err)
	}
	if _, err := tw.ValidateAndCanonicalizeRecipient("12345"); err == nil {
		t.Error("expected short number to be rejected")
	}
	if _, err := wa.ValidateAndCanonicalizeRecipient(""); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
}

func TestServices_SendAndStop(t *testing.T) {
	ctx := context.Background()
	twMock := twiliowhatsapp.NewMockClient()
	tw := NewTwilioService(twMock)
	if err := tw.SendMessage(ctx, "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("twilio send failed: %v", err)
	}
	if sent := twMock.Sent(); len(sent) != 1 || sent[0].To != "+15551234567" {
		t.Errorf("unexpected twilio sends %+v", sent)
	}
	tw.Stop()
	if err := tw.SendMessage(ctx, "+15551234567", "again"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}

	waMock := whatsapp.NewMockClient()
	wa := NewWhatsAppService(waMock)
	if err := wa.SendMessage(ctx, "+15551234567", "hello"); err != nil {
		t.Fatalf("whatsapp send failed: %v", err)
	}
	if len(waMock.Sent) != 1 || waMock.Sent[0].To != "15551234567" {
		t.Errorf("unexpected whatsapp sends %+v", waMock.Sent)
	}

	logSvc := NewLogService()
	if err := logSvc.SendMessage(ctx, "anyone", "hi"); err != nil {
		t.Errorf("log service send failed: %v", err)
	}
}

func TestNotifier_Submission(t *testing.T) {
	repo := store.NewInMemoryStore()
	n := NewNotifier(repo, WithAdminRecipient("+15550000000"))
	rec := sampleRecord()

	if err := n.NotifySubmission(rec); err != nil {
		t.Fatalf("NotifySubmission failed: %v", err)
	}
	// repeated notification is deduplicated
	if err := n.NotifySubmission(rec); err != nil {
		t.Fatalf("second NotifySubmission failed: %v", err)
	}

	msgs := repo.Notices()
	if len(msgs) != 2 {
		t.Fatalf("expected admin and participant messages, got %d", len(msgs))
	}
	kinds := map[string]string{}
	for _, m := range msgs {
		kinds[m.Kind] = m.Recipient
	}
	if kinds[KindSubmissionAdmin] != "+15550000000" {
		t.Errorf("admin notification missing: %v", kinds)
	}
	if kinds[KindSubmissionReceipt] != "+44 7700 900123" {
		t.Errorf("participant receipt missing: %v", kinds)
	}
}

func TestNotifier_NoAdminNoPhone(t *testing.T) {
	repo := store.NewInMemoryStore()
	n := NewNotifier(repo)
	rec := sampleRecord()
	delete(rec.Fields, "phoneNumber")

	n.NotifySubmission(rec)
	n.NotifyReview(rec)
	n.NotifyPendingDigest(3, time.Now())
	if msgs := repo.Notices(); len(msgs) != 0 {
		t.Errorf("expected nothing queued, got %d", len(msgs))
	}
}

func TestNotifier_ReviewAndDigest(t *testing.T) {
	repo := store.NewInMemoryStore()
	n := NewNotifier(repo, WithAdminRecipient("+15550000000"))
	rec := sampleRecord()
	rec.Status = models.StatusApproved

	if err := n.NotifyReview(rec); err != nil {
		t.Fatalf("NotifyReview failed: %v", err)
	}
	day := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	n.NotifyPendingDigest(4, day)
	n.NotifyPendingDigest(5, day)
	n.NotifyPendingDigest(0, day.AddDate(0, 0, 1))

	msgs := repo.Notices()
	if len(msgs) != 2 {
		t.Fatalf("expected review and one digest, got %d", len(msgs))
	}
}

func TestDeliver_RendersAndSends(t *testing.T) {
	repo := store.NewInMemoryStore()
	n := NewNotifier(repo)
	rec := sampleRecord()
	rec.Status = models.StatusRejected
	n.NotifyReview(rec)

	mock := twiliowhatsapp.NewMockClient()
	sender := store.NewNoticeSender(repo, Deliver(NewTwilioService(mock)), time.Second)
	if got := sender.Poll(context.Background(), time.Now()); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	if sent[0].To != "+447700900123" || !strings.Contains(sent[0].Body, "was not approved") {
		t.Errorf("unexpected message %+v", sent[0])
	}
}

func TestDeliver_BadBody(t *testing.T) {
	send := Deliver(NewLogService())
	err := send(context.Background(), store.Notice{ID: "x", Recipient: "r", Body: "{"})
	if err == nil {
		t.Error("expected decode error")
	}
	err = send(context.Background(), store.Notice{ID: "y", Recipient: "r", Body: `{"kind":"nope"}`})
	if err == nil {
		t.Error("expected unknown kind error")
	}
}

func TestRender(t *testing.T) {
	approved := Render(Notification{Kind: KindReviewDecision, TrackingCode: "NS-1", Status: models.StatusApproved})
	if !strings.Contains(approved, "approved") || !strings.Contains(approved, "NS-1") {
		t.Errorf("unexpected approval text %q", approved)
	}
	digest := Render(Notification{Kind: KindPendingDigest, Pending: 2, Date: "2025-06-02"})
	if !strings.Contains(digest, "2 consent submission(s)") {
		t.Errorf("unexpected digest text %q", digest)
	}
}
