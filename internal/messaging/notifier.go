package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/store"
)

// Notification kinds, stored as the notice kind.
const (
	KindSubmissionAdmin   = "submission_admin"
	KindSubmissionReceipt = "submission_receipt"
	KindReviewDecision    = "review_decision"
	KindPendingDigest     = "pending_digest"
)

// Notification is the body of a queued notice. Text is rendered at send time.
type Notification struct {
	Kind         string                   `json:"kind"`
	RecordID     string                   `json:"record_id,omitempty"`
	TrackingCode string                   `json:"tracking_code,omitempty"`
	Participant  string                   `json:"participant,omitempty"`
	Status       models.ParticipantStatus `json:"status,omitempty"`
	Pending      int                      `json:"pending,omitempty"`
	Date         string                   `json:"date,omitempty"`
}

// Render returns the message text for n.
func Render(n Notification) string {
	switch n.Kind {
	case KindSubmissionAdmin:
		return fmt.Sprintf("New consent submission %s from %s is waiting for review.", n.TrackingCode, n.Participant)
	case KindSubmissionReceipt:
		return fmt.Sprintf("Thank you, we received your consent form. Your reference is %s.", n.TrackingCode)
	case KindReviewDecision:
		if n.Status == models.StatusApproved {
			return fmt.Sprintf("Your consent form %s has been approved. The study team will contact you about next steps.", n.TrackingCode)
		}
		return fmt.Sprintf("Your consent form %s was not approved. Please contact the study support team.", n.TrackingCode)
	case KindPendingDigest:
		return fmt.Sprintf("%d consent submission(s) awaiting review as of %s.", n.Pending, n.Date)
	}
	return ""
}

// Opts holds configuration options for a Notifier.
type Opts struct {
	AdminRecipient string
}

// Option defines a configuration option for a Notifier.
type Option func(*Opts)

// WithAdminRecipient sets where administrator notifications go. Without one
// they are skipped.
func WithAdminRecipient(to string) Option {
	return func(o *Opts) { o.AdminRecipient = strings.TrimSpace(to) }
}

// Notifier queues notifications as notices. Dedupe keys make every
// notification safe to queue more than once.
type Notifier struct {
	queue store.NoticeQueue
	admin string
}

// NewNotifier creates a Notifier backed by queue.
func NewNotifier(queue store.NoticeQueue, opts ...Option) *Notifier {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Notifier{queue: queue, admin: cfg.AdminRecipient}
}

// NotifySubmission tells the administrator about a new record and sends the
// participant their reference.
func (n *Notifier) NotifySubmission(rec models.ConsentRecord) error {
	base := Notification{RecordID: rec.ID, TrackingCode: rec.TrackingCode, Participant: rec.ParticipantName()}
	if n.admin != "" {
		admin := base
		admin.Kind = KindSubmissionAdmin
		if err := n.enqueue(n.admin, admin, "submission_admin:"+rec.ID); err != nil {
			return err
		}
	}
	if phone := rec.StringField("phoneNumber"); phone != "" {
		receipt := base
		receipt.Kind = KindSubmissionReceipt
		if err := n.enqueue(phone, receipt, "submission_receipt:"+rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// NotifyReview tells the participant about an approval or rejection.
func (n *Notifier) NotifyReview(rec models.ConsentRecord) error {
	phone := rec.StringField("phoneNumber")
	if phone == "" {
		slog.Debug("Notifier.NotifyReview: participant has no phone number", "recordID", rec.ID)
		return nil
	}
	note := Notification{
		Kind:         KindReviewDecision,
		RecordID:     rec.ID,
		TrackingCode: rec.TrackingCode,
		Participant:  rec.ParticipantName(),
		Status:       rec.Status,
	}
	return n.enqueue(phone, note, fmt.Sprintf("review:%s:%s", rec.ID, rec.Status))
}

// NotifyPendingDigest sends the administrator the number of records awaiting
// review. At most one digest is queued per day.
func (n *Notifier) NotifyPendingDigest(pending int, day time.Time) error {
	if n.admin == "" || pending == 0 {
		return nil
	}
	date := day.Format("2006-01-02")
	note := Notification{Kind: KindPendingDigest, Pending: pending, Date: date}
	return n.enqueue(n.admin, note, "digest:"+date)
}

func (n *Notifier) enqueue(to string, note Notification, dedupeKey string) error {
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	id, err := n.queue.QueueNotice(context.Background(), to, note.Kind, string(b), dedupeKey)
	if err != nil {
		slog.Error("Notifier.enqueue: failed", "kind", note.Kind, "error", err)
		return err
	}
	slog.Debug("Notifier.enqueue: notification queued", "id", id, "kind", note.Kind)
	return nil
}

// Deliver returns the notice sender callback that renders each notice and
// delivers it through svc.
func Deliver(svc Service) store.DeliverFunc {
	return func(ctx context.Context, notice store.Notice) error {
		var note Notification
		if err := json.Unmarshal([]byte(notice.Body), &note); err != nil {
			return fmt.Errorf("decode notification %s: %w", notice.ID, err)
		}
		body := Render(note)
		if body == "" {
			return fmt.Errorf("unknown notification kind %q", note.Kind)
		}
		return svc.SendMessage(ctx, notice.Recipient, body)
	}
}
