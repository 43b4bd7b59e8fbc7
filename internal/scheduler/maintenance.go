package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
)

// Default schedules and retention.
const (
	DefaultDigestSchedule  = "0 8 * * *"
	DefaultPurgeSchedule   = "30 3 * * *"
	DefaultKeyRetention    = 30 * 24 * time.Hour
	DefaultNoticeRetention = 14 * 24 * time.Hour
	DefaultIdleSchedule    = "*/5 * * * *"
	DefaultIdleTimeout     = 30 * time.Minute
	jobTimeout             = time.Minute
)

// RecordLister lists consent records by status.
type RecordLister interface {
	ListConsentRecords(ctx context.Context, status models.ParticipantStatus) ([]models.ConsentRecord, error)
}

// Purger deletes old submission idempotency keys and settled notices.
type Purger interface {
	PurgeSubmissionKeys(ctx context.Context, olderThan time.Time) (int, error)
	PurgeSettledNotices(ctx context.Context, olderThan time.Time) (int, error)
}

// Job names.
const (
	JobPendingDigest = "pending-digest"
	JobPurge         = "purge"
	JobIdleEviction  = "idle-eviction"
)

// DigestNotifier queues the pending-review digest.
type DigestNotifier interface {
	NotifyPendingDigest(pending int, day time.Time) error
}

// IdleEvicter drops in-memory sessions untouched since a cutoff.
type IdleEvicter interface {
	EvictIdle(olderThan time.Time) int
}

// Opts holds configuration options for Maintenance.
type Opts struct {
	DigestSchedule  string
	PurgeSchedule   string
	KeyRetention    time.Duration
	NoticeRetention time.Duration
	IdleEvicter     IdleEvicter
	IdleSchedule    string
	IdleTimeout     time.Duration
	Now             func() time.Time
}

// Option defines a configuration option for Maintenance.
type Option func(*Opts)

// WithDigestSchedule sets the cron expression of the digest job.
func WithDigestSchedule(expr string) Option {
	return func(o *Opts) {
		if expr != "" {
			o.DigestSchedule = expr
		}
	}
}

// WithPurgeSchedule sets the cron expression of the purge job.
func WithPurgeSchedule(expr string) Option {
	return func(o *Opts) {
		if expr != "" {
			o.PurgeSchedule = expr
		}
	}
}

// WithKeyRetention sets how long submission keys are kept.
func WithKeyRetention(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.KeyRetention = d
		}
	}
}

// WithNoticeRetention sets how long delivered and abandoned notices are kept.
func WithNoticeRetention(d time.Duration) Option {
	return func(o *Opts) {
		if d > 0 {
			o.NoticeRetention = d
		}
	}
}

// WithIdleEviction schedules e to drop sessions idle for longer than timeout.
func WithIdleEviction(e IdleEvicter, timeout time.Duration) Option {
	return func(o *Opts) {
		o.IdleEvicter = e
		if timeout > 0 {
			o.IdleTimeout = timeout
		}
	}
}

// WithIdleSchedule sets the cron expression of the idle eviction job.
func WithIdleSchedule(expr string) Option {
	return func(o *Opts) {
		if expr != "" {
			o.IdleSchedule = expr
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Maintenance holds the periodic jobs.
type Maintenance struct {
	records  RecordLister
	purger   Purger
	notifier DigestNotifier
	cfg      Opts
}

// NewMaintenance creates the maintenance jobs. notifier may be nil, in which
// case no digest is sent.
func NewMaintenance(records RecordLister, purger Purger, notifier DigestNotifier, opts ...Option) *Maintenance {
	cfg := Opts{
		DigestSchedule:  DefaultDigestSchedule,
		PurgeSchedule:   DefaultPurgeSchedule,
		KeyRetention:    DefaultKeyRetention,
		NoticeRetention: DefaultNoticeRetention,
		IdleSchedule:    DefaultIdleSchedule,
		IdleTimeout:     DefaultIdleTimeout,
		Now:             time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Maintenance{records: records, purger: purger, notifier: notifier, cfg: cfg}
}

// Register adds the configured jobs to s.
func (m *Maintenance) Register(s *Scheduler) error {
	if m.notifier != nil {
		if err := s.AddJob(JobPendingDigest, m.cfg.DigestSchedule, m.runDigest); err != nil {
			return err
		}
	}
	if err := s.AddJob(JobPurge, m.cfg.PurgeSchedule, m.runPurge); err != nil {
		return err
	}
	if m.cfg.IdleEvicter != nil {
		if err := s.AddJob(JobIdleEviction, m.cfg.IdleSchedule, func() { m.EvictIdle() }); err != nil {
			return err
		}
	}
	slog.Info("Maintenance.Register: jobs scheduled", "jobs", s.Jobs())
	return nil
}

// PendingCount returns how many records still await review.
func (m *Maintenance) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []models.ParticipantStatus{models.StatusPending, models.StatusCompleted} {
		recs, err := m.records.ListConsentRecords(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("list %s records: %w", status, err)
		}
		total += len(recs)
	}
	return total, nil
}

// SendPendingDigest queues today's digest if anything awaits review.
func (m *Maintenance) SendPendingDigest(ctx context.Context) error {
	if m.notifier == nil {
		return nil
	}
	n, err := m.PendingCount(ctx)
	if err != nil {
		return err
	}
	if err := m.notifier.NotifyPendingDigest(n, m.cfg.Now()); err != nil {
		return fmt.Errorf("queue pending digest: %w", err)
	}
	slog.Info("Maintenance.SendPendingDigest: digest queued", "pending", n)
	return nil
}

// PurgeKeys deletes submission keys older than the retention period.
func (m *Maintenance) PurgeKeys(ctx context.Context) (int, error) {
	cutoff := m.cfg.Now().Add(-m.cfg.KeyRetention)
	n, err := m.purger.PurgeSubmissionKeys(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Maintenance.PurgeKeys: submission keys purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// PurgeNotices deletes delivered and abandoned notices older than the notice
// retention period.
func (m *Maintenance) PurgeNotices(ctx context.Context) (int, error) {
	cutoff := m.cfg.Now().Add(-m.cfg.NoticeRetention)
	n, err := m.purger.PurgeSettledNotices(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("Maintenance.PurgeNotices: settled notices purged", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// EvictIdle drops sessions idle for longer than the idle timeout.
func (m *Maintenance) EvictIdle() int {
	if m.cfg.IdleEvicter == nil {
		return 0
	}
	return m.cfg.IdleEvicter.EvictIdle(m.cfg.Now().Add(-m.cfg.IdleTimeout))
}

func (m *Maintenance) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if err := m.SendPendingDigest(ctx); err != nil {
		slog.Error("Maintenance.runDigest: failed", "error", err)
	}
}

func (m *Maintenance) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if _, err := m.PurgeKeys(ctx); err != nil {
		slog.Error("Maintenance.runPurge: key purge failed", "error", err)
	}
	if _, err := m.PurgeNotices(ctx); err != nil {
		slog.Error("Maintenance.runPurge: notice purge failed", "error", err)
	}
}
