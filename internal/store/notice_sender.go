package store

import (
	"context"
	"log/slog"
	"time"
)

// Attempt outcomes reported to an OutcomeFunc.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeAbandoned = "abandoned"
)

const (
	// DefaultNoticeAttempts is how many times a notice is tried before it is abandoned.
	DefaultNoticeAttempts = 6
	// DefaultNoticeBatch bounds the notices claimed per poll.
	DefaultNoticeBatch = 10
	// DefaultClaimTimeout is how long a claim may go unanswered before the
	// notice is released to another poll.
	DefaultClaimTimeout = 5 * time.Minute

	firstRetryDelay = 10 * time.Second
)

// DeliverFunc hands one notice to a transport.
type DeliverFunc func(ctx context.Context, n Notice) error

// OutcomeFunc observes each delivery attempt by notice kind and outcome.
type OutcomeFunc func(kind, outcome string)

// NoticeSender drains a NoticeQueue on a fixed interval.
type NoticeSender struct {
	queue        NoticeQueue
	deliver      DeliverFunc
	every        time.Duration
	maxAttempts  int
	batch        int
	claimTimeout time.Duration
	outcome      OutcomeFunc
}

// SenderOption configures a NoticeSender.
type SenderOption func(*NoticeSender)

// WithMaxAttempts sets how many failed attempts abandon a notice.
func WithMaxAttempts(n int) SenderOption {
	return func(s *NoticeSender) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBatch sets the claim size per poll.
func WithBatch(n int) SenderOption {
	return func(s *NoticeSender) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithClaimTimeout sets how old a claim must be before ReleaseStale frees it.
func WithClaimTimeout(d time.Duration) SenderOption {
	return func(s *NoticeSender) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithOutcomeFunc registers an observer for every attempt.
func WithOutcomeFunc(fn OutcomeFunc) SenderOption {
	return func(s *NoticeSender) { s.outcome = fn }
}

// NewNoticeSender creates a sender that polls queue every interval.
func NewNoticeSender(queue NoticeQueue, deliver DeliverFunc, every time.Duration, opts ...SenderOption) *NoticeSender {
	s := &NoticeSender{
		queue:        queue,
		deliver:      deliver,
		every:        every,
		maxAttempts:  DefaultNoticeAttempts,
		batch:        DefaultNoticeBatch,
		claimTimeout: DefaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retryDelay doubles from firstRetryDelay with each failed attempt.
func retryDelay(failures int) time.Duration {
	return firstRetryDelay << failures
}

// ReleaseStale requeues notices whose claim outlived the claim timeout, as
// happens when the process stops mid-delivery.
func (s *NoticeSender) ReleaseStale(ctx context.Context) error {
	n, err := s.queue.ReleaseStaleClaims(ctx, time.Now().Add(-s.claimTimeout))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("NoticeSender.ReleaseStale: released stale claims", "count", n)
	}
	return nil
}

// Poll claims the notices due at now and tries each once. It returns how
// many were delivered.
func (s *NoticeSender) Poll(ctx context.Context, now time.Time) int {
	due, err := s.queue.ClaimDueNotices(ctx, now, s.batch)
	if err != nil {
		slog.Error("NoticeSender.Poll: claim failed", "error", err)
		return 0
	}
	delivered := 0
	for _, n := range due {
		if s.attempt(ctx, n, now) {
			delivered++
		}
	}
	return delivered
}

func (s *NoticeSender) attempt(ctx context.Context, n Notice, now time.Time) bool {
	sendErr := s.deliver(ctx, n)
	if sendErr == nil {
		if err := s.queue.MarkNoticeDelivered(ctx, n.ID); err != nil {
			slog.Error("NoticeSender.attempt: mark delivered failed", "id", n.ID, "error", err)
		}
		s.report(n.Kind, OutcomeDelivered)
		return true
	}

	if n.Attempts+1 >= s.maxAttempts {
		slog.Error("NoticeSender.attempt: giving up", "id", n.ID, "kind", n.Kind, "attempts", n.Attempts+1, "error", sendErr)
		if err := s.queue.AbandonNotice(ctx, n.ID, sendErr.Error()); err != nil {
			slog.Error("NoticeSender.attempt: abandon failed", "id", n.ID, "error", err)
		}
		s.report(n.Kind, OutcomeAbandoned)
		return false
	}

	next := now.Add(retryDelay(n.Attempts))
	slog.Warn("NoticeSender.attempt: delivery failed, will retry", "id", n.ID, "kind", n.Kind, "next", next, "error", sendErr)
	if err := s.queue.RetryNoticeAt(ctx, n.ID, sendErr.Error(), next); err != nil {
		slog.Error("NoticeSender.attempt: reschedule failed", "id", n.ID, "error", err)
	}
	s.report(n.Kind, OutcomeRetry)
	return false
}

func (s *NoticeSender) report(kind, outcome string) {
	if s.outcome != nil {
		s.outcome(kind, outcome)
	}
}

// Run polls until ctx is cancelled.
func (s *NoticeSender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Poll(ctx, now)
		}
	}
}
