package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NoticeStatus is where a notice is in its delivery lifecycle.
type NoticeStatus string

const (
	NoticeQueued    NoticeStatus = "queued"
	NoticeSending   NoticeStatus = "sending"
	NoticeDelivered NoticeStatus = "delivered"
	NoticeAbandoned NoticeStatus = "abandoned"
)

// Notice is one notification to one recipient, persisted until delivered so
// that a restart never loses or repeats it.
type Notice struct {
	ID            string       `json:"id"`
	Recipient     string       `json:"recipient"`
	Kind          string       `json:"kind"`
	Body          string       `json:"body"`
	Status        NoticeStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	DedupeKey     string       `json:"dedupe_key,omitempty"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NoticeQueue is the durable queue behind participant and administrator
// notifications.
type NoticeQueue interface {
	// QueueNotice adds a notice. While a notice with the same non-empty
	// dedupeKey is queued, sending or delivered, its ID is returned instead.
	QueueNotice(ctx context.Context, recipient, kind, body, dedupeKey string) (string, error)

	// ClaimDueNotices moves up to limit queued notices due at now to sending.
	ClaimDueNotices(ctx context.Context, now time.Time, limit int) ([]Notice, error)

	MarkNoticeDelivered(ctx context.Context, id string) error

	// RetryNoticeAt records a failed attempt and queues the notice again for at.
	RetryNoticeAt(ctx context.Context, id, errMsg string, at time.Time) error

	// AbandonNotice records a final failed attempt.
	AbandonNotice(ctx context.Context, id, errMsg string) error

	// ReleaseStaleClaims requeues notices claimed before claimedBefore whose
	// sender never reported back.
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int, error)

	// PurgeSettledNotices deletes delivered and abandoned notices last
	// updated before olderThan.
	PurgeSettledNotices(ctx context.Context, olderThan time.Time) (int, error)
}

const noticeColumns = `id, recipient, kind, body, status, attempts, next_attempt_at, dedupe_key, claimed_at, last_error, created_at, updated_at`

// scanNotice reads the columns selected by noticeColumns.
func scanNotice(row rowScanner) (Notice, error) {
	var n Notice
	var dedupeKey, lastError sql.NullString
	var nextAttemptAt, claimedAt sql.NullTime
	err := row.Scan(
		&n.ID, &n.Recipient, &n.Kind, &n.Body, &n.Status, &n.Attempts,
		&nextAttemptAt, &dedupeKey, &claimedAt, &lastError, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return n, fmt.Errorf("scan notice: %w", err)
	}
	n.DedupeKey = dedupeKey.String
	n.LastError = lastError.String
	if nextAttemptAt.Valid {
		n.NextAttemptAt = &nextAttemptAt.Time
	}
	if claimedAt.Valid {
		n.ClaimedAt = &claimedAt.Time
	}
	return n, nil
}

func collectNotices(rows *sql.Rows) ([]Notice, error) {
	defer rows.Close()
	var notices []Notice
	for rows.Next() {
		n, err := scanNotice(rows)
		if err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}
	return notices, nil
}
