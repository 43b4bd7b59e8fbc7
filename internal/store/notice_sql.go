package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/util"
)

// sqlNotices implements NoticeQueue on the notices table for both SQL
// backends. Queries are written with ? placeholders and rebound for Postgres.
type sqlNotices struct {
	db       *sql.DB
	postgres bool
}

func (q sqlNotices) rebind(query string) string {
	if !q.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q sqlNotices) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q sqlNotices) QueueNotice(ctx context.Context, recipient, kind, body, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existing string
		err := q.db.QueryRowContext(ctx,
			q.rebind(`SELECT id FROM notices WHERE dedupe_key = ? AND status <> 'abandoned'`),
			dedupeKey,
		).Scan(&existing)
		switch {
		case err == nil:
			slog.Debug("sqlNotices.QueueNotice: already queued", "dedupeKey", dedupeKey, "id", existing)
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return "", fmt.Errorf("look up notice %q: %w", dedupeKey, err)
		}
	}

	id := util.GenerateRandomID("ntc_", 24)
	now := time.Now().UTC()
	_, err := q.exec(ctx,
		`INSERT INTO notices (id, recipient, kind, body, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, recipient, kind, body, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("queue notice: %w", err)
	}
	return id, nil
}

// ClaimDueNotices stamps due notices with a fresh claim token in one update,
// then reads back exactly the rows carrying that token.
func (q sqlNotices) ClaimDueNotices(ctx context.Context, now time.Time, limit int) ([]Notice, error) {
	now = now.UTC()
	token := util.GenerateRandomHex(16)
	lock := ""
	if q.postgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	_, err := q.exec(ctx,
		`UPDATE notices SET status = 'sending', claim_token = ?, claimed_at = ?, updated_at = ?
		 WHERE id IN (
		   SELECT id FROM notices
		   WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		   ORDER BY created_at LIMIT ?`+lock+`
		 )`,
		token, now, now, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim notices: %w", err)
	}
	rows, err := q.db.QueryContext(ctx,
		q.rebind(`SELECT `+noticeColumns+` FROM notices WHERE claim_token = ? ORDER BY created_at`),
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("read claimed notices: %w", err)
	}
	notices, err := collectNotices(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(notices, func(i, j int) bool { return notices[i].CreatedAt.Before(notices[j].CreatedAt) })
	return notices, nil
}

func (q sqlNotices) MarkNoticeDelivered(ctx context.Context, id string) error {
	_, err := q.exec(ctx,
		`UPDATE notices SET status = 'delivered', claim_token = NULL, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark notice %s delivered: %w", id, err)
	}
	return nil
}

func (q sqlNotices) RetryNoticeAt(ctx context.Context, id, errMsg string, at time.Time) error {
	_, err := q.exec(ctx,
		`UPDATE notices SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?,
		 claim_token = NULL, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("reschedule notice %s: %w", id, err)
	}
	return nil
}

func (q sqlNotices) AbandonNotice(ctx context.Context, id, errMsg string) error {
	_, err := q.exec(ctx,
		`UPDATE notices SET status = 'abandoned', attempts = attempts + 1, last_error = ?,
		 claim_token = NULL, claimed_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("abandon notice %s: %w", id, err)
	}
	return nil
}

func (q sqlNotices) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int, error) {
	res, err := q.exec(ctx,
		`UPDATE notices SET status = 'queued', claim_token = NULL, claimed_at = NULL, updated_at = ?
		 WHERE status = 'sending' AND claimed_at < ?`,
		time.Now().UTC(), claimedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("release stale notice claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q sqlNotices) PurgeSettledNotices(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := q.exec(ctx,
		`DELETE FROM notices WHERE status IN ('delivered', 'abandoned') AND updated_at < ?`,
		olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge settled notices: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
