package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) LookupSubmissionKey(ctx context.Context, key string) (string, bool, error) {
	var recordID string
	err := s.db.QueryRowContext(ctx, `SELECT record_id FROM submission_keys WHERE idempotency_key = ?`, key).Scan(&recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("submission key lookup failed: %w", err)
	}
	return recordID, true, nil
}

func (s *SQLiteStore) PurgeSubmissionKeys(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submission_keys WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge submission keys failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
