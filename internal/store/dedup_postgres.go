package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) LookupSubmissionKey(ctx context.Context, key string) (string, bool, error) {
	var recordID string
	err := s.db.QueryRowContext(ctx, `SELECT record_id FROM submission_keys WHERE idempotency_key = $1`, key).Scan(&recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("submission key lookup failed: %w", err)
	}
	return recordID, true, nil
}

func (s *PostgresStore) PurgeSubmissionKeys(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM submission_keys WHERE created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge submission keys failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected check failed: %w", err)
	}
	return int(n), nil
}
