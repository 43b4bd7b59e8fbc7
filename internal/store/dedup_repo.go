package store

import (
	"context"
	"time"
)

// SubmissionKey links an idempotency key to the consent record it created.
type SubmissionKey struct {
	Key       string    `json:"key"`
	RecordID  string    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DedupRepo gives access to the submission idempotency keys.
type DedupRepo interface {
	// LookupSubmissionKey returns the record created under key, if any.
	LookupSubmissionKey(ctx context.Context, key string) (recordID string, found bool, err error)

	// PurgeSubmissionKeys deletes keys created before olderThan and reports how many.
	PurgeSubmissionKeys(ctx context.Context, olderThan time.Time) (int, error)
}
