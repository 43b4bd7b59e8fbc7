// Package store provides storage backends for TrialConsent.
//
// Every backend keeps consent records, the submission idempotency keys that
// guard against duplicate submissions, and the queue of pending notices.
// Backends are chosen by SelectBackend from an explicit precedence list.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TrialConsent/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// ConsentRepo persists consent records and their review status.
type ConsentRepo interface {
	// CreateConsentRecord stores a finalized form. A retry with the same
	// idempotency key returns the record created by the first call.
	CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error)

	// CreateConsentRecordOnce is CreateConsentRecord that also reports whether
	// this call created the record.
	CreateConsentRecordOnce(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, bool, error)

	// ListConsentRecords returns records newest first. An empty status lists all.
	ListConsentRecords(ctx context.Context, status models.ParticipantStatus) ([]models.ConsentRecord, error)

	GetConsentRecord(ctx context.Context, id string) (models.ConsentRecord, error)

	// UpdateRecordStatus applies a review decision and stamps its date.
	UpdateRecordStatus(ctx context.Context, id string, status models.ParticipantStatus) (models.ConsentRecord, error)

	DeleteRecord(ctx context.Context, id string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	ConsentRepo
	DedupRepo
	NoticeQueue
	Close() error
}

// Backend names a storage implementation.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite3"
	BackendMemory   Backend = "memory"
)

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// URLs and key=value connection strings, "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return string(BackendPostgres)
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return string(BackendPostgres)
	}
	return string(BackendSQLite)
}

// SelectBackend applies the backend precedence: a PostgreSQL DSN, then any
// other DSN as an SQLite path, then memory.
func SelectBackend(dsn string) Backend {
	if strings.TrimSpace(dsn) == "" {
		return BackendMemory
	}
	return Backend(DetectDSNType(dsn))
}

// Open creates the backend chosen by SelectBackend.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	backend := SelectBackend(cfg.DSN)
	slog.Info("store.Open: selecting storage backend", "backend", backend)
	switch backend {
	case BackendPostgres:
		return NewPostgresStore(opts...)
	case BackendSQLite:
		return NewSQLiteStore(opts...)
	case BackendMemory:
		return NewInMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}
