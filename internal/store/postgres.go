// Package store provides storage backends for TrialConsent.
//
// This file implements a PostgreSQL-backed store for consent records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TrialConsent/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
	sqlNotices
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, sqlNotices: sqlNotices{db: db, postgres: true}}, nil
}

func (s *PostgresStore) CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error) {
	r, _, err := s.CreateConsentRecordOnce(ctx, fields, idempotencyKey)
	return r, err
}

func (s *PostgresStore) CreateConsentRecordOnce(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, bool, error) {
	now := time.Now()
	r := newConsentRecord(fields, now)
	fieldsJSON, err := encodeFields(r.Fields)
	if err != nil {
		return models.ConsentRecord{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ConsentRecord{}, false, fmt.Errorf("begin create consent: %w", err)
	}
	defer tx.Rollback()

	if idempotencyKey != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO submission_keys (idempotency_key, record_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (idempotency_key) DO NOTHING`,
			idempotencyKey, r.ID, now.UTC(),
		)
		if err != nil {
			return models.ConsentRecord{}, false, fmt.Errorf("record submission key failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.ConsentRecord{}, false, fmt.Errorf("submission key rows affected check failed: %w", err)
		}
		if n == 0 {
			existing, err := scanConsentRecord(tx.QueryRowContext(ctx,
				`SELECT `+consentColumns+` FROM consent_records WHERE id = (SELECT record_id FROM submission_keys WHERE idempotency_key = $1)`,
				idempotencyKey,
			))
			if err != nil {
				return models.ConsentRecord{}, false, fmt.Errorf("load submitted record for key: %w", err)
			}
			slog.Info("PostgresStore.CreateConsentRecord: duplicate submission, returning existing record", "id", existing.ID)
			return existing, false, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO consent_records (id, tracking_code, fields_json, status, submission_date) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.TrackingCode, string(fieldsJSON), r.Status, r.SubmissionDate,
	)
	if err != nil {
		slog.Error("PostgresStore CreateConsentRecord failed", "error", err)
		return models.ConsentRecord{}, false, fmt.Errorf("insert consent record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConsentRecord{}, false, fmt.Errorf("commit consent record: %w", err)
	}
	slog.Debug("PostgresStore CreateConsentRecord succeeded", "id", r.ID, "trackingCode", r.TrackingCode)
	return r, true, nil
}

func (s *PostgresStore) ListConsentRecords(ctx context.Context, status models.ParticipantStatus) ([]models.ConsentRecord, error) {
	query := `SELECT ` + consentColumns + ` FROM consent_records`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY submission_date DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListConsentRecords query failed", "error", err)
		return nil, fmt.Errorf("failed to query consent records: %w", err)
	}
	defer rows.Close()

	records := []models.ConsentRecord{}
	for rows.Next() {
		r, err := scanConsentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consent record rows: %w", err)
	}
	slog.Debug("PostgresStore ListConsentRecords succeeded", "count", len(records), "status", status)
	return records, nil
}

func (s *PostgresStore) GetConsentRecord(ctx context.Context, id string) (models.ConsentRecord, error) {
	r, err := scanConsentRecord(s.db.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConsentRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("get consent record %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateRecordStatus(ctx context.Context, id string, status models.ParticipantStatus) (models.ConsentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	current, err := scanConsentRecord(tx.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConsentRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("load consent record %s: %w", id, err)
	}
	updated, err := applyStatus(current, status, time.Now())
	if err != nil {
		return current, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE consent_records SET status = $1, approved_date = $2, rejected_date = $3 WHERE id = $4`,
		updated.Status, updated.ApprovedDate, updated.RejectedDate, id,
	)
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("update consent status %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConsentRecord{}, fmt.Errorf("commit status update: %w", err)
	}
	slog.Debug("PostgresStore UpdateRecordStatus succeeded", "id", id, "status", status)
	return updated, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consent_records WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteRecord failed", "error", err, "id", id)
		return fmt.Errorf("delete consent record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRecordNotFound
	}
	slog.Debug("PostgresStore DeleteRecord succeeded", "id", id)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
