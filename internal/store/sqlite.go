// Package store provides storage backends for TrialConsent.
//
// This file implements an SQLite-backed store for consent records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/TrialConsent/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
	sqlNotices
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := dsn
	if !strings.Contains(connStr, "?") {
		connStr += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// a single writer avoids SQLITE_BUSY between the API and the notice sender
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db, sqlNotices: sqlNotices{db: db}}, nil
}

func (s *SQLiteStore) CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error) {
	r, _, err := s.CreateConsentRecordOnce(ctx, fields, idempotencyKey)
	return r, err
}

func (s *SQLiteStore) CreateConsentRecordOnce(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, bool, error) {
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
			`INSERT OR IGNORE INTO submission_keys (idempotency_key, record_id, created_at) VALUES (?, ?, ?)`,
			idempotencyKey, r.ID, now.UTC(),
		)
		if err != nil {
			return models.ConsentRecord{}, false, fmt.Errorf("record submission key failed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var existingID string
			if err := tx.QueryRowContext(ctx, `SELECT record_id FROM submission_keys WHERE idempotency_key = ?`, idempotencyKey).Scan(&existingID); err != nil {
				return models.ConsentRecord{}, false, fmt.Errorf("lookup submission key failed: %w", err)
			}
			existing, err := scanConsentRecord(tx.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = ?`, existingID))
			if err != nil {
				return models.ConsentRecord{}, false, fmt.Errorf("load submitted record %s: %w", existingID, err)
			}
			slog.Info("SQLiteStore.CreateConsentRecord: duplicate submission, returning existing record", "id", existingID)
			return existing, false, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO consent_records (id, tracking_code, fields_json, status, submission_date) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.TrackingCode, string(fieldsJSON), r.Status, r.SubmissionDate,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateConsentRecord failed", "error", err)
		return models.ConsentRecord{}, false, fmt.Errorf("insert consent record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConsentRecord{}, false, fmt.Errorf("commit consent record: %w", err)
	}
	slog.Debug("SQLiteStore CreateConsentRecord succeeded", "id", r.ID, "trackingCode", r.TrackingCode)
	return r, true, nil
}

func (s *SQLiteStore) ListConsentRecords(ctx context.Context, status models.ParticipantStatus) ([]models.ConsentRecord, error) {
	query := `SELECT ` + consentColumns + ` FROM consent_records`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY submission_date DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListConsentRecords query failed", "error", err)
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
	slog.Debug("SQLiteStore ListConsentRecords succeeded", "count", len(records), "status", status)
	return records, nil
}

func (s *SQLiteStore) GetConsentRecord(ctx context.Context, id string) (models.ConsentRecord, error) {
	r, err := scanConsentRecord(s.db.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.ConsentRecord{}, models.ErrRecordNotFound
	}
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("get consent record %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRecordStatus(ctx context.Context, id string, status models.ParticipantStatus) (models.ConsentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	current, err := scanConsentRecord(tx.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM consent_records WHERE id = ?`, id))
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
		`UPDATE consent_records SET status = ?, approved_date = ?, rejected_date = ? WHERE id = ?`,
		updated.Status, updated.ApprovedDate, updated.RejectedDate, id,
	)
	if err != nil {
		return models.ConsentRecord{}, fmt.Errorf("update consent status %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.ConsentRecord{}, fmt.Errorf("commit status update: %w", err)
	}
	slog.Debug("SQLiteStore UpdateRecordStatus succeeded", "id", id, "status", status)
	return updated, nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM consent_records WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteRecord failed", "error", err, "id", id)
		return fmt.Errorf("delete consent record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRecordNotFound
	}
	slog.Debug("SQLiteStore DeleteRecord succeeded", "id", id)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
