package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/util"
	"github.com/google/uuid"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// newConsentRecord builds a pending record for fields submitted at now.
func newConsentRecord(fields map[string]any, now time.Time) models.ConsentRecord {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return models.ConsentRecord{
		ID:             uuid.NewString(),
		TrackingCode:   util.GenerateTrackingCode(now),
		Fields:         copied,
		Status:         models.StatusPending,
		SubmissionDate: now.UTC(),
	}
}

// applyStatus returns r after a review decision taken at now.
func applyStatus(r models.ConsentRecord, status models.ParticipantStatus, now time.Time) (models.ConsentRecord, error) {
	if err := models.ValidateTransition(r.Status, status); err != nil {
		return r, err
	}
	r.Status = status
	stamp := now.UTC()
	switch status {
	case models.StatusApproved:
		r.ApprovedDate = &stamp
	case models.StatusRejected:
		r.RejectedDate = &stamp
	}
	return r, nil
}

func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode consent fields: %w", err)
	}
	return b, nil
}

// scanConsentRecord reads the columns selected by consentColumns.
func scanConsentRecord(row rowScanner) (models.ConsentRecord, error) {
	var r models.ConsentRecord
	var fieldsJSON []byte
	var status string
	var approved, rejected sql.NullTime
	if err := row.Scan(&r.ID, &r.TrackingCode, &fieldsJSON, &status, &r.SubmissionDate, &approved, &rejected); err != nil {
		return r, err
	}
	r.Status = models.ParticipantStatus(status)
	r.Fields = map[string]any{}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
			return r, fmt.Errorf("decode consent fields for %s: %w", r.ID, err)
		}
	}
	if approved.Valid {
		t := approved.Time.UTC()
		r.ApprovedDate = &t
	}
	if rejected.Valid {
		t := rejected.Time.UTC()
		r.RejectedDate = &t
	}
	r.SubmissionDate = r.SubmissionDate.UTC()
	return r, nil
}

const consentColumns = `id, tracking_code, fields_json, status, submission_date, approved_date, rejected_date`
