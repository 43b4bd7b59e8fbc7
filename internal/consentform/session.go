package consentform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/util"
)

// State is the lifecycle position of a form session.
type State string

const (
	// StateEditing is the initial state; fields are mutable.
	StateEditing State = "editing"
	// StatePreviewing is the read-only review shown before confirmation.
	StatePreviewing State = "previewing"
	// StateSubmitted is terminal; a consent record exists.
	StateSubmitted State = "submitted"
)

// SectionStatus is the derived gating status of a section.
type SectionStatus string

const (
	SectionLocked   SectionStatus = "locked"
	SectionActive   SectionStatus = "active"
	SectionComplete SectionStatus = "complete"
)

// Persister stores a finalized form. Retrying with the same idempotency key
// must return the record created by the first successful call.
type Persister interface {
	CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error)
}

// Patch is a partial mapping of field key to value proposed by the assistant.
type Patch map[string]any

// PatchResult reports what ApplyPatch did with each key.
type PatchResult struct {
	Applied  []string          `json:"applied"`
	Ignored  []string          `json:"ignored,omitempty"`  // keys not in the schema
	Rejected map[string]string `json:"rejected,omitempty"` // key -> reason
}

// Section is a section together with its derived status.
type Section struct {
	Number int           `json:"number"`
	Title  string        `json:"title"`
	Status SectionStatus `json:"status"`
}

// Completeness summarises required-field progress.
type Completeness struct {
	FilledRequired    int   `json:"filled_required"`
	TotalRequired     int   `json:"total_required"`
	Percent           int   `json:"percent"`
	CompletedSections []int `json:"completed_sections"`
}

// ValidationResult is the outcome of SubmitForReview. Missing lists violated
// keys in schema order; it is a reported failure, not an error.
type ValidationResult struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
}

// Snapshot is a consistent copy of the session for callers outside the package.
type Snapshot struct {
	ID             string                `json:"id"`
	State          State                 `json:"state"`
	Values         map[string]any        `json:"values"`
	Sections       []Section             `json:"sections"`
	Completeness   Completeness          `json:"completeness"`
	Record         *models.ConsentRecord `json:"record,omitempty"`
	IdempotencyKey string                `json:"-"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Opts holds configuration options for a form session.
type Opts struct {
	ID             string
	IdempotencyKey string
	Now            func() time.Time
}

// Option defines a configuration option for a form session.
type Option func(*Opts)

// WithID sets the session identifier.
func WithID(id string) Option {
	return func(o *Opts) { o.ID = id }
}

// WithIdempotencyKey sets the key sent with the submission; restoring a draft
// keeps the key so a resubmission after a crash is recognised.
func WithIdempotencyKey(key string) Option {
	return func(o *Opts) { o.IdempotencyKey = key }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Session is the single writer of one participant's form state.
type Session struct {
	mu         sync.RWMutex
	id         string
	key        string
	schema     *Schema
	persister  Persister
	now        func() time.Time
	values     map[FieldKey]any
	complete   map[int]bool
	state      State
	submitting bool
	record     *models.ConsentRecord
	updatedAt  time.Time
}

// NewSession starts a session in Editing with every field at its zero value
// and date fields marked DefaultToday set to the current date.
func NewSession(schema *Schema, persister Persister, opts ...Option) *Session {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ID == "" {
		cfg.ID = util.GenerateSessionID()
	}
	if cfg.IdempotencyKey == "" {
		cfg.IdempotencyKey = util.GenerateRandomID("idem_", 32)
	}

	s := &Session{
		id:        cfg.ID,
		key:       cfg.IdempotencyKey,
		schema:    schema,
		persister: persister,
		now:       cfg.Now,
		values:    make(map[FieldKey]any),
		complete:  make(map[int]bool),
		state:     StateEditing,
	}
	today := s.now().Format(DateLayout)
	for _, f := range schema.fields {
		s.values[f.Key] = f.ZeroValue()
		if f.DefaultToday {
			s.values[f.Key] = today
		}
	}
	for _, sec := range schema.sections {
		s.recomputeSectionLocked(sec.Number)
	}
	s.updatedAt = s.now()
	slog.Debug("Session.NewSession: form session started", "sessionID", s.id)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Schema returns the form definition the session validates against.
func (s *Session) Schema() *Schema {
	return s.schema
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetField validates and stores one value, then recomputes the owning
// section's completion. It never changes the lifecycle state.
func (s *Session) SetField(key string, value any) error {
	f, ok := s.schema.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, key)
	}
	v, err := f.Normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return ErrNotEditable
	}
	s.values[f.Key] = v
	s.recomputeSectionLocked(f.Section)
	s.updatedAt = s.now()
	slog.Debug("Session.SetField: field updated", "sessionID", s.id, "field", key, "section", f.Section)
	return nil
}

// ApplyPatch applies a batch of values under one lock so readers never observe
// part of it. Unknown keys are ignored and values failing their type contract
// are skipped; both are reported, neither is an error.
func (s *Session) ApplyPatch(patch Patch) (PatchResult, error) {
	result := PatchResult{Applied: []string{}}
	normalized := make(map[FieldKey]any, len(patch))
	touched := make(map[int]bool)

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := s.schema.Lookup(k)
		if !ok {
			result.Ignored = append(result.Ignored, k)
			continue
		}
		v, err := f.Normalize(patch[k])
		if err != nil {
			if result.Rejected == nil {
				result.Rejected = make(map[string]string)
			}
			result.Rejected[k] = err.Error()
			continue
		}
		normalized[f.Key] = v
		touched[f.Section] = true
		result.Applied = append(result.Applied, k)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return PatchResult{}, ErrNotEditable
	}
	for k, v := range normalized {
		s.values[k] = v
	}
	for n := range touched {
		s.recomputeSectionLocked(n)
	}
	if len(normalized) > 0 {
		s.updatedAt = s.now()
	}
	slog.Debug("Session.ApplyPatch: patch applied", "sessionID", s.id, "applied", len(result.Applied), "ignored", len(result.Ignored), "rejected", len(result.Rejected))
	return result, nil
}

// Restore rehydrates saved values into an Editing session. It follows the
// ApplyPatch contract.
func (s *Session) Restore(values map[string]any) (PatchResult, error) {
	return s.ApplyPatch(Patch(values))
}

// IsSectionComplete reports whether every required field of section n is filled.
func (s *Session) IsSectionComplete(n int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete[n]
}

// Sections returns every section with its gating status. Section n+1 is only
// unlocked once section n is complete.
func (s *Session) Sections() []Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sectionsLocked()
}

// ComputeOverallCompleteness summarises required-field progress.
func (s *Session) ComputeOverallCompleteness() Completeness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completenessLocked()
}

// SubmitForReview moves Editing -> Previewing when every required field is
// filled and both acknowledgment flags are true. Otherwise the session stays in
// Editing and the violated keys are returned.
func (s *Session) SubmitForReview() (ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEditing {
		return ValidationResult{}, ErrNotEditable
	}

	var missing []string
	seen := make(map[FieldKey]bool)
	for _, f := range s.schema.fields {
		if f.Required && !f.IsFilled(s.values[f.Key]) {
			missing = append(missing, string(f.Key))
			seen[f.Key] = true
		}
	}
	for _, k := range s.schema.acknowledgments {
		if v, _ := s.values[k].(bool); !v && !seen[k] {
			missing = append(missing, string(k))
		}
	}

	if len(missing) > 0 {
		slog.Debug("Session.SubmitForReview: validation failed", "sessionID", s.id, "missing", missing)
		return ValidationResult{OK: false, Missing: missing}, nil
	}
	s.state = StatePreviewing
	s.updatedAt = s.now()
	slog.Info("Session.SubmitForReview: form ready for preview", "sessionID", s.id)
	return ValidationResult{OK: true}, nil
}

// EditAgain returns Previewing -> Editing. It is never reachable from Submitted.
func (s *Session) EditAgain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateSubmitted:
		return ErrAlreadySubmitted
	case s.submitting:
		return ErrSubmissionInFlight
	case s.state != StatePreviewing:
		return ErrNotPreviewing
	}
	s.state = StateEditing
	s.updatedAt = s.now()
	slog.Debug("Session.EditAgain: returned to editing", "sessionID", s.id)
	return nil
}

// ConfirmSubmit hands the form state to the persister. On failure the session
// stays in Previewing so the caller can retry; a started submission cannot be
// cancelled by EditAgain.
func (s *Session) ConfirmSubmit(ctx context.Context) (models.ConsentRecord, error) {
	s.mu.Lock()
	switch {
	case s.state == StateSubmitted:
		s.mu.Unlock()
		return models.ConsentRecord{}, ErrAlreadySubmitted
	case s.state != StatePreviewing:
		s.mu.Unlock()
		return models.ConsentRecord{}, ErrNotPreviewing
	case s.submitting:
		s.mu.Unlock()
		return models.ConsentRecord{}, ErrSubmissionInFlight
	case s.persister == nil:
		s.mu.Unlock()
		return models.ConsentRecord{}, ErrNoPersister
	}
	s.submitting = true
	fields := s.exportLocked()
	key := s.key
	s.mu.Unlock()

	rec, err := s.persister.CreateConsentRecord(ctx, fields, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false
	if err != nil {
		slog.Error("Session.ConfirmSubmit: persistence failed, staying in preview", "sessionID", s.id, "error", err)
		return models.ConsentRecord{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	s.state = StateSubmitted
	s.record = &rec
	s.updatedAt = s.now()
	slog.Info("Session.ConfirmSubmit: consent submitted", "sessionID", s.id, "recordID", rec.ID, "trackingCode", rec.TrackingCode)
	return rec, nil
}

// Values returns a copy of the form state keyed by field key.
func (s *Session) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exportLocked()
}

// Value returns the current value of one field.
func (s *Session) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[FieldKey(key)]
	return v, ok
}

// Snapshot returns a consistent copy of the whole session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:             s.id,
		State:          s.state,
		Values:         s.exportLocked(),
		Sections:       s.sectionsLocked(),
		Completeness:   s.completenessLocked(),
		IdempotencyKey: s.key,
		UpdatedAt:      s.updatedAt,
	}
	if s.record != nil {
		rec := *s.record
		snap.Record = &rec
	}
	return snap
}

// recomputeSectionLocked refreshes the cached completion of section n only.
func (s *Session) recomputeSectionLocked(n int) {
	done := true
	for _, f := range s.schema.fields {
		if f.Section == n && f.Required && !f.IsFilled(s.values[f.Key]) {
			done = false
			break
		}
	}
	s.complete[n] = done
}

func (s *Session) sectionsLocked() []Section {
	out := make([]Section, 0, len(s.schema.sections))
	unlocked := true
	for _, sec := range s.schema.sections {
		status := SectionLocked
		if unlocked {
			status = SectionActive
			if s.complete[sec.Number] {
				status = SectionComplete
			}
		}
		out = append(out, Section{Number: sec.Number, Title: sec.Title, Status: status})
		unlocked = unlocked && s.complete[sec.Number]
	}
	return out
}

func (s *Session) completenessLocked() Completeness {
	c := Completeness{CompletedSections: []int{}}
	for _, f := range s.schema.fields {
		if !f.Required {
			continue
		}
		c.TotalRequired++
		if f.IsFilled(s.values[f.Key]) {
			c.FilledRequired++
		}
	}
	if c.TotalRequired > 0 {
		c.Percent = c.FilledRequired * 100 / c.TotalRequired
	} else {
		c.Percent = 100
	}
	for _, sec := range s.schema.sections {
		if s.complete[sec.Number] {
			c.CompletedSections = append(c.CompletedSections, sec.Number)
		}
	}
	return c
}

func (s *Session) exportLocked() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[string(k)] = v
	}
	return out
}
