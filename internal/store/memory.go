package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/util"
)

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory. Data is lost on restart.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]models.ConsentRecord
	keys    map[string]SubmissionKey
	notices map[string]*Notice
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]models.ConsentRecord),
		keys:    make(map[string]SubmissionKey),
		notices: make(map[string]*Notice),
		now:     time.Now,
	}
}

func cloneRecord(r models.ConsentRecord) models.ConsentRecord {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	return r
}

func (s *InMemoryStore) CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error) {
	r, _, err := s.CreateConsentRecordOnce(ctx, fields, idempotencyKey)
	return r, err
}

func (s *InMemoryStore) CreateConsentRecordOnce(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ConsentRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if k, ok := s.keys[idempotencyKey]; ok {
			if existing, ok := s.records[k.RecordID]; ok {
				slog.Info("InMemoryStore.CreateConsentRecord: duplicate submission, returning existing record", "id", existing.ID)
				return cloneRecord(existing), false, nil
			}
		}
	}
	now := s.now()
	r := newConsentRecord(fields, now)
	s.records[r.ID] = r
	if idempotencyKey != "" {
		s.keys[idempotencyKey] = SubmissionKey{Key: idempotencyKey, RecordID: r.ID, CreatedAt: now.UTC()}
	}
	return cloneRecord(r), true, nil
}

func (s *InMemoryStore) ListConsentRecords(ctx context.Context, status models.ParticipantStatus) ([]models.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := []models.ConsentRecord{}
	for _, r := range s.records {
		if status != "" && r.Status != status {
			continue
		}
		records = append(records, cloneRecord(r))
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].SubmissionDate.Equal(records[j].SubmissionDate) {
			return records[i].SubmissionDate.After(records[j].SubmissionDate)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

func (s *InMemoryStore) GetConsentRecord(ctx context.Context, id string) (models.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return models.ConsentRecord{}, models.ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

func (s *InMemoryStore) UpdateRecordStatus(ctx context.Context, id string, status models.ParticipantStatus) (models.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return models.ConsentRecord{}, models.ErrRecordNotFound
	}
	updated, err := applyStatus(r, status, s.now())
	if err != nil {
		return cloneRecord(r), err
	}
	s.records[id] = updated
	return cloneRecord(updated), nil
}

func (s *InMemoryStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return models.ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *InMemoryStore) LookupSubmissionKey(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	return k.RecordID, ok, nil
}

func (s *InMemoryStore) PurgeSubmissionKeys(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, k := range s.keys {
		if k.CreatedAt.Before(olderThan) {
			delete(s.keys, key)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) QueueNotice(_ context.Context, recipient, kind, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, n := range s.notices {
			if n.DedupeKey == dedupeKey && n.Status != NoticeAbandoned {
				return n.ID, nil
			}
		}
	}
	now := s.now().UTC()
	n := &Notice{
		ID:        util.GenerateRandomID("ntc_", 24),
		Recipient: recipient,
		Kind:      kind,
		Body:      body,
		Status:    NoticeQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.notices[n.ID] = n
	return n.ID, nil
}

func (s *InMemoryStore) ClaimDueNotices(_ context.Context, now time.Time, limit int) ([]Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Notice
	for _, n := range s.notices {
		if n.Status != NoticeQueued || (n.NextAttemptAt != nil && n.NextAttemptAt.After(now)) {
			continue
		}
		due = append(due, n)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]Notice, 0, len(due))
	for _, n := range due {
		at := now.UTC()
		n.Status = NoticeSending
		n.ClaimedAt = &at
		n.UpdatedAt = at
		claimed = append(claimed, *n)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkNoticeDelivered(_ context.Context, id string) error {
	s.settle(id, func(n *Notice) {
		n.Status = NoticeDelivered
	})
	return nil
}

func (s *InMemoryStore) RetryNoticeAt(_ context.Context, id, errMsg string, at time.Time) error {
	s.settle(id, func(n *Notice) {
		next := at.UTC()
		n.Status = NoticeQueued
		n.Attempts++
		n.LastError = errMsg
		n.NextAttemptAt = &next
	})
	return nil
}

func (s *InMemoryStore) AbandonNotice(_ context.Context, id, errMsg string) error {
	s.settle(id, func(n *Notice) {
		n.Status = NoticeAbandoned
		n.Attempts++
		n.LastError = errMsg
	})
	return nil
}

func (s *InMemoryStore) ReleaseStaleClaims(_ context.Context, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, n := range s.notices {
		if n.Status == NoticeSending && n.ClaimedAt != nil && n.ClaimedAt.Before(claimedBefore) {
			n.Status = NoticeQueued
			n.ClaimedAt = nil
			released++
		}
	}
	return released, nil
}

func (s *InMemoryStore) PurgeSettledNotices(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for id, n := range s.notices {
		settled := n.Status == NoticeDelivered || n.Status == NoticeAbandoned
		if settled && n.UpdatedAt.Before(olderThan) {
			delete(s.notices, id)
			purged++
		}
	}
	return purged, nil
}

// Notices returns a snapshot of every notice, oldest first.
func (s *InMemoryStore) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notice, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// settle applies fn to a claimed notice and drops its claim. Unknown ids are
// ignored, matching the SQL backends.
func (s *InMemoryStore) settle(id string, fn func(*Notice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notices[id]
	if !ok {
		return
	}
	fn(n)
	n.ClaimedAt = nil
	n.UpdatedAt = s.now().UTC()
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
