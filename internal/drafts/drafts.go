// Package drafts saves unfinished consent forms so a participant can leave and
// continue later. A draft belongs to one participant and expires after TTL.
package drafts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// TTL is how long an untouched draft is kept.
const TTL = 24 * time.Hour

// ErrNoOwner is returned when a draft is saved or loaded without a participant.
var ErrNoOwner = errors.New("draft owner is required")

// Draft is the saved state of an unfinished form.
type Draft struct {
	SessionID      string         `json:"session_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Values         map[string]any `json:"values"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Store keeps at most one draft per owner.
type Store interface {
	Load(ctx context.Context, owner string) (Draft, bool, error)
	Save(ctx context.Context, owner string, d Draft) error
	Delete(ctx context.Context, owner string) error
}

func ownerKey(owner string) (string, error) {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return "", ErrNoOwner
	}
	return owner, nil
}

// MemoryStore is a process-local Store used when Redis is not configured.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

type memoryEntry struct {
	draft   Draft
	expires time.Time
}

// NewMemoryStore creates an empty MemoryStore with the default TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]memoryEntry), ttl: TTL, now: time.Now}
}

func (m *MemoryStore) Load(ctx context.Context, owner string) (Draft, bool, error) {
	key, err := ownerKey(owner)
	if err != nil {
		return Draft{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.drafts[key]
	if !ok {
		return Draft{}, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.drafts, key)
		return Draft{}, false, nil
	}
	return copyDraft(e.draft), true, nil
}

func (m *MemoryStore) Save(ctx context.Context, owner string, d Draft) error {
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[key] = memoryEntry{draft: copyDraft(d), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, owner string) error {
	key, err := ownerKey(owner)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, key)
	return nil
}

func copyDraft(d Draft) Draft {
	values := make(map[string]any, len(d.Values))
	for k, v := range d.Values {
		values[k] = v
	}
	d.Values = values
	return d
}
