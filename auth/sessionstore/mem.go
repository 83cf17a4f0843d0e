package sessionstore

import (
	"context"
	"time"

	"github.com/tent/tent-go/auth"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// In-process session storage. Entries expire after the TTL, and the least recently used are
// evicted beyond capacity.
type MemStore struct {
	Data *expirable.LRU[string, string]
}

func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

// Returns a view of the store scoped to one browser session.
func (s *MemStore) Session(sessionID string) auth.SessionStore {
	return &memSession{store: s, id: sessionID}
}

type memSession struct {
	store *MemStore
	id    string
}

func (m *memSession) key(k string) string {
	return m.id + "/" + k
}

func (m *memSession) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.store.Data.Get(m.key(key))
	return v, ok, nil
}

func (m *memSession) Set(ctx context.Context, key, value string) error {
	m.store.Data.Add(m.key(key), value)
	return nil
}

func (m *memSession) Delete(ctx context.Context, key string) error {
	m.store.Data.Remove(m.key(key))
	return nil
}
