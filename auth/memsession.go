package auth

import (
	"context"
	"sync"
)

// Simple in-memory implementation of [SessionStore] for a single browser session, for use
// in tests and demos. See the `sessionstore` package for multi-session backends.
type MemSession struct {
	values map[string]string

	lk sync.Mutex
}

var _ SessionStore = &MemSession{}

func NewMemSession() *MemSession {
	return &MemSession{
		values: make(map[string]string),
	}
}

func (m *MemSession) Get(ctx context.Context, key string) (string, bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemSession) Set(ctx context.Context, key, value string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemSession) Delete(ctx context.Context, key string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	delete(m.values, key)
	return nil
}

// Returns a copy of all the stored keys and values.
func (m *MemSession) Snapshot() map[string]string {
	m.lk.Lock()
	defer m.lk.Unlock()

	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
