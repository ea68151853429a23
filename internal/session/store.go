// Package session holds the server-side half of browser sessions: the
// revocable record a cookie token must resolve to before it grants anything.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Record is the server-side state of one session. Owner and IsAdmin are
// resolved at login and cached for the session's lifetime; ExpiresAt slides
// forward on activity.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	IsAdmin   bool      `json:"is_admin"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists session records. Sessions are never stored alongside API
// key records; they live in memory by default, or in Redis when the
// deployment wants sessions to survive restarts.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Memory is the default in-process session store. A janitor goroutine sweeps
// expired records so logouts-by-timeout don't accumulate.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
	stop chan struct{}
	once sync.Once
}

const janitorInterval = time.Minute

// NewMemory creates an in-memory session store and starts its janitor.
func NewMemory() *Memory {
	m := &Memory{
		recs: make(map[string]Record),
		stop: make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for id, rec := range m.recs {
				if rec.ExpiresAt.Before(now) {
					delete(m.recs, id)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.recs[id]
	m.mu.RUnlock()
	if !ok || rec.ExpiresAt.Before(time.Now()) {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (m *Memory) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return ErrNotFound
	}
	rec.ExpiresAt = expiresAt
	m.recs[id] = rec
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
