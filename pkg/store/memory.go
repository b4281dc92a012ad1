package store

import (
	"context"
	"sync"
	"time"

	"decoynet/pkg/models"
)

// Memory is the in-process Store used by tests and database-less
// deployments. Safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	events       []models.AttackEvent
	fingerprints map[string]models.AttackerFingerprint
	sessions     map[string]models.HoneypotSession
	alerts       []models.SecurityAlert
	modelBlobs   map[string][]byte
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		fingerprints: make(map[string]models.AttackerFingerprint),
		sessions:     make(map[string]models.HoneypotSession),
		modelBlobs:   make(map[string][]byte),
	}
}

func (m *Memory) SaveEvent(_ context.Context, ev *models.AttackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *Memory) RecentEvents(_ context.Context, limit int) ([]models.AttackEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.events)
	if limit > n {
		limit = n
	}
	out := make([]models.AttackEvent, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *Memory) CountEventsBySeverity(_ context.Context, since time.Time) (map[models.Severity]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.Severity]int)
	for _, ev := range m.events {
		if !ev.Timestamp.Before(since) {
			counts[ev.Severity]++
		}
	}
	return counts, nil
}

func (m *Memory) UpsertFingerprint(_ context.Context, fp *models.AttackerFingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[fp.SourceIP] = *fp
	return nil
}

func (m *Memory) LoadFingerprints(_ context.Context) ([]models.AttackerFingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AttackerFingerprint, 0, len(m.fingerprints))
	for _, fp := range m.fingerprints {
		out = append(out, fp)
	}
	return out, nil
}

func (m *Memory) UpsertSession(_ context.Context, s *models.HoneypotSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *Memory) InsertAlert(_ context.Context, a *models.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *Memory) RecentAlerts(_ context.Context, limit int) ([]models.SecurityAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.alerts)
	if limit > n {
		limit = n
	}
	out := make([]models.SecurityAlert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

func (m *Memory) SaveModel(_ context.Context, name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelBlobs[name] = append([]byte(nil), blob...)
	return nil
}

func (m *Memory) LoadModel(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.modelBlobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (m *Memory) Close() error {
	return nil
}
