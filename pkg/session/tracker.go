// Package session groups honeypot requests into (source address, decoy
// surface) sessions. Sessions are telemetry grouping keys only; nothing
// here grants or implies authorization.
package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"decoynet/pkg/models"
)

const (
	// IdleTimeout is how long a session may sit without traffic before the
	// sweeper evicts it.
	IdleTimeout = time.Hour

	// SweepInterval is the default cadence of the eviction loop.
	SweepInterval = time.Hour
)

// Store persists session snapshots.
type Store interface {
	UpsertSession(ctx context.Context, s *models.HoneypotSession) error
}

type entry struct {
	session   models.HoneypotSession
	endpoints map[string]struct{}
}

// Tracker is the in-memory session cache. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	cache map[string]*entry
	store Store
	now   func() time.Time
}

// NewTracker builds an empty tracker. store may be nil.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		cache: make(map[string]*entry),
		store: store,
		now:   time.Now,
	}
}

func sessionKey(sourceIP, honeypotType string) string {
	return sourceIP + "|" + honeypotType
}

func newSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Touch records one request against the (address, surface) session, creating
// it if absent, and returns the session ID.
func (t *Tracker) Touch(sourceIP, honeypotType, endpoint string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := sessionKey(sourceIP, honeypotType)
	e, ok := t.cache[key]
	if !ok {
		now := t.now()
		e = &entry{
			session: models.HoneypotSession{
				SessionID:    newSessionID(),
				SourceIP:     sourceIP,
				HoneypotType: honeypotType,
				StartTime:    now,
			},
			endpoints: make(map[string]struct{}),
		}
		t.cache[key] = e
	}

	e.session.RequestCount++
	e.session.LastActivity = t.now()
	if endpoint != "" {
		if _, seen := e.endpoints[endpoint]; !seen {
			e.endpoints[endpoint] = struct{}{}
			e.session.Endpoints = append(e.session.Endpoints, endpoint)
		}
	}
	return e.session.SessionID
}

// Get returns a copy of the live session for the (address, surface) pair.
func (t *Tracker) Get(sourceIP, honeypotType string) (models.HoneypotSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.cache[sessionKey(sourceIP, honeypotType)]
	if !ok {
		return models.HoneypotSession{}, false
	}
	s := e.session
	s.Endpoints = append([]string(nil), e.session.Endpoints...)
	return s, true
}

// Size reports the number of live sessions.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

// Sweep evicts sessions idle past the timeout, persisting each final
// snapshot when a store is configured. Returns the eviction count.
func (t *Tracker) Sweep(ctx context.Context) int {
	cutoff := t.now().Add(-IdleTimeout)

	t.mu.Lock()
	var expired []*entry
	for key, e := range t.cache {
		if e.session.LastActivity.Before(cutoff) {
			expired = append(expired, e)
			delete(t.cache, key)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		if t.store == nil {
			continue
		}
		if err := t.store.UpsertSession(ctx, &e.session); err != nil {
			log.Printf("[session] failed to persist expired session %s: %v", e.session.SessionID, err)
		}
	}
	if len(expired) > 0 {
		log.Printf("[session] swept %d idle sessions, %d live", len(expired), t.Size())
	}
	return len(expired)
}

// SweepLoop runs Sweep on the interval until ctx is canceled.
func (t *Tracker) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}
