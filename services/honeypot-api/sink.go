package main

import (
	"context"
	"log"
	"sync"

	"decoynet/pkg/eventbus"
	"decoynet/pkg/models"
)

// alertSink consumes raised alerts off the bus and surfaces them in the
// service log, so operators see threshold crossings without polling the
// alerts API.
type alertSink struct {
	mu      sync.Mutex
	handled int
}

func (s *alertSink) Topics() []string {
	return []string{eventbus.TopicAlertRaised}
}

func (s *alertSink) Handle(_ context.Context, evt eventbus.Event) {
	a, ok := evt.Payload.(*models.SecurityAlert)
	if !ok {
		return
	}
	s.mu.Lock()
	s.handled++
	s.mu.Unlock()
	log.Printf("ALERT %s severity=%s source=%s attack=%s: %s",
		a.AlertID, a.Severity, a.SourceIP, a.AttackType, a.Description)
}

// count reports how many alerts the sink has handled.
func (s *alertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handled
}
