package main

import (
	"context"
	"testing"
	"time"

	"decoynet/pkg/eventbus"
	"decoynet/pkg/models"
)

func TestAlertSink_ReceivesRaisedAlerts(t *testing.T) {
	bus := eventbus.NewBus(8)
	defer bus.Close()
	sink := &alertSink{}
	bus.Register(sink)

	err := bus.Publish(context.Background(), eventbus.Event{
		Topic:  eventbus.TopicAlertRaised,
		Source: "ingest",
		Payload: &models.SecurityAlert{
			AlertID:    "alert_abc123def456",
			Severity:   models.SeverityHigh,
			SourceIP:   "198.51.100.40",
			AttackType: models.AttackSQLi,
		},
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sink never received the published alert")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Other topics must not reach the sink.
	if err := bus.Publish(context.Background(), eventbus.Event{
		Topic:   eventbus.TopicAttackEvent,
		Source:  "ingest",
		Payload: &models.AttackEvent{},
	}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("handled = %d after unrelated topic, want 1", got)
	}
}
