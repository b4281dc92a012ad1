package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decoynet/pkg/models"
)

// Memory must satisfy the full Store surface.
var _ Store = (*Memory)(nil)
var _ Store = (*Postgres)(nil)

func TestMemory_EventsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		err := m.SaveEvent(ctx, &models.AttackEvent{
			RequestID: fmt.Sprintf("req_%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Severity:  models.SeverityLow,
		})
		require.NoError(t, err)
	}

	events, err := m.RecentEvents(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "req_4", events[0].RequestID)
	assert.Equal(t, "req_2", events[2].RequestID)
}

func TestMemory_CountEventsBySeverity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	save := func(sev models.Severity, ts time.Time) {
		require.NoError(t, m.SaveEvent(ctx, &models.AttackEvent{
			RequestID: fmt.Sprintf("req_%s_%d", sev, ts.UnixNano()),
			Timestamp: ts,
			Severity:  sev,
		}))
	}
	save(models.SeverityHigh, now)
	save(models.SeverityHigh, now.Add(-time.Hour))
	save(models.SeverityLow, now)
	save(models.SeverityHigh, now.Add(-48*time.Hour))

	counts, err := m.CountEventsBySeverity(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.SeverityHigh])
	assert.Equal(t, 1, counts[models.SeverityLow])
}

func TestMemory_FingerprintUpsert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	fp := models.AttackerFingerprint{SourceIP: "203.0.113.1", TotalRequests: 1}
	require.NoError(t, m.UpsertFingerprint(ctx, &fp))
	fp.TotalRequests = 7
	require.NoError(t, m.UpsertFingerprint(ctx, &fp))

	fps, err := m.LoadFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, 7, fps[0].TotalRequests)
}

func TestMemory_ModelBlobs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.LoadModel(ctx, "isolation_forest")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, m.SaveModel(ctx, "isolation_forest", []byte(`{"trees":[]}`)))
	blob, err := m.LoadModel(ctx, "isolation_forest")
	require.NoError(t, err)
	assert.JSONEq(t, `{"trees":[]}`, string(blob))

	// Loaded blobs are copies; mutating one must not corrupt the stored copy.
	blob[0] = 'X'
	blob2, err := m.LoadModel(ctx, "isolation_forest")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), blob2[0])
}

func TestMemory_AlertsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.InsertAlert(ctx, &models.SecurityAlert{
			AlertID:  fmt.Sprintf("alert_%d", i),
			Severity: models.SeverityCritical,
		}))
	}
	alerts, err := m.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "alert_2", alerts[0].AlertID)
}
