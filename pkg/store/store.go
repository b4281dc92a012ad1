// Package store persists the detection records: attack events, fingerprints,
// sessions, alerts, and trained model blobs. Postgres is the production
// backend; Memory backs tests and database-less deployments.
package store

import (
	"context"
	"errors"
	"time"

	"decoynet/pkg/models"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence surface consumed by the detection pipeline.
type Store interface {
	// SaveEvent inserts one immutable attack event.
	SaveEvent(ctx context.Context, ev *models.AttackEvent) error
	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]models.AttackEvent, error)
	// CountEventsBySeverity tallies events observed since the given time.
	CountEventsBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int, error)

	// UpsertFingerprint writes the current aggregate for a source address.
	UpsertFingerprint(ctx context.Context, fp *models.AttackerFingerprint) error
	// LoadFingerprints returns every persisted fingerprint.
	LoadFingerprints(ctx context.Context) ([]models.AttackerFingerprint, error)

	// UpsertSession writes a session snapshot.
	UpsertSession(ctx context.Context, s *models.HoneypotSession) error

	// InsertAlert records a raised alert.
	InsertAlert(ctx context.Context, a *models.SecurityAlert) error
	// RecentAlerts returns up to limit alerts, newest first.
	RecentAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error)

	// SaveModel persists a named model blob, replacing any previous version.
	SaveModel(ctx context.Context, name string, blob []byte) error
	// LoadModel returns a named model blob or ErrNotFound.
	LoadModel(ctx context.Context, name string) ([]byte, error)

	Close() error
}
