// Package alert raises security alerts when rolling per-source severity
// counts cross their thresholds. Counters live in Redis when available so
// several ingest replicas share one window; otherwise a local fallback
// keeps single-node behavior identical.
package alert

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"decoynet/pkg/models"
)

const (
	// windowDuration is the rolling count window, anchored at the first
	// event of the window.
	windowDuration = 24 * time.Hour

	detectionMethod = "threshold_based"
	alertType       = "attack_threshold_exceeded"
	alertConfidence = 0.8

	// CleanupInterval is the default cadence for pruning expired local
	// windows.
	CleanupInterval = time.Hour
)

// severityThresholds: event counts at which one alert fires per window.
// Low-severity traffic never alerts.
var severityThresholds = map[models.Severity]int64{
	models.SeverityCritical: 10,
	models.SeverityHigh:     20,
	models.SeverityMedium:   50,
}

type localWindow struct {
	start time.Time
	count int64
}

// Engine evaluates threshold alerts. Safe for concurrent use.
type Engine struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]*localWindow

	now func() time.Time
}

// NewEngine builds an alert engine. rdb may be nil; counting then stays
// in-process.
func NewEngine(rdb *redis.Client) *Engine {
	return &Engine{
		rdb:   rdb,
		local: make(map[string]*localWindow),
		now:   time.Now,
	}
}

// Check counts one classified event against its source and severity. It
// returns a new alert exactly when the count reaches the severity's
// threshold within the window, and nil otherwise.
func (e *Engine) Check(ctx context.Context, sourceIP string, attackType models.AttackType, severity models.Severity) *models.SecurityAlert {
	threshold, ok := severityThresholds[severity]
	if !ok {
		return nil
	}

	count := e.increment(ctx, sourceIP, severity)
	if count != threshold {
		return nil
	}
	return e.buildAlert(sourceIP, attackType, severity, count)
}

// increment bumps the per-source severity counter, preferring Redis and
// falling back to the local window on error.
func (e *Engine) increment(ctx context.Context, sourceIP string, severity models.Severity) int64 {
	if e.rdb != nil {
		key := fmt.Sprintf("decoynet:alertcount:%s:%s", sourceIP, severity)
		pipe := e.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, windowDuration)
		_, err := pipe.Exec(ctx)
		if err == nil {
			return incr.Val()
		}
		log.Printf("[alert] redis counter failed for %s, using local window: %v", sourceIP, err)
	}
	return e.incrementLocal(sourceIP, severity)
}

func (e *Engine) incrementLocal(sourceIP string, severity models.Severity) int64 {
	key := sourceIP + "|" + string(severity)
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.local[key]
	if !ok || now.Sub(w.start) > windowDuration {
		w = &localWindow{start: now}
		e.local[key] = w
	}
	w.count++
	return w.count
}

func (e *Engine) buildAlert(sourceIP string, attackType models.AttackType, severity models.Severity, count int64) *models.SecurityAlert {
	id := "alert_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	description := fmt.Sprintf("%d %s severity events from %s within 24 hours, most recent classified as %s",
		count, severity, sourceIP, attackType)
	return &models.SecurityAlert{
		AlertID:         id,
		Timestamp:       e.now().UTC(),
		AlertType:       alertType,
		Severity:        severity,
		Title:           fmt.Sprintf("Multiple %s severity attacks from %s", severity, sourceIP),
		Description:     description,
		SourceIP:        sourceIP,
		AttackType:      attackType,
		DetectionMethod: detectionMethod,
		Confidence:      alertConfidence,
		Status:          models.AlertStatusOpen,
	}
}

// Cleanup prunes expired local windows and returns how many were removed.
func (e *Engine) Cleanup() int {
	cutoff := e.now().Add(-windowDuration)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, w := range e.local {
		if w.start.Before(cutoff) {
			delete(e.local, key)
			removed++
		}
	}
	return removed
}

// CleanupLoop runs Cleanup on the interval until ctx is canceled.
func (e *Engine) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Cleanup(); n > 0 {
				log.Printf("[alert] pruned %d expired windows", n)
			}
		}
	}
}
