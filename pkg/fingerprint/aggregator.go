// Package fingerprint maintains per-source behavioral aggregates: which
// attack categories an address has tried, how widely it probes, and how its
// request timing looks. Aggregates live in memory and flush to the store on
// an interval.
package fingerprint

import (
	"context"
	"log"
	"sync"
	"time"

	"decoynet/pkg/models"
)

const (
	// FlushInterval is the default cadence of the background persistence loop.
	FlushInterval = 30 * time.Minute

	// timingSeriesCap bounds the per-address timing series; older samples
	// roll off first.
	timingSeriesCap = 512

	// botUserAgentThreshold marks an address as automated once it has
	// presented more distinct user agents than this.
	botUserAgentThreshold = 3
)

// Risk score term caps. The total is clamped to 100.
const (
	riskRequestWeight  = 2
	riskRequestCap     = 50
	riskEndpointWeight = 3
	riskEndpointCap    = 30
	riskVarietyWeight  = 5
	riskVarietyCap     = 20
	riskAgentBonus     = 10
	riskMax            = 100
)

// Store persists fingerprints and restores them across restarts.
type Store interface {
	UpsertFingerprint(ctx context.Context, fp *models.AttackerFingerprint) error
	LoadFingerprints(ctx context.Context) ([]models.AttackerFingerprint, error)
}

type record struct {
	fp        models.AttackerFingerprint
	endpoints map[string]struct{}
	agents    map[string]struct{}
	dirty     bool
}

// Aggregator is the in-memory fingerprint cache. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	cache map[string]*record
	store Store
}

// NewAggregator builds an empty aggregator. store may be nil; flushes then
// become no-ops.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{
		cache: make(map[string]*record),
		store: store,
	}
}

// WarmLoad seeds the cache from persisted fingerprints so risk history
// survives restarts.
func (a *Aggregator) WarmLoad(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	fps, err := a.store.LoadFingerprints(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, fp := range fps {
		rec := &record{
			fp:        fp,
			endpoints: make(map[string]struct{}, len(fp.Endpoints)),
			agents:    make(map[string]struct{}, len(fp.UserAgents)),
		}
		for _, e := range fp.Endpoints {
			rec.endpoints[e] = struct{}{}
		}
		for _, ua := range fp.UserAgents {
			rec.agents[ua] = struct{}{}
		}
		a.cache[fp.SourceIP] = rec
	}
	log.Printf("[fingerprint] warm-loaded %d fingerprints", len(fps))
	return nil
}

// Update folds one attack event into the source's fingerprint, creating it
// on first sighting, and returns a copy of the updated aggregate.
func (a *Aggregator) Update(ev models.AttackEvent) models.AttackerFingerprint {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.cache[ev.SourceIP]
	if !ok {
		rec = &record{
			fp: models.AttackerFingerprint{
				SourceIP:       ev.SourceIP,
				AttackPatterns: make(map[models.AttackType]int),
				FirstSeen:      ev.Timestamp,
			},
			endpoints: make(map[string]struct{}),
			agents:    make(map[string]struct{}),
		}
		a.cache[ev.SourceIP] = rec
	}

	fp := &rec.fp
	fp.TotalRequests++
	// Sensors replay batches out of order; first/last seen only ever widen.
	if ev.Timestamp.After(fp.LastSeen) {
		fp.LastSeen = ev.Timestamp
	}
	if ev.Timestamp.Before(fp.FirstSeen) {
		fp.FirstSeen = ev.Timestamp
	}
	fp.AttackPatterns[ev.AttackType]++

	if ev.Endpoint != "" {
		if _, seen := rec.endpoints[ev.Endpoint]; !seen {
			rec.endpoints[ev.Endpoint] = struct{}{}
			fp.Endpoints = append(fp.Endpoints, ev.Endpoint)
			fp.UniqueEndpoints++
		}
	}
	if ev.UserAgent != "" {
		if _, seen := rec.agents[ev.UserAgent]; !seen {
			rec.agents[ev.UserAgent] = struct{}{}
			fp.UserAgents = append(fp.UserAgents, ev.UserAgent)
		}
	}

	sample := models.TimingSample{Timestamp: ev.Timestamp, ResponseTime: ev.ResponseTime}
	if len(fp.TimingSeries) >= timingSeriesCap {
		copy(fp.TimingSeries, fp.TimingSeries[1:])
		fp.TimingSeries[len(fp.TimingSeries)-1] = sample
	} else {
		fp.TimingSeries = append(fp.TimingSeries, sample)
	}

	fp.RiskScore = riskScore(fp)
	fp.ThreatLevel = threatLevel(fp.RiskScore)
	fp.IsBot = len(fp.UserAgents) > botUserAgentThreshold
	rec.dirty = true

	return copyFingerprint(fp)
}

// Get returns a copy of the fingerprint for an address, if one exists.
func (a *Aggregator) Get(sourceIP string) (models.AttackerFingerprint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.cache[sourceIP]
	if !ok {
		return models.AttackerFingerprint{}, false
	}
	return copyFingerprint(&rec.fp), true
}

// Size reports the number of tracked addresses.
func (a *Aggregator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cache)
}

// Flush persists every dirty fingerprint. A failing address stays dirty and
// is logged without blocking the rest of the batch.
func (a *Aggregator) Flush(ctx context.Context) (persisted, failed int) {
	if a.store == nil {
		return 0, 0
	}

	a.mu.Lock()
	pending := make([]models.AttackerFingerprint, 0)
	for _, rec := range a.cache {
		if rec.dirty {
			pending = append(pending, copyFingerprint(&rec.fp))
		}
	}
	a.mu.Unlock()

	for i := range pending {
		fp := &pending[i]
		if err := a.store.UpsertFingerprint(ctx, fp); err != nil {
			log.Printf("[fingerprint] flush failed for %s: %v", fp.SourceIP, err)
			failed++
			continue
		}
		persisted++
		a.mu.Lock()
		if rec, ok := a.cache[fp.SourceIP]; ok && rec.fp.TotalRequests == fp.TotalRequests {
			rec.dirty = false
		}
		a.mu.Unlock()
	}
	return persisted, failed
}

// FlushLoop runs Flush on the interval until ctx is canceled, then takes a
// final flush so shutdown loses nothing.
func (a *Aggregator) FlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			persisted, failed := a.Flush(context.Background())
			log.Printf("[fingerprint] final flush: persisted=%d failed=%d", persisted, failed)
			return
		case <-ticker.C:
			persisted, failed := a.Flush(ctx)
			if persisted > 0 || failed > 0 {
				log.Printf("[fingerprint] flush: persisted=%d failed=%d", persisted, failed)
			}
		}
	}
}

// riskScore combines attack volume, probing breadth, category variety, and
// agent churn. Benign traffic contributes only through endpoint breadth, so
// an address serving ordinary requests stays low.
func riskScore(fp *models.AttackerFingerprint) float64 {
	attackRequests := 0
	varieties := 0
	for t, n := range fp.AttackPatterns {
		if t == models.AttackNormal || n == 0 {
			continue
		}
		attackRequests += n
		varieties++
	}

	score := capped(attackRequests*riskRequestWeight, riskRequestCap) +
		capped(fp.UniqueEndpoints*riskEndpointWeight, riskEndpointCap) +
		capped(varieties*riskVarietyWeight, riskVarietyCap)
	if len(fp.UserAgents) > botUserAgentThreshold {
		score += riskAgentBonus
	}
	if score > riskMax {
		score = riskMax
	}
	return float64(score)
}

func capped(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}

// threatLevel buckets a risk score into the severity scale.
func threatLevel(risk float64) models.Severity {
	switch {
	case risk > 80:
		return models.SeverityCritical
	case risk > 60:
		return models.SeverityHigh
	case risk > 40:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func copyFingerprint(fp *models.AttackerFingerprint) models.AttackerFingerprint {
	out := *fp
	out.AttackPatterns = make(map[models.AttackType]int, len(fp.AttackPatterns))
	for k, v := range fp.AttackPatterns {
		out.AttackPatterns[k] = v
	}
	out.UserAgents = append([]string(nil), fp.UserAgents...)
	out.Endpoints = append([]string(nil), fp.Endpoints...)
	out.TimingSeries = append([]models.TimingSample(nil), fp.TimingSeries...)
	return out
}
