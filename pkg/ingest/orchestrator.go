// Package ingest orchestrates the detection pipeline: classify, score,
// persist, fingerprint, track the session, and evaluate alert thresholds
// for every honeypot request.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"decoynet/pkg/alert"
	"decoynet/pkg/detection"
	"decoynet/pkg/eventbus"
	"decoynet/pkg/fingerprint"
	"decoynet/pkg/ml"
	"decoynet/pkg/models"
	"decoynet/pkg/session"
	"decoynet/pkg/store"
)

// trainingHistoryLimit bounds how many stored events feed a retrain.
const trainingHistoryLimit = 10000

// Orchestrator wires the detection components together. All methods are
// safe for concurrent use.
type Orchestrator struct {
	store        store.Store
	detector     *ml.Detector
	fingerprints *fingerprint.Aggregator
	sessions     *session.Tracker
	alerts       *alert.Engine
	bus          eventbus.Publisher
	metrics      *Metrics
}

// Config collects the orchestrator's collaborators. Bus and Metrics are
// optional.
type Config struct {
	Store        store.Store
	Detector     *ml.Detector
	Fingerprints *fingerprint.Aggregator
	Sessions     *session.Tracker
	Alerts       *alert.Engine
	Bus          eventbus.Publisher
	Metrics      *Metrics
}

// New builds an orchestrator from its collaborators.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		store:        cfg.Store,
		detector:     cfg.Detector,
		fingerprints: cfg.Fingerprints,
		sessions:     cfg.Sessions,
		alerts:       cfg.Alerts,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
	}
}

func newRequestID(ts time.Time) string {
	return fmt.Sprintf("req_%d_%s", ts.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// suppliedConfidence is assigned when a decoy surface names the attack
// type itself instead of relying on the pattern rules.
const suppliedConfidence = 0.8

// SubmitEvent runs the full pipeline for one honeypot request. Event
// persistence is synchronous and its failure fails the call; fingerprint,
// session, and alert work is best-effort.
func (o *Orchestrator) SubmitEvent(ctx context.Context, rec models.RequestRecord) (*models.AttackEvent, error) {
	return o.submit(ctx, rec, detection.Classify(rec.URL, rec.UserAgent))
}

// SubmitClassified persists an event whose attack type the caller already
// knows, e.g. credential submissions against a decoy login form are brute
// force attempts by construction.
func (o *Orchestrator) SubmitClassified(ctx context.Context, rec models.RequestRecord, attackType models.AttackType) (*models.AttackEvent, error) {
	return o.submit(ctx, rec, models.Classification{
		AttackType: attackType,
		Severity:   detection.SeverityFor(attackType),
		Confidence: suppliedConfidence,
	})
}

func (o *Orchestrator) submit(ctx context.Context, rec models.RequestRecord, classification models.Classification) (*models.AttackEvent, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	score := o.score(rec)
	ev := o.buildEvent(rec, classification, score)

	if err := o.store.SaveEvent(ctx, ev); err != nil {
		if o.metrics != nil {
			o.metrics.StoreFailures.Inc()
		}
		return nil, fmt.Errorf("submit event: %w", err)
	}

	o.postPersist(ctx, ev)
	return ev, nil
}

// ScoreRequest classifies and scores a request without persisting anything.
func (o *Orchestrator) ScoreRequest(ctx context.Context, rec models.RequestRecord) models.Assessment {
	classification := detection.Classify(rec.URL, rec.UserAgent)
	score := o.score(rec)
	return models.Assessment{
		AttackType:   classification.AttackType,
		Severity:     classification.Severity,
		Confidence:   classification.Confidence,
		AnomalyScore: score,
		IsAnomaly:    ml.IsAnomaly(score),
	}
}

// RecordException persists a decoy or pipeline failure as an attack event
// so operational errors stay visible in the same stream. The cause message
// itself is classified: a crash triggered by an injection payload counts
// as that attack.
func (o *Orchestrator) RecordException(ctx context.Context, rec models.RequestRecord, cause string) (*models.AttackEvent, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	ev := o.buildEvent(rec, detection.ClassifyException(cause), 0)
	if ev.Body == "" {
		ev.Body = cause
	}
	ev.Tags = append(ev.Tags, "exception")

	if err := o.store.SaveEvent(ctx, ev); err != nil {
		if o.metrics != nil {
			o.metrics.StoreFailures.Inc()
		}
		return nil, fmt.Errorf("record exception: %w", err)
	}
	o.postPersist(ctx, ev)
	return ev, nil
}

func (o *Orchestrator) score(rec models.RequestRecord) float64 {
	features, err := detection.ExtractFeatures(rec)
	if err != nil {
		log.Printf("[ingest] feature extraction failed for %s %s: %v", rec.Method, rec.URL, err)
		return 0
	}
	score := o.detector.Predict(features)
	if o.metrics != nil {
		o.metrics.AnomalyScores.Observe(score)
	}
	return score
}

func (o *Orchestrator) buildEvent(rec models.RequestRecord, c models.Classification, score float64) *models.AttackEvent {
	sessionID := o.sessions.Touch(rec.SourceIP, rec.HoneypotType, rec.Endpoint)
	return &models.AttackEvent{
		RequestID:    newRequestID(rec.Timestamp),
		SessionID:    sessionID,
		Timestamp:    rec.Timestamp,
		SourceIP:     rec.SourceIP,
		UserAgent:    rec.UserAgent,
		Method:       rec.Method,
		Endpoint:     rec.Endpoint,
		URL:          rec.URL,
		Headers:      rec.Headers,
		QueryParams:  rec.QueryParams,
		Body:         rec.Body,
		StatusCode:   rec.StatusCode,
		ResponseTime: rec.ResponseTimeMs,
		AttackType:   c.AttackType,
		Severity:     c.Severity,
		Confidence:   c.Confidence,
		AnomalyScore: score,
		IsAnomaly:    ml.IsAnomaly(score),
		HoneypotType: rec.HoneypotType,
		Tags:         detection.ExtractTags(rec.URL, rec.Headers),
	}
}

// postPersist runs the best-effort stages after the event is stored.
func (o *Orchestrator) postPersist(ctx context.Context, ev *models.AttackEvent) {
	o.fingerprints.Update(*ev)

	if o.metrics != nil {
		o.metrics.EventsTotal.WithLabelValues(string(ev.AttackType), string(ev.Severity)).Inc()
		if ev.IsAnomaly {
			o.metrics.AnomaliesTotal.Inc()
		}
	}

	if a := o.alerts.Check(ctx, ev.SourceIP, ev.AttackType, ev.Severity); a != nil {
		if err := o.store.InsertAlert(ctx, a); err != nil {
			log.Printf("[ingest] failed to persist alert %s: %v", a.AlertID, err)
		}
		if o.metrics != nil {
			o.metrics.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
		}
		log.Printf("[ingest] alert %s: %s", a.AlertID, a.Title)
		o.publish(ctx, eventbus.TopicAlertRaised, a)
	}

	o.publish(ctx, eventbus.TopicAttackEvent, ev)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, eventbus.Event{Topic: topic, Source: "ingest", Payload: payload}); err != nil {
		log.Printf("[ingest] publish %s failed: %v", topic, err)
	}
}

// TrainModels retrains the detector on stored event history. With too
// little history the detector substitutes its synthetic corpus.
func (o *Orchestrator) TrainModels(ctx context.Context) error {
	events, err := o.store.RecentEvents(ctx, trainingHistoryLimit)
	if err != nil {
		return fmt.Errorf("train models: %w", err)
	}

	samples := make([][]float64, 0, len(events))
	for _, ev := range events {
		fv, err := detection.ExtractFeatures(models.RequestRecord{
			SourceIP:    ev.SourceIP,
			UserAgent:   ev.UserAgent,
			Method:      ev.Method,
			Endpoint:    ev.Endpoint,
			URL:         ev.URL,
			Headers:     ev.Headers,
			QueryParams: ev.QueryParams,
			Body:        ev.Body,
		})
		if err != nil {
			continue
		}
		samples = append(samples, fv)
	}

	if err := o.detector.Train(ctx, samples); err != nil {
		return fmt.Errorf("train models: %w", err)
	}
	o.publish(ctx, eventbus.TopicModelTrained, len(samples))
	return nil
}

// Bootstrap restores persisted models, falling back to a fresh training
// run when nothing usable is stored.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	err := o.detector.Load(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("[ingest] stored models unusable, retraining: %v", err)
	}
	return o.TrainModels(ctx)
}
