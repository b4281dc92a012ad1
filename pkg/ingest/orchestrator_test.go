package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"decoynet/pkg/alert"
	"decoynet/pkg/detection"
	"decoynet/pkg/fingerprint"
	"decoynet/pkg/ml"
	"decoynet/pkg/models"
	"decoynet/pkg/session"
	"decoynet/pkg/store"
)

func newTestOrchestrator(st store.Store) *Orchestrator {
	return New(Config{
		Store:        st,
		Detector:     ml.NewDetector(st, 42),
		Fingerprints: fingerprint.NewAggregator(st),
		Sessions:     session.NewTracker(st),
		Alerts:       alert.NewEngine(nil),
	})
}

// benignRecord produces varied browser traffic for baseline training.
func benignRecord(rng *rand.Rand) models.RequestRecord {
	paths := []string{"/api/v1/users", "/api/v1/products", "/index.html", "/static/app.js", "/health"}
	agents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	}
	path := paths[rng.Intn(len(paths))]
	url := path
	if rng.Float64() < 0.4 {
		url = fmt.Sprintf("%s?page=%d", path, rng.Intn(20))
	}
	return models.RequestRecord{
		SourceIP:  fmt.Sprintf("192.0.2.%d", rng.Intn(254)+1),
		UserAgent: agents[rng.Intn(len(agents))],
		Method:    "GET",
		URL:       url,
		Endpoint:  path,
		Headers:   map[string]string{"Accept": "text/html"},
	}
}

func trainOnBenign(t *testing.T, o *Orchestrator) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	X := make([][]float64, 0, 400)
	for i := 0; i < 400; i++ {
		fv, err := detection.ExtractFeatures(benignRecord(rng))
		if err != nil {
			t.Fatalf("ExtractFeatures() error = %v", err)
		}
		X = append(X, fv)
	}
	if err := o.detector.Train(context.Background(), X); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
}

func TestSubmitEvent_SQLMapScenario(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)
	trainOnBenign(t, o)
	ctx := context.Background()

	ev, err := o.SubmitEvent(ctx, models.RequestRecord{
		SourceIP:     "203.0.113.66",
		UserAgent:    "sqlmap/1.7",
		Method:       "GET",
		URL:          "/api/users?id=1' UNION SELECT username,password FROM users--",
		Endpoint:     "/api/users",
		QueryParams:  map[string]string{"id": "1' UNION SELECT username,password FROM users--"},
		HoneypotType: "web",
	})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}

	if ev.AttackType != models.AttackSQLi {
		t.Errorf("AttackType = %s, want sql_injection", ev.AttackType)
	}
	if ev.Severity != models.SeverityHigh {
		t.Errorf("Severity = %s, want high", ev.Severity)
	}
	if ev.Confidence != 0.9 {
		t.Errorf("Confidence = %f, want 0.9", ev.Confidence)
	}
	if ev.AnomalyScore < 0.6 {
		t.Errorf("AnomalyScore = %.3f for obvious injection, want >= 0.6", ev.AnomalyScore)
	}
	if !strings.HasPrefix(ev.RequestID, "req_") {
		t.Errorf("RequestID %q missing req_ prefix", ev.RequestID)
	}
	if !strings.HasPrefix(ev.SessionID, "session_") {
		t.Errorf("SessionID %q missing session_ prefix", ev.SessionID)
	}

	stored, err := mem.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(stored) != 1 || stored[0].RequestID != ev.RequestID {
		t.Errorf("stored events = %d, want the submitted one", len(stored))
	}

	fp, ok := o.fingerprints.Get("203.0.113.66")
	if !ok {
		t.Fatal("fingerprint not created")
	}
	if fp.AttackPatterns[models.AttackSQLi] != 1 {
		t.Errorf("fingerprint sql_injection count = %d, want 1", fp.AttackPatterns[models.AttackSQLi])
	}
}

func TestSubmitEvent_ColdStartNeutralScore(t *testing.T) {
	o := newTestOrchestrator(store.NewMemory())

	ev, err := o.SubmitEvent(context.Background(), models.RequestRecord{
		SourceIP: "192.0.2.5", UserAgent: "Mozilla/5.0", Method: "GET", URL: "/",
	})
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if ev.AnomalyScore != ml.NeutralScore {
		t.Errorf("AnomalyScore = %f before training, want exactly %f", ev.AnomalyScore, ml.NeutralScore)
	}
	if ev.IsAnomaly {
		t.Error("neutral score flagged as anomaly")
	}
}

type failingEventStore struct {
	*store.Memory
}

func (s *failingEventStore) SaveEvent(context.Context, *models.AttackEvent) error {
	return fmt.Errorf("simulated outage")
}

func TestSubmitEvent_PersistFailurePropagates(t *testing.T) {
	o := newTestOrchestrator(&failingEventStore{Memory: store.NewMemory()})

	_, err := o.SubmitEvent(context.Background(), models.RequestRecord{
		SourceIP: "203.0.113.1", UserAgent: "ua", Method: "GET", URL: "/x",
	})
	if err == nil {
		t.Fatal("SubmitEvent() should fail when the store fails")
	}
	// Best-effort stages must not run for an unpersisted event.
	if _, ok := o.fingerprints.Get("203.0.113.1"); ok {
		t.Error("fingerprint updated despite persistence failure")
	}
}

func TestScoreRequest_NoPersistence(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)
	ctx := context.Background()

	a := o.ScoreRequest(ctx, models.RequestRecord{
		SourceIP: "203.0.113.2", UserAgent: "Nikto/2.5.0", Method: "GET", URL: "/admin",
	})
	if a.AttackType != models.AttackTool {
		t.Errorf("AttackType = %s, want automated_tool", a.AttackType)
	}

	events, _ := mem.RecentEvents(ctx, 10)
	if len(events) != 0 {
		t.Errorf("ScoreRequest persisted %d events, want 0", len(events))
	}
	if _, ok := o.fingerprints.Get("203.0.113.2"); ok {
		t.Error("ScoreRequest updated a fingerprint")
	}
}

func TestRecordException(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)
	ctx := context.Background()

	ev, err := o.RecordException(ctx, models.RequestRecord{
		SourceIP: "203.0.113.3", UserAgent: "ua", Method: "POST", URL: "/honeypots/login",
	}, "decoy handler panic: template render")
	if err != nil {
		t.Fatalf("RecordException() error = %v", err)
	}
	if ev.AttackType != models.AttackException {
		t.Errorf("AttackType = %s, want exception", ev.AttackType)
	}
	if ev.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want medium", ev.Severity)
	}
	if ev.Body != "decoy handler panic: template render" {
		t.Errorf("Body = %q, want the cause", ev.Body)
	}

	events, _ := mem.RecentEvents(ctx, 10)
	if len(events) != 1 {
		t.Fatalf("stored events = %d, want 1", len(events))
	}

	// A failure caused by an injection payload classifies as that attack.
	ev, err = o.RecordException(ctx, models.RequestRecord{
		SourceIP: "203.0.113.3", UserAgent: "ua", Method: "GET", URL: "/api/items",
	}, "pq: syntax error near UNION SELECT")
	if err != nil {
		t.Fatalf("RecordException() error = %v", err)
	}
	if ev.AttackType != models.AttackSQLi {
		t.Errorf("AttackType = %s for sql-caused failure, want sql_injection", ev.AttackType)
	}
}

func TestSubmitClassified(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)

	ev, err := o.SubmitClassified(context.Background(), models.RequestRecord{
		SourceIP:     "203.0.113.12",
		UserAgent:    "Mozilla/5.0",
		Method:       "POST",
		URL:          "/admin/login",
		Endpoint:     "/admin/login",
		HoneypotType: "admin_panel",
	}, models.AttackBruteForce)
	if err != nil {
		t.Fatalf("SubmitClassified() error = %v", err)
	}
	if ev.AttackType != models.AttackBruteForce {
		t.Errorf("AttackType = %s, want brute_force", ev.AttackType)
	}
	if ev.Severity != models.SeverityMedium {
		t.Errorf("Severity = %s, want medium", ev.Severity)
	}

	fp, _ := o.fingerprints.Get("203.0.113.12")
	if fp.AttackPatterns[models.AttackBruteForce] != 1 {
		t.Errorf("brute_force count = %d, want 1", fp.AttackPatterns[models.AttackBruteForce])
	}
}

func TestSubmitEvent_AlertThresholdFlow(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)
	ctx := context.Background()

	// 25 high-severity injections from one source; the high threshold is 20
	// and the alert fires exactly once.
	for i := 0; i < 25; i++ {
		_, err := o.SubmitEvent(ctx, models.RequestRecord{
			SourceIP:  "198.51.100.40",
			UserAgent: "sqlmap/1.7",
			Method:    "GET",
			URL:       fmt.Sprintf("/api/items?id=%d UNION SELECT 1--", i),
			Endpoint:  "/api/items",
		})
		if err != nil {
			t.Fatalf("SubmitEvent() error = %v", err)
		}
	}

	alerts, err := mem.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want exactly 1", len(alerts))
	}
	a := alerts[0]
	if a.Severity != models.SeverityHigh {
		t.Errorf("alert severity = %s, want high", a.Severity)
	}
	if a.SourceIP != "198.51.100.40" {
		t.Errorf("alert source = %s", a.SourceIP)
	}
	if a.DetectionMethod != "threshold_based" {
		t.Errorf("DetectionMethod = %s", a.DetectionMethod)
	}
}

func TestTrainModels_FromStoredHistory(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 150; i++ {
		rec := benignRecord(rng)
		if _, err := o.SubmitEvent(ctx, rec); err != nil {
			t.Fatalf("SubmitEvent() error = %v", err)
		}
	}

	if err := o.TrainModels(ctx); err != nil {
		t.Fatalf("TrainModels() error = %v", err)
	}
	if o.detector.State() != ml.StateReady {
		t.Errorf("detector state = %s after training, want ready", o.detector.State())
	}
}

func TestBootstrap_TrainsWhenNothingStored(t *testing.T) {
	mem := store.NewMemory()
	o := newTestOrchestrator(mem)

	if err := o.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if o.detector.State() != ml.StateReady {
		t.Errorf("detector state = %s after bootstrap, want ready", o.detector.State())
	}

	// A second orchestrator against the same store restores without training.
	restored := newTestOrchestrator(mem)
	if err := restored.detector.Load(context.Background()); err != nil {
		t.Fatalf("Load() after bootstrap error = %v", err)
	}
}
