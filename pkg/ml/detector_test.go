package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"decoynet/pkg/detection"
	"decoynet/pkg/models"
)

// mapModelStore is an in-memory ModelStore for tests.
type mapModelStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMapModelStore() *mapModelStore {
	return &mapModelStore{blobs: make(map[string][]byte)}
}

func (m *mapModelStore) SaveModel(_ context.Context, name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = blob
	return nil
}

func (m *mapModelStore) LoadModel(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("model %q not found", name)
	}
	return blob, nil
}

// benignVectors extracts features from varied but unremarkable browser
// traffic.
func benignVectors(t *testing.T, n int, rng *rand.Rand) [][]float64 {
	t.Helper()
	X := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		fv, err := detection.ExtractFeatures(syntheticBenign(rng))
		if err != nil {
			t.Fatalf("ExtractFeatures() error = %v", err)
		}
		X = append(X, fv)
	}
	return X
}

func TestDetector_NeutralBeforeTraining(t *testing.T) {
	d := NewDetector(nil, 1)
	if d.State() != StateUnloaded {
		t.Fatalf("State() = %s, want unloaded", d.State())
	}
	fv := make([]float64, detection.FeatureVectorLength)
	for i := 0; i < 10; i++ {
		if got := d.Predict(fv); got != NeutralScore {
			t.Fatalf("Predict() = %f before training, want exactly %f", got, NeutralScore)
		}
	}
}

func TestDetector_SyntheticFallbackTraining(t *testing.T) {
	d := NewDetector(nil, 42)
	// Far below the sample floor, so training must substitute the synthetic
	// corpus instead of failing.
	if err := d.Train(context.Background(), nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if d.State() != StateReady {
		t.Fatalf("State() = %s after training, want ready", d.State())
	}

	rng := rand.New(rand.NewSource(3))
	for _, fv := range benignVectors(t, 20, rng) {
		score := d.Predict(fv)
		if score < 0 || score > 1 {
			t.Errorf("Predict() = %f, want within [0,1]", score)
		}
	}
}

func TestDetector_WrongLengthFailsClosed(t *testing.T) {
	d := NewDetector(nil, 42)
	if err := d.Train(context.Background(), nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if got := d.Predict(make([]float64, 5)); got != 0 {
		t.Errorf("Predict() with short vector = %f, want 0", got)
	}
	if got := d.Predict(nil); got != 0 {
		t.Errorf("Predict() with nil vector = %f, want 0", got)
	}
}

func TestDetector_FlagsOutOfDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := NewDetector(nil, 42)
	if err := d.Train(context.Background(), benignVectors(t, 400, rng)); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	// Every feature pinned to its cap, nothing like the benign traffic the
	// models saw.
	extreme := make([]float64, detection.FeatureVectorLength)
	for i := range extreme {
		extreme[i] = 1
	}
	extremeScore := d.Predict(extreme)

	benign, err := detection.ExtractFeatures(models.RequestRecord{
		SourceIP:  "192.0.2.10",
		UserAgent: syntheticBrowserAgents[0],
		Method:    "GET",
		URL:       "/api/v1/users/7",
		Headers:   map[string]string{"Accept": "text/html,application/json"},
	})
	if err != nil {
		t.Fatalf("ExtractFeatures() error = %v", err)
	}
	benignScore := d.Predict(benign)

	if extremeScore < 0.6 {
		t.Errorf("out-of-distribution score = %.3f, want >= 0.6", extremeScore)
	}
	if extremeScore <= benignScore {
		t.Errorf("out-of-distribution score %.3f should exceed benign score %.3f", extremeScore, benignScore)
	}
}

func TestDetector_PersistAndReload(t *testing.T) {
	store := newMapModelStore()
	ctx := context.Background()

	d := NewDetector(store, 42)
	if err := d.Train(ctx, nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	restored := NewDetector(store, 99)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if restored.State() != StateReady {
		t.Fatalf("State() = %s after load, want ready", restored.State())
	}

	rng := rand.New(rand.NewSource(5))
	for i, fv := range benignVectors(t, 10, rng) {
		if got, want := restored.Predict(fv), d.Predict(fv); got != want {
			t.Errorf("vector %d: restored score %.6f, original %.6f", i, got, want)
		}
	}
}

func TestDetector_LoadWithoutStore(t *testing.T) {
	d := NewDetector(nil, 1)
	if err := d.Load(context.Background()); err == nil {
		t.Error("Load() without a store should fail")
	}
	if d.State() != StateUnloaded {
		t.Errorf("State() = %s after failed load, want unloaded", d.State())
	}
}

func TestCombineScores(t *testing.T) {
	tests := []struct {
		outlier, recon, want float64
	}{
		{1, 0, 0.6},
		{0, 1, 0.4},
		{1, 1, 1},
		{0, 0, 0},
		{0.5, 0.5, 0.5},
	}
	for _, tt := range tests {
		if got := combineScores(tt.outlier, tt.recon); got != tt.want {
			t.Errorf("combineScores(%v, %v) = %v, want %v", tt.outlier, tt.recon, got, tt.want)
		}
	}
}

func TestIsAnomaly(t *testing.T) {
	if !IsAnomaly(AnomalyThreshold) {
		t.Error("score at threshold should be anomalous")
	}
	if !IsAnomaly(0.95) {
		t.Error("score 0.95 should be anomalous")
	}
	if IsAnomaly(0.69) {
		t.Error("score 0.69 should not be anomalous")
	}
}

func TestDetector_ConcurrentPredict(t *testing.T) {
	d := NewDetector(nil, 42)
	if err := d.Train(context.Background(), nil); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	rng := rand.New(rand.NewSource(8))
	vectors := benignVectors(t, 8, rng)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				score := d.Predict(vectors[(i+j)%len(vectors)])
				if score < 0 || score > 1 {
					t.Errorf("Predict() = %f, want within [0,1]", score)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestGenerateSyntheticRecords(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	records := GenerateSyntheticRecords(1000, rng)
	if len(records) != 1000 {
		t.Fatalf("got %d records, want 1000", len(records))
	}

	attacks := 0
	for _, rec := range records {
		if rec.URL == "" || rec.Method == "" {
			t.Fatal("synthetic record missing required fields")
		}
		if c := detection.Classify(rec.URL, rec.UserAgent); c.AttackType != models.AttackNormal {
			attacks++
		}
	}
	// Roughly a fifth of the corpus should classify as attacks.
	if attacks < 100 || attacks > 350 {
		t.Errorf("attack share = %d of 1000, want a rough 20%%", attacks)
	}
}
