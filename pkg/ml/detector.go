package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"decoynet/pkg/detection"
)

// State is the detector lifecycle. Transitions only move forward within one
// training cycle: Unloaded -> Training -> Ready.
type State int32

const (
	StateUnloaded State = iota
	StateTraining
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateTraining:
		return "training"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Scoring and training parameters. The ensemble weights and the anomaly
// threshold are the tunables operators most often ask about.
const (
	// MinTrainingSamples is the historical-data floor below which training
	// falls back to a synthetic corpus.
	MinTrainingSamples = 100
	// SyntheticCorpusSize is the size of that fallback corpus.
	SyntheticCorpusSize = 1000
	// AnomalyThreshold marks a combined score as anomalous.
	AnomalyThreshold = 0.7
	// NeutralScore is returned while no trained models are available.
	NeutralScore = 0.5

	outlierWeight        = 0.6
	reconstructionWeight = 0.4

	contamination      = 0.10
	testFraction       = 0.20
	forestTrees        = 100
	forestSampleSize   = 256
	trainEpochs        = 60
	trainLearningRate  = 0.01
	decisionSteepness  = 12.0
	reconCalibQuantile = 0.95
)

// Persisted blob names.
const (
	blobForest  = "isolation_forest"
	blobEncoder = "autoencoder"
	blobScaler  = "feature_scaler"
	blobConfig  = "feature_config"
)

// ModelStore persists and restores named model blobs.
type ModelStore interface {
	SaveModel(ctx context.Context, name string, blob []byte) error
	LoadModel(ctx context.Context, name string) ([]byte, error)
}

// featureConfig is stored beside the models so a reload can verify the
// feature schema it was trained against.
type featureConfig struct {
	FeatureCount     int                `json:"feature_count"`
	MethodLabels     map[string]float64 `json:"method_labels"`
	ReconCalibration float64            `json:"recon_calibration"`
	TrainingSamples  int                `json:"training_samples"`
	TrainedAt        time.Time          `json:"trained_at"`
}

// Detector combines the isolation forest and the autoencoder into one
// anomaly score per feature vector. Predict is safe for concurrent use and
// never blocks on training.
type Detector struct {
	mu    sync.RWMutex
	state atomic.Int32

	forest       *IsolationForest
	encoder      *Autoencoder
	scaler       *StandardScaler
	reconCalib   float64
	featureCount int

	store ModelStore
	rng   *rand.Rand
}

// NewDetector builds an unloaded detector. store may be nil; the detector
// then skips persistence.
func NewDetector(store ModelStore, seed int64) *Detector {
	return &Detector{
		store: store,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// State reports the current lifecycle state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Train fits the full ensemble on the given feature vectors. When fewer
// than MinTrainingSamples are supplied, a synthetic corpus replaces them.
// While training runs, Predict serves the neutral score.
func (d *Detector) Train(ctx context.Context, samples [][]float64) error {
	d.state.Store(int32(StateTraining))

	d.mu.Lock()
	defer d.mu.Unlock()

	X := samples
	if len(X) < MinTrainingSamples {
		log.Printf("[detector] %d historical samples below floor %d, training on synthetic corpus of %d",
			len(X), MinTrainingSamples, SyntheticCorpusSize)
		X = SyntheticTrainingSet(SyntheticCorpusSize, d.rng)
	}
	dims := len(X[0])

	d.rng.Shuffle(len(X), func(i, j int) { X[i], X[j] = X[j], X[i] })
	split := len(X) - int(float64(len(X))*testFraction)
	train, test := X[:split], X[split:]

	scaler := &StandardScaler{}
	if err := scaler.Fit(train); err != nil {
		d.state.Store(int32(StateUnloaded))
		return fmt.Errorf("train: %w", err)
	}
	scaledTrain, err := scaler.TransformAll(train)
	if err != nil {
		d.state.Store(int32(StateUnloaded))
		return fmt.Errorf("train: %w", err)
	}

	sample := forestSampleSize
	if sample > len(scaledTrain) {
		sample = len(scaledTrain)
	}
	forest := NewIsolationForest(forestTrees, sample)
	forest.Fit(scaledTrain, contamination, d.rng)

	encoder := NewAutoencoder(dims, d.rng)
	if err := encoder.Train(scaledTrain, trainEpochs, trainLearningRate, d.rng); err != nil {
		d.state.Store(int32(StateUnloaded))
		return fmt.Errorf("train: %w", err)
	}

	calib := reconCalibration(encoder, scaledTrain)

	d.forest = forest
	d.encoder = encoder
	d.scaler = scaler
	d.reconCalib = calib
	d.featureCount = dims
	d.state.Store(int32(StateReady))

	d.logDiagnostics(test)

	if err := d.persist(ctx, len(train)); err != nil {
		log.Printf("[detector] model persistence failed: %v", err)
	}
	return nil
}

// reconCalibration is the training-set reconstruction error quantile used to
// normalize live errors, keeping scores comparable across training runs.
func reconCalibration(encoder *Autoencoder, X [][]float64) float64 {
	errs := make([]float64, 0, len(X))
	for _, x := range X {
		e, err := encoder.ReconstructionError(x)
		if err != nil {
			continue
		}
		errs = append(errs, e)
	}
	if len(errs) == 0 {
		return 1
	}
	sort.Float64s(errs)
	idx := int(float64(len(errs)) * reconCalibQuantile)
	if idx >= len(errs) {
		idx = len(errs) - 1
	}
	calib := errs[idx]
	if calib < 1e-9 {
		calib = 1e-9
	}
	return calib
}

// logDiagnostics scores the held-out split and logs summary stats.
func (d *Detector) logDiagnostics(test [][]float64) {
	if len(test) == 0 {
		return
	}
	var sum float64
	anomalies := 0
	for _, x := range test {
		score := d.scoreLocked(x)
		sum += score
		if score >= AnomalyThreshold {
			anomalies++
		}
	}
	log.Printf("[detector] trained: test_samples=%d mean_score=%.3f anomalies=%d threshold=%.2f",
		len(test), sum/float64(len(test)), anomalies, AnomalyThreshold)
}

// Predict returns the combined anomaly score for one feature vector.
// Without trained models it returns the neutral score; any scoring failure
// against trained models fails closed to 0 and is logged.
func (d *Detector) Predict(features []float64) float64 {
	if d.State() != StateReady {
		return NeutralScore
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(features) != d.featureCount {
		log.Printf("[detector] rejecting vector of length %d, models trained on %d", len(features), d.featureCount)
		return 0
	}
	return d.scoreLocked(features)
}

func (d *Detector) scoreLocked(features []float64) float64 {
	scaled, err := d.scaler.Transform(features)
	if err != nil {
		log.Printf("[detector] scaling failed: %v", err)
		return 0
	}
	outlier := sigmoid(decisionSteepness * d.forest.DecisionValue(scaled))
	mse, err := d.encoder.ReconstructionError(scaled)
	if err != nil {
		log.Printf("[detector] reconstruction failed: %v", err)
		return 0
	}
	recon := mse / d.reconCalib
	if recon > 1 {
		recon = 1
	}
	return combineScores(outlier, recon)
}

// combineScores applies the fixed ensemble weighting.
func combineScores(outlier, reconstruction float64) float64 {
	return outlierWeight*outlier + reconstructionWeight*reconstruction
}

// IsAnomaly reports whether a combined score crosses the anomaly threshold.
func IsAnomaly(score float64) bool {
	return score >= AnomalyThreshold
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func (d *Detector) persist(ctx context.Context, trainingSamples int) error {
	if d.store == nil {
		return nil
	}
	blobs := map[string]interface{ MarshalBinary() ([]byte, error) }{
		blobForest:  d.forest,
		blobEncoder: d.encoder,
		blobScaler:  d.scaler,
	}
	for name, m := range blobs {
		data, err := m.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		if err := d.store.SaveModel(ctx, name, data); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
	}
	cfg := featureConfig{
		FeatureCount:     d.featureCount,
		MethodLabels:     detection.MethodLabels(),
		ReconCalibration: d.reconCalib,
		TrainingSamples:  trainingSamples,
		TrainedAt:        time.Now().UTC(),
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", blobConfig, err)
	}
	if err := d.store.SaveModel(ctx, blobConfig, data); err != nil {
		return fmt.Errorf("save %s: %w", blobConfig, err)
	}
	return nil
}

// Load restores persisted models. On any failure the detector stays in its
// current state so the caller can fall back to training.
func (d *Detector) Load(ctx context.Context) error {
	if d.store == nil {
		return fmt.Errorf("load: no model store configured")
	}

	cfgData, err := d.store.LoadModel(ctx, blobConfig)
	if err != nil {
		return fmt.Errorf("load %s: %w", blobConfig, err)
	}
	var cfg featureConfig
	if err := json.Unmarshal(cfgData, &cfg); err != nil {
		return fmt.Errorf("decode %s: %w", blobConfig, err)
	}
	if cfg.FeatureCount != detection.FeatureVectorLength {
		return fmt.Errorf("load: stored models expect %d features, pipeline produces %d",
			cfg.FeatureCount, detection.FeatureVectorLength)
	}

	forest := &IsolationForest{}
	encoder := &Autoencoder{}
	scaler := &StandardScaler{}
	for name, m := range map[string]interface{ UnmarshalBinary([]byte) error }{
		blobForest:  forest,
		blobEncoder: encoder,
		blobScaler:  scaler,
	} {
		data, err := d.store.LoadModel(ctx, name)
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		if err := m.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
	}

	d.mu.Lock()
	d.forest = forest
	d.encoder = encoder
	d.scaler = scaler
	d.reconCalib = cfg.ReconCalibration
	d.featureCount = cfg.FeatureCount
	d.mu.Unlock()
	d.state.Store(int32(StateReady))

	log.Printf("[detector] restored models trained at %s on %d samples",
		cfg.TrainedAt.Format(time.RFC3339), cfg.TrainingSamples)
	return nil
}
