package ml

import (
	"math/rand"
	"testing"
)

// clusterWithOutlier builds a tight 4-dim cluster around the origin plus one
// far-away point.
func clusterWithOutlier(rng *rand.Rand) (cluster [][]float64, outlier []float64) {
	cluster = make([][]float64, 200)
	for i := range cluster {
		cluster[i] = []float64{
			rng.NormFloat64() * 0.1,
			rng.NormFloat64() * 0.1,
			rng.NormFloat64() * 0.1,
			rng.NormFloat64() * 0.1,
		}
	}
	outlier = []float64{5, 5, 5, 5}
	return cluster, outlier
}

func TestIsolationForest_OutlierScoresHigher(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cluster, outlier := clusterWithOutlier(rng)

	f := NewIsolationForest(100, 128)
	f.Fit(cluster, 0.1, rng)

	inlierScore := f.Score(cluster[0])
	outlierScore := f.Score(outlier)
	if outlierScore <= inlierScore {
		t.Errorf("outlier score %.3f should exceed inlier score %.3f", outlierScore, inlierScore)
	}
	if f.DecisionValue(outlier) <= 0 {
		t.Errorf("outlier decision value = %.3f, want > 0", f.DecisionValue(outlier))
	}
}

func TestIsolationForest_ScoreRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cluster, outlier := clusterWithOutlier(rng)

	f := NewIsolationForest(50, 64)
	f.Fit(cluster, 0.1, rng)

	points := append([][]float64{outlier}, cluster[:20]...)
	for i, p := range points {
		s := f.Score(p)
		if s < 0 || s > 1 {
			t.Errorf("point %d: score %.3f outside [0,1]", i, s)
		}
	}
}

func TestIsolationForest_UnfittedScoresZero(t *testing.T) {
	f := NewIsolationForest(10, 32)
	if got := f.Score([]float64{1, 2, 3}); got != 0 {
		t.Errorf("Score() = %f, want 0 before Fit", got)
	}
}

func TestIsolationForest_SerializationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	cluster, outlier := clusterWithOutlier(rng)

	f := NewIsolationForest(40, 64)
	f.Fit(cluster, 0.1, rng)

	data, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	restored := &IsolationForest{}
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}

	for i, p := range [][]float64{outlier, cluster[0], cluster[50]} {
		if got, want := restored.Score(p), f.Score(p); got != want {
			t.Errorf("point %d: restored score %.6f, original %.6f", i, got, want)
		}
	}
	if restored.Offset != f.Offset {
		t.Errorf("restored offset %.6f, original %.6f", restored.Offset, f.Offset)
	}
}

func BenchmarkIsolationForestScore(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	cluster, outlier := clusterWithOutlier(rng)
	f := NewIsolationForest(100, 128)
	f.Fit(cluster, 0.1, rng)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Score(outlier)
	}
}
