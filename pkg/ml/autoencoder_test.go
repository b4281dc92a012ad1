package ml

import (
	"math/rand"
	"testing"
)

// correlatedData produces vectors lying near a 2-dim subspace of an 8-dim
// space, something a bottleneck network can learn to reconstruct.
func correlatedData(n int, rng *rand.Rand) [][]float64 {
	X := make([][]float64, n)
	for i := range X {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		X[i] = []float64{a, b, a + b, a - b, 2 * a, 2 * b, a * 0.5, b * 0.5}
	}
	return X
}

func meanReconstructionError(t *testing.T, a *Autoencoder, X [][]float64) float64 {
	t.Helper()
	var sum float64
	for _, x := range X {
		e, err := a.ReconstructionError(x)
		if err != nil {
			t.Fatalf("ReconstructionError() error = %v", err)
		}
		sum += e
	}
	return sum / float64(len(X))
}

func TestAutoencoder_TrainingReducesError(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	X := correlatedData(300, rng)

	a := NewAutoencoder(8, rng)
	before := meanReconstructionError(t, a, X)
	if err := a.Train(X, 40, 0.01, rng); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	after := meanReconstructionError(t, a, X)

	if after >= before {
		t.Errorf("training did not reduce error: before %.4f, after %.4f", before, after)
	}
}

func TestAutoencoder_DimensionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := NewAutoencoder(8, rng)

	if _, err := a.ReconstructionError([]float64{1, 2, 3}); err == nil {
		t.Error("ReconstructionError() with 3 features should fail against 8-dim network")
	}
	if err := a.Train([][]float64{{1, 2}}, 1, 0.01, rng); err == nil {
		t.Error("Train() with 2-column matrix should fail against 8-dim network")
	}
	if err := a.Train(nil, 1, 0.01, rng); err == nil {
		t.Error("Train() with empty matrix should fail")
	}
}

func TestAutoencoder_SerializationRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	X := correlatedData(100, rng)

	a := NewAutoencoder(8, rng)
	if err := a.Train(X, 10, 0.01, rng); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	data, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	restored := &Autoencoder{}
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}

	want, _ := a.ReconstructionError(X[0])
	got, _ := restored.ReconstructionError(X[0])
	if got != want {
		t.Errorf("restored error %.6f, original %.6f", got, want)
	}
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	X := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
	}
	if err := s.Fit(X); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	t.Run("centers the mean", func(t *testing.T) {
		got, err := s.Transform([]float64{2, 20, 5})
		if err != nil {
			t.Fatalf("Transform() error = %v", err)
		}
		for j, v := range got {
			if v != 0 {
				t.Errorf("column %d: mean row transformed to %f, want 0", j, v)
			}
		}
	})

	t.Run("constant column passes through", func(t *testing.T) {
		if s.Std[2] != 1 {
			t.Errorf("constant column std = %f, want 1", s.Std[2])
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if _, err := s.Transform([]float64{1, 2}); err == nil {
			t.Error("Transform() with 2 features should fail against 3-column fit")
		}
	})

	t.Run("unfitted", func(t *testing.T) {
		unfit := &StandardScaler{}
		if _, err := unfit.Transform([]float64{1}); err == nil {
			t.Error("Transform() before Fit should fail")
		}
	})
}
