package ml

import (
	"encoding/json"
	"fmt"
	"math"
)

// StandardScaler normalizes features to zero mean and unit variance. The
// parameters are fit once at training time and reused at inference so live
// vectors see exactly the training-time transform.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Fit computes per-column mean and standard deviation. Constant columns get
// a standard deviation of 1 so they pass through unchanged.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("scaler: empty training matrix")
	}
	dims := len(X[0])
	s.Mean = make([]float64, dims)
	s.Std = make([]float64, dims)

	for _, x := range X {
		if len(x) != dims {
			return fmt.Errorf("scaler: ragged row, got %d columns want %d", len(x), dims)
		}
		for j, v := range x {
			s.Mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, x := range X {
		for j, v := range x {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return nil
}

// Transform scales one vector with the fitted parameters.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler: not fitted")
	}
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: got %d features, want %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// TransformAll scales a matrix row by row.
func (s *StandardScaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, x := range X {
		t, err := s.Transform(x)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// MarshalBinary serializes the scaler for model persistence.
func (s *StandardScaler) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary restores a scaler serialized by MarshalBinary.
func (s *StandardScaler) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}
