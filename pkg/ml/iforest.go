// Package ml implements the anomaly scoring ensemble: an isolation forest
// and a bottleneck autoencoder over the request feature vectors, combined
// into one calibrated score by the Detector.
package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"
)

// IsolationForest is a JSON-serializable isolation forest. Anomalies take
// shorter-than-average paths to isolation, so Score is high for outliers.
type IsolationForest struct {
	Trees      []*isoTree `json:"trees"`
	NumTrees   int        `json:"num_trees"`
	SampleSize int        `json:"sample_size"`
	HeightLim  int        `json:"height_limit"`
	// Offset is the contamination quantile of the training scores. Points
	// scoring above it are the outlier fraction seen during training.
	Offset float64 `json:"offset"`
}

type isoTree struct {
	SplitAttr  int      `json:"split_attr"`
	SplitValue float64  `json:"split_value"`
	Left       *isoTree `json:"left,omitempty"`
	Right      *isoTree `json:"right,omitempty"`
	Size       int      `json:"size"`
}

// NewIsolationForest builds an empty forest with the given shape.
func NewIsolationForest(numTrees, sampleSize int) *IsolationForest {
	return &IsolationForest{
		NumTrees:   numTrees,
		SampleSize: sampleSize,
		HeightLim:  int(math.Ceil(math.Log2(float64(sampleSize)))),
	}
}

// Fit trains the forest on X and calibrates Offset so that roughly
// contamination of the training points score above it.
func (f *IsolationForest) Fit(X [][]float64, contamination float64, rng *rand.Rand) {
	n := len(X)
	if n == 0 {
		return
	}
	sample := f.SampleSize
	if sample > n {
		sample = n
	}
	f.HeightLim = int(math.Ceil(math.Log2(float64(sample))))

	f.Trees = make([]*isoTree, f.NumTrees)
	for i := 0; i < f.NumTrees; i++ {
		sub := make([][]float64, sample)
		for j := range sub {
			sub[j] = X[rng.Intn(n)]
		}
		f.Trees[i] = buildIsoTree(sub, 0, f.HeightLim, rng)
	}

	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.Score(x)
	}
	sort.Float64s(scores)
	idx := int(float64(n) * (1 - contamination))
	if idx >= n {
		idx = n - 1
	}
	f.Offset = scores[idx]
}

func buildIsoTree(X [][]float64, height, limit int, rng *rand.Rand) *isoTree {
	if height >= limit || len(X) <= 1 {
		return &isoTree{Size: len(X)}
	}

	dims := len(X[0])
	attr := rng.Intn(dims)

	min, max := X[0][attr], X[0][attr]
	for _, x := range X {
		if x[attr] < min {
			min = x[attr]
		}
		if x[attr] > max {
			max = x[attr]
		}
	}
	if min == max {
		return &isoTree{Size: len(X)}
	}

	split := min + rng.Float64()*(max-min)
	var left, right [][]float64
	for _, x := range X {
		if x[attr] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}

	return &isoTree{
		SplitAttr:  attr,
		SplitValue: split,
		Left:       buildIsoTree(left, height+1, limit, rng),
		Right:      buildIsoTree(right, height+1, limit, rng),
		Size:       len(X),
	}
}

// Score returns the anomaly score in [0,1]; values near 1 mean the point
// isolates quickly and is likely anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.Trees {
		total += pathLength(t, x, 0)
	}
	avg := total / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -avg/c)
}

// DecisionValue is the signed margin against the calibrated Offset. Positive
// values land in the training outlier fraction.
func (f *IsolationForest) DecisionValue(x []float64) float64 {
	return f.Score(x) - f.Offset
}

func pathLength(t *isoTree, x []float64, depth int) float64 {
	if t.Left == nil && t.Right == nil {
		return float64(depth) + cFactor(t.Size)
	}
	if x[t.SplitAttr] < t.SplitValue {
		return pathLength(t.Left, x, depth+1)
	}
	return pathLength(t.Right, x, depth+1)
}

// cFactor is the average path length of an unsuccessful BST search, the
// standard normalizer for isolation forests.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// MarshalBinary serializes the forest for model persistence.
func (f *IsolationForest) MarshalBinary() ([]byte, error) {
	return json.Marshal(f)
}

// UnmarshalBinary restores a forest serialized by MarshalBinary.
func (f *IsolationForest) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, f)
}
