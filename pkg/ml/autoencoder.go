package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// Autoencoder is a single-bottleneck reconstruction network trained by SGD.
// It learns the shape of benign traffic; reconstruction error grows for
// vectors unlike anything seen during training.
type Autoencoder struct {
	InputDim  int `json:"input_dim"`
	HiddenDim int `json:"hidden_dim"`

	// W1 is HiddenDim x InputDim, W2 is InputDim x HiddenDim.
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`
}

// NewAutoencoder initializes a network with small random weights.
func NewAutoencoder(inputDim int, rng *rand.Rand) *Autoencoder {
	hidden := inputDim / 2
	if hidden < 2 {
		hidden = 2
	}
	a := &Autoencoder{
		InputDim:  inputDim,
		HiddenDim: hidden,
		W1:        randMatrix(hidden, inputDim, rng),
		B1:        make([]float64, hidden),
		W2:        randMatrix(inputDim, hidden, rng),
		B2:        make([]float64, inputDim),
	}
	return a
}

func randMatrix(rows, cols int, rng *rand.Rand) [][]float64 {
	scale := math.Sqrt(2.0 / float64(cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = rng.NormFloat64() * scale
		}
	}
	return m
}

// Train runs epochs of SGD over X, minimizing per-vector MSE. Rows are
// visited in a shuffled order each epoch.
func (a *Autoencoder) Train(X [][]float64, epochs int, learningRate float64, rng *rand.Rand) error {
	if len(X) == 0 {
		return fmt.Errorf("autoencoder: empty training matrix")
	}
	for _, x := range X {
		if len(x) != a.InputDim {
			return fmt.Errorf("autoencoder: got %d features, want %d", len(x), a.InputDim)
		}
	}

	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			a.step(X[idx], learningRate)
		}
	}
	return nil
}

// step runs forward and backward passes for one vector.
func (a *Autoencoder) step(x []float64, lr float64) {
	hidden, out := a.forward(x)

	// Output layer gradient: d(MSE)/d(out).
	dOut := make([]float64, a.InputDim)
	for i := range dOut {
		dOut[i] = 2 * (out[i] - x[i]) / float64(a.InputDim)
	}

	// Hidden gradient through W2 and the ReLU.
	dHidden := make([]float64, a.HiddenDim)
	for j := 0; j < a.HiddenDim; j++ {
		if hidden[j] <= 0 {
			continue
		}
		var sum float64
		for i := 0; i < a.InputDim; i++ {
			sum += a.W2[i][j] * dOut[i]
		}
		dHidden[j] = sum
	}

	for i := 0; i < a.InputDim; i++ {
		for j := 0; j < a.HiddenDim; j++ {
			a.W2[i][j] -= lr * dOut[i] * hidden[j]
		}
		a.B2[i] -= lr * dOut[i]
	}
	for j := 0; j < a.HiddenDim; j++ {
		for i := 0; i < a.InputDim; i++ {
			a.W1[j][i] -= lr * dHidden[j] * x[i]
		}
		a.B1[j] -= lr * dHidden[j]
	}
}

func (a *Autoencoder) forward(x []float64) (hidden, out []float64) {
	hidden = make([]float64, a.HiddenDim)
	for j := 0; j < a.HiddenDim; j++ {
		sum := a.B1[j]
		for i, v := range x {
			sum += a.W1[j][i] * v
		}
		if sum > 0 {
			hidden[j] = sum
		}
	}
	out = make([]float64, a.InputDim)
	for i := 0; i < a.InputDim; i++ {
		sum := a.B2[i]
		for j, h := range hidden {
			sum += a.W2[i][j] * h
		}
		out[i] = sum
	}
	return hidden, out
}

// ReconstructionError returns the MSE between x and its reconstruction.
func (a *Autoencoder) ReconstructionError(x []float64) (float64, error) {
	if len(x) != a.InputDim {
		return 0, fmt.Errorf("autoencoder: got %d features, want %d", len(x), a.InputDim)
	}
	_, out := a.forward(x)
	var mse float64
	for i := range x {
		d := out[i] - x[i]
		mse += d * d
	}
	return mse / float64(a.InputDim), nil
}

// MarshalBinary serializes the network for model persistence.
func (a *Autoencoder) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary restores a network serialized by MarshalBinary.
func (a *Autoencoder) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}
