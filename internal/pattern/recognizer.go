// Package pattern maps a fixed-length window of feature vectors to a
// market-state signal: a dense embedding plus a confidence score derived
// from a short-horizon direction estimate.
package pattern

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"adaptive-trader/internal/features"
)

// MarketState is the signal consumed by the policy layer. Produced once per
// completed pattern window.
type MarketState struct {
	Symbol     string
	Timestamp  time.Time
	Embedding  []float64
	PUp        float64 // estimated probability of a short-horizon up move
	Confidence float64 // certainty of the direction estimate, in [0,1]
}

// ModelInferenceError flags malformed input to a model. The decision that
// triggered it falls back to HOLD; it never halts the stream.
type ModelInferenceError struct {
	Reason string
}

func (e *ModelInferenceError) Error() string {
	return "model inference: " + e.Reason
}

// Params are the recognizer weights. Immutable once created: inference
// never writes them, and training produces a fresh copy. The recurrent
// projection (Wx, Wh, Bh) is fixed at seed time; only the direction
// readout (Wo, Bo) is trained.
type Params struct {
	Window        int         `json:"window"`
	FeatureSize   int         `json:"feature_size"`
	EmbeddingSize int         `json:"embedding_size"`
	Wx            [][]float64 `json:"wx"`
	Wh            [][]float64 `json:"wh"`
	Bh            []float64   `json:"bh"`
	Wo            []float64   `json:"wo"`
	Bo            float64     `json:"bo"`
}

// NewParams seeds recognizer weights deterministically.
func NewParams(window, featureSize, embeddingSize int, seed int64) Params {
	rng := rand.New(rand.NewSource(seed))
	p := Params{
		Window:        window,
		FeatureSize:   featureSize,
		EmbeddingSize: embeddingSize,
		Wx:            randMatrix(rng, embeddingSize, featureSize, 0.5),
		Wh:            randMatrix(rng, embeddingSize, embeddingSize, 0.3),
		Bh:            randVector(rng, embeddingSize, 0.1),
		Wo:            randVector(rng, embeddingSize, 0.01),
	}
	return p
}

func randMatrix(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = randVector(rng, cols, scale)
	}
	return m
}

func randVector(rng *rand.Rand, n int, scale float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64() * scale
	}
	return v
}

// Clone deep-copies the parameters so training never aliases live weights.
func (p Params) Clone() Params {
	out := p
	out.Wx = cloneMatrix(p.Wx)
	out.Wh = cloneMatrix(p.Wh)
	out.Bh = append([]float64(nil), p.Bh...)
	out.Wo = append([]float64(nil), p.Wo...)
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

// Recognizer serves inference for one loaded parameter set.
type Recognizer struct {
	params Params
}

// New creates a recognizer serving the given parameters.
func New(params Params) *Recognizer {
	return &Recognizer{params: params}
}

// Load swaps the whole parameter value. The only mutation path.
func (r *Recognizer) Load(params Params) {
	r.params = params
}

// Params returns the currently loaded parameters.
func (r *Recognizer) Params() Params {
	return r.params
}

// Infer encodes the window into a market state. Fails if the window shape
// does not match the trained input shape.
func (r *Recognizer) Infer(window []features.Vector) (MarketState, error) {
	p := r.params
	if len(window) != p.Window {
		return MarketState{}, &ModelInferenceError{
			Reason: fmt.Sprintf("window length %d, model expects %d", len(window), p.Window),
		}
	}
	for i := range window {
		if len(window[i].Values) != p.FeatureSize {
			return MarketState{}, &ModelInferenceError{
				Reason: fmt.Sprintf("feature vector %d has %d values, model expects %d", i, len(window[i].Values), p.FeatureSize),
			}
		}
	}

	h := Embed(p, window)
	pUp := Readout(p, h)

	last := window[len(window)-1]
	return MarketState{
		Symbol:     last.Symbol,
		Timestamp:  last.Timestamp,
		Embedding:  h,
		PUp:        pUp,
		Confidence: math.Abs(2*pUp - 1),
	}, nil
}

// Embed runs the recurrent cell over the window and returns the final
// hidden state.
func Embed(p Params, window []features.Vector) []float64 {
	h := make([]float64, p.EmbeddingSize)
	next := make([]float64, p.EmbeddingSize)
	for _, vec := range window {
		for i := 0; i < p.EmbeddingSize; i++ {
			z := p.Bh[i]
			for j, x := range vec.Values {
				z += p.Wx[i][j] * x
			}
			for j, hv := range h {
				z += p.Wh[i][j] * hv
			}
			next[i] = math.Tanh(z)
		}
		h, next = next, h
	}
	out := make([]float64, p.EmbeddingSize)
	copy(out, h)
	return out
}

// Readout maps an embedding to the up-move probability.
func Readout(p Params, embedding []float64) float64 {
	z := p.Bo
	for i, v := range embedding {
		z += p.Wo[i] * v
	}
	return sigmoid(z)
}

// sigmoid returns 1/(1+e^-x) with clamping for numerical stability.
func sigmoid(x float64) float64 {
	if x > 20 {
		return 1
	}
	if x < -20 {
		return 0
	}
	return 1 / (1 + math.Exp(-x))
}
