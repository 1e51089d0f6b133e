package policy

import (
	"fmt"
	"math"
	"math/rand"

	"adaptive-trader/internal/pattern"
)

// DefaultLevels are the discrete position targets as fractions of the
// configured position limit.
var DefaultLevels = []float64{-1, -0.5, 0, 0.5, 1}

// Params are the Q-head weights: one linear value estimate per discrete
// position level. Immutable once created; training returns a fresh copy.
type Params struct {
	EmbeddingSize int         `json:"embedding_size"`
	Levels        []float64   `json:"levels"`
	W             [][]float64 `json:"w"` // [level][embedding]
	B             []float64   `json:"b"` // [level]
}

// NewParams seeds Q-head weights deterministically.
func NewParams(embeddingSize int, seed int64) Params {
	rng := rand.New(rand.NewSource(seed))
	levels := append([]float64(nil), DefaultLevels...)
	w := make([][]float64, len(levels))
	for i := range w {
		w[i] = make([]float64, embeddingSize)
		for j := range w[i] {
			w[i][j] = rng.NormFloat64() * 0.01
		}
	}
	return Params{
		EmbeddingSize: embeddingSize,
		Levels:        levels,
		W:             w,
		B:             make([]float64, len(levels)),
	}
}

// Clone deep-copies the parameters.
func (p Params) Clone() Params {
	out := p
	out.Levels = append([]float64(nil), p.Levels...)
	out.B = append([]float64(nil), p.B...)
	out.W = make([][]float64, len(p.W))
	for i := range p.W {
		out.W[i] = append([]float64(nil), p.W[i]...)
	}
	return out
}

// qValues computes the value estimate for every level.
func qValues(p Params, embedding []float64) []float64 {
	q := make([]float64, len(p.Levels))
	for i := range p.Levels {
		z := p.B[i]
		for j, v := range embedding {
			z += p.W[i][j] * v
		}
		q[i] = z
	}
	return q
}

// Optimizer serves live decisions for one loaded parameter set. Decide is a
// pure function of the loaded params and the given state: no exploration,
// no hidden mutable context.
type Optimizer struct {
	params      Params
	maxPosition float64
}

// NewOptimizer creates an optimizer bound to the configured position limit.
func NewOptimizer(params Params, maxPosition float64) *Optimizer {
	return &Optimizer{params: params, maxPosition: maxPosition}
}

// Load swaps the whole parameter value. The only mutation path.
func (o *Optimizer) Load(params Params) {
	o.params = params
}

// Params returns the currently loaded parameters.
func (o *Optimizer) Params() Params {
	return o.params
}

// Decide maps a market state to the best-estimate action. Malformed state
// propagates as ModelInferenceError; the caller must fall back to HOLD.
func (o *Optimizer) Decide(state pattern.MarketState) (Action, error) {
	if len(state.Embedding) != o.params.EmbeddingSize {
		return Action{}, &pattern.ModelInferenceError{
			Reason: fmt.Sprintf("state embedding size %d, policy expects %d", len(state.Embedding), o.params.EmbeddingSize),
		}
	}
	for i, v := range state.Embedding {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Action{}, &pattern.ModelInferenceError{
				Reason: fmt.Sprintf("state embedding component %d is not finite", i),
			}
		}
	}

	q := qValues(o.params, state.Embedding)
	best := 0
	for i := 1; i < len(q); i++ {
		if q[i] > q[best] {
			best = i
		}
	}

	return Action{
		Symbol:    state.Symbol,
		Timestamp: state.Timestamp,
		Position:  o.params.Levels[best] * o.maxPosition,
	}, nil
}

// levelIndex maps an executed position back to its nearest discrete level.
func levelIndex(p Params, position, maxPosition float64) int {
	if maxPosition == 0 {
		return len(p.Levels) / 2
	}
	frac := position / maxPosition
	best := 0
	bestDist := math.Abs(p.Levels[0] - frac)
	for i := 1; i < len(p.Levels); i++ {
		if d := math.Abs(p.Levels[i] - frac); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
