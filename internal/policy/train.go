package policy

import "math/rand"

// TrainConfig carries the RL hyperparameters consumed by training.
type TrainConfig struct {
	Gamma       float64
	Epsilon     float64
	BatchSize   int
	Epochs      int
	LearnRate   float64
	MaxPosition float64
	Seed        int64
}

// Train fits a candidate Q-head against a replay snapshot with expected
// SARSA updates: the bootstrap target assumes an epsilon-greedy behavior
// policy, which is where exploration enters. Live Decide calls never
// explore. Returns a new parameter set; the input is never mutated.
func Train(p Params, snapshot []Transition, cfg TrainConfig) Params {
	out := p.Clone()
	if len(snapshot) == 0 {
		return out
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > len(snapshot) {
		cfg.BatchSize = len(snapshot)
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	if cfg.LearnRate <= 0 {
		cfg.LearnRate = 0.001
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	for e := 0; e < cfg.Epochs; e++ {
		for b := 0; b < cfg.BatchSize; b++ {
			t := snapshot[rng.Intn(len(snapshot))]
			if len(t.State.Embedding) != out.EmbeddingSize {
				continue
			}

			target := t.Reward
			if !t.Terminal && len(t.Next.Embedding) == out.EmbeddingSize {
				target += cfg.Gamma * expectedValue(out, t.Next.Embedding, cfg.Epsilon)
			}

			idx := levelIndex(out, t.Action, cfg.MaxPosition)
			pred := out.B[idx]
			for j, v := range t.State.Embedding {
				pred += out.W[idx][j] * v
			}

			grad := pred - target
			for j, v := range t.State.Embedding {
				out.W[idx][j] -= cfg.LearnRate * grad * v
			}
			out.B[idx] -= cfg.LearnRate * grad
		}
	}
	return out
}

// expectedValue is the epsilon-greedy expectation over next-state values.
func expectedValue(p Params, embedding []float64, epsilon float64) float64 {
	q := qValues(p, embedding)
	maxQ := q[0]
	sum := 0.0
	for _, v := range q {
		if v > maxQ {
			maxQ = v
		}
		sum += v
	}
	mean := sum / float64(len(q))
	return (1-epsilon)*maxQ + epsilon*mean
}
