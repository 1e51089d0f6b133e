package pattern

// TrainReadout fits the direction readout on (embedding, label) pairs with
// plain SGD on cross-entropy loss. labels are 1 for an up move, 0 for a
// down move. Returns a new parameter set; the input is never mutated.
func TrainReadout(p Params, embeddings [][]float64, labels []float64, lr float64, epochs int) Params {
	out := p.Clone()
	if len(embeddings) == 0 || len(embeddings) != len(labels) {
		return out
	}
	for e := 0; e < epochs; e++ {
		for i := range embeddings {
			if len(embeddings[i]) != len(out.Wo) {
				continue
			}
			pred := Readout(out, embeddings[i])
			grad := pred - labels[i]
			for j := range out.Wo {
				out.Wo[j] -= lr * grad * embeddings[i][j]
			}
			out.Bo -= lr * grad
		}
	}
	return out
}

// EvaluateReadout returns the directional hit-rate of the readout on the
// given labeled embeddings.
func EvaluateReadout(p Params, embeddings [][]float64, labels []float64) float64 {
	if len(embeddings) == 0 || len(embeddings) != len(labels) {
		return 0
	}
	hits := 0
	for i := range embeddings {
		pred := Readout(p, embeddings[i])
		if (pred >= 0.5 && labels[i] == 1) || (pred < 0.5 && labels[i] == 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(embeddings))
}
