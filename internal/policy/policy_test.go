package policy

import (
	"errors"
	"testing"
	"time"

	"adaptive-trader/internal/pattern"
)

func mkState(embedding []float64) pattern.MarketState {
	return pattern.MarketState{
		Symbol:    "BTCUSDT",
		Timestamp: time.Unix(1700000000, 0),
		Embedding: embedding,
	}
}

func TestReplayBufferFIFOEviction(t *testing.T) {
	const capacity = 10
	const extra = 3
	r := NewReplayBuffer(capacity)

	for i := 0; i < capacity+extra; i++ {
		r.Add(Transition{Reward: float64(i)})
	}

	if r.Len() != capacity {
		t.Fatalf("Len=%d, expected %d", r.Len(), capacity)
	}

	snap := r.Snapshot()
	// The first `extra` entries must be evicted; oldest remaining is `extra`.
	for i, tr := range snap {
		want := float64(extra + i)
		if tr.Reward != want {
			t.Fatalf("snapshot[%d].Reward=%v, expected %v", i, tr.Reward, want)
		}
	}
}

func TestReplayBufferSnapshotIsCopy(t *testing.T) {
	r := NewReplayBuffer(4)
	r.Add(Transition{Reward: 1})
	snap := r.Snapshot()
	r.Add(Transition{Reward: 2})
	if len(snap) != 1 {
		t.Fatalf("snapshot grew after later writes")
	}
}

func TestReplayBufferRecent(t *testing.T) {
	r := NewReplayBuffer(5)
	for i := 0; i < 5; i++ {
		r.Add(Transition{Reward: float64(i)})
	}
	recent := r.Recent(2)
	if len(recent) != 2 || recent[0].Reward != 3 || recent[1].Reward != 4 {
		t.Fatalf("Recent(2)=%v, expected rewards [3 4]", recent)
	}
}

func TestDecideDeterministicAndBounded(t *testing.T) {
	const maxPos = 0.1
	o := NewOptimizer(NewParams(8, 11), maxPos)
	state := mkState([]float64{0.3, -0.2, 0.5, 0.1, -0.4, 0.2, 0.0, 0.9})

	a1, err := o.Decide(state)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	a2, err := o.Decide(state)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if a1.Position != a2.Position {
		t.Fatalf("Decide not deterministic: %v vs %v", a1.Position, a2.Position)
	}
	if a1.Position < -maxPos || a1.Position > maxPos {
		t.Fatalf("position %v outside [-%v, %v]", a1.Position, maxPos, maxPos)
	}
}

func TestDecideRejectsMalformedState(t *testing.T) {
	o := NewOptimizer(NewParams(8, 11), 0.1)

	tests := []struct {
		name      string
		embedding []float64
	}{
		{"wrong size", []float64{1, 2, 3}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Decide(mkState(tt.embedding))
			var mie *pattern.ModelInferenceError
			if !errors.As(err, &mie) {
				t.Fatalf("expected ModelInferenceError, got %v", err)
			}
		})
	}
}

func TestTrainLearnsRewardingAction(t *testing.T) {
	const maxPos = 0.1
	params := NewParams(4, 5)

	// Long positions always pay off in this synthetic stream.
	embedding := []float64{1, 0.5, -0.5, 0.2}
	var snapshot []Transition
	for i := 0; i < 200; i++ {
		snapshot = append(snapshot, Transition{
			State:  mkState(embedding),
			Action: maxPos,
			Reward: 1,
			Next:   mkState(embedding),
		})
		snapshot = append(snapshot, Transition{
			State:  mkState(embedding),
			Action: -maxPos,
			Reward: -1,
			Next:   mkState(embedding),
		})
	}

	trained := Train(params, snapshot, TrainConfig{
		Gamma:       0.9,
		Epsilon:     0.1,
		BatchSize:   64,
		Epochs:      50,
		LearnRate:   0.01,
		MaxPosition: maxPos,
		Seed:        1,
	})

	o := NewOptimizer(trained, maxPos)
	a, err := o.Decide(mkState(embedding))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if a.Position <= 0 {
		t.Fatalf("trained policy chose position %v, expected long", a.Position)
	}
}

func TestBookPublishEnforcesStrictIncrease(t *testing.T) {
	book := NewBook(Version{Number: 1, CreatedAt: time.Now()})

	if err := book.Publish(Version{Number: 3}); err == nil {
		t.Fatalf("Publish accepted a version skip")
	}
	if err := book.Publish(Version{Number: 1}); err == nil {
		t.Fatalf("Publish accepted a repeated version")
	}

	if err := book.Publish(Version{Number: 2, Accuracy: 0.9}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := book.Active().Number; got != 2 {
		t.Fatalf("active version=%d, expected 2", got)
	}
}

func TestBookRollbackKeepsNumbersIncreasing(t *testing.T) {
	book := NewBook(Version{Number: 1, Accuracy: 0.8})
	if err := book.Publish(Version{Number: 2, Accuracy: 0.6}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	restored, err := book.Rollback()
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if restored.Number != 3 {
		t.Fatalf("rollback version=%d, expected 3", restored.Number)
	}
	if restored.Accuracy != 0.8 {
		t.Fatalf("rollback accuracy=%v, expected the prior version's 0.8", restored.Accuracy)
	}
}
