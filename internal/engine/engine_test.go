package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
	"adaptive-trader/internal/features"
	"adaptive-trader/internal/market"
	"adaptive-trader/internal/order"
	"adaptive-trader/internal/pattern"
	"adaptive-trader/internal/policy"
	"adaptive-trader/internal/risk"
	"adaptive-trader/internal/state"
)

const (
	testWindow    = 3
	testEmbedding = 8
	testMaxPos    = 0.1
)

type fakeExecutor struct {
	mu      sync.Mutex
	intents []order.Intent
}

func (f *fakeExecutor) Submit(intent order.Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	return nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

type fakeOutcomes struct {
	reward float64
	ret    float64
	ok     bool
}

func (f *fakeOutcomes) RealizedOutcome(string) (float64, float64, bool) {
	return f.reward, f.ret, f.ok
}

type fakeSink struct {
	mu  sync.Mutex
	got []policy.Transition
}

func (f *fakeSink) RecordOutcome(t policy.Transition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, t)
}

func testBook() *policy.Book {
	return policy.NewBook(policy.Version{
		Number:    1,
		CreatedAt: time.Now(),
		Pattern:   pattern.NewParams(testWindow, 1, testEmbedding, 7),
		Policy:    policy.NewParams(testEmbedding, 11),
	})
}

func testGate() *risk.Gate {
	limits := risk.Limits{MaxPositionSize: testMaxPos, StopLossPct: 0.02, TakeProfitPct: 0.05}
	return risk.NewGate(limits, state.NewPortfolio(), nil)
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:       symbols,
		Indicators:    []string{"obv"},
		PatternWindow: testWindow,
		QueueSize:     64,
		MaxPosition:   testMaxPos,
		DrainTimeout:  2 * time.Second,
	}
}

func makeBar(symbol string, i int, close float64) market.Bar {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return market.Bar{
		Symbol:   symbol,
		OpenTime: base.Add(time.Duration(i) * time.Minute),
		Open:     close,
		High:     close * 1.01,
		Low:      close * 0.99,
		Close:    close,
		Volume:   100,
	}
}

func validWindow(symbol string) []features.Vector {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	window := make([]features.Vector, testWindow)
	for i := range window {
		window[i] = features.Vector{
			Symbol:    symbol,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Values:    []float64{0.1 * float64(i+1)},
		}
	}
	return window
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestEngineProducesBoundedIntents(t *testing.T) {
	bus := events.NewBus()
	exec := &fakeExecutor{}
	eng := New(testConfig("BTCUSDT"), bus, testBook(), testGate(), exec, nil, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 10; i++ {
		bus.Publish(events.TopicBar, makeBar("BTCUSDT", i, 100+float64(i)))
	}

	waitFor(t, func() bool { return exec.count() > 0 }, "no intents produced")

	cancel()
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	for _, intent := range exec.intents {
		if math.Abs(intent.Action.Position) > testMaxPos+1e-12 {
			t.Fatalf("position %v exceeds limit %v", intent.Action.Position, testMaxPos)
		}
		if intent.PolicyVersion != 1 {
			t.Fatalf("policy version = %d, want 1", intent.PolicyVersion)
		}
		if intent.Action.StopLoss != 0.02 || intent.Action.TakeProfit != 0.05 {
			t.Fatalf("protective offsets not attached: %+v", intent.Action)
		}
		if intent.ID == "" {
			t.Fatal("intent without id")
		}
	}
}

func TestEngineSurvivesOutOfOrderBar(t *testing.T) {
	bus := events.NewBus()
	exec := &fakeExecutor{}
	eng := New(testConfig("BTCUSDT"), bus, testBook(), testGate(), exec, nil, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		bus.Publish(events.TopicBar, makeBar("BTCUSDT", i, 100))
	}
	// Duplicate timestamp: must be skipped, not crash the consumer.
	bus.Publish(events.TopicBar, makeBar("BTCUSDT", 4, 100))
	for i := 5; i < 12; i++ {
		bus.Publish(events.TopicBar, makeBar("BTCUSDT", i, 101))
	}

	waitFor(t, func() bool { return exec.count() >= 8 }, "stream stalled after bad bar")

	cancel()
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestDecideHoldsOnMalformedWindow(t *testing.T) {
	bus := events.NewBus()
	exec := &fakeExecutor{}
	eng := New(testConfig("BTCUSDT"), bus, testBook(), testGate(), exec, nil, nil, nil, zerolog.Nop())

	window := validWindow("BTCUSDT")
	window[1].Values = []float64{0.1, 0.2} // wrong feature size

	open := eng.decide("BTCUSDT", makeBar("BTCUSDT", 0, 100), window, nil, zerolog.Nop())
	if open != nil {
		t.Fatalf("pending transition opened on failed inference: %+v", open)
	}
	if exec.count() != 0 {
		t.Fatalf("intent submitted despite inference failure")
	}
}

func TestDecideIsDeterministicForFixedVersion(t *testing.T) {
	bus := events.NewBus()
	book := testBook()
	eng := New(testConfig("BTCUSDT"), bus, book, testGate(), nil, nil, nil, nil, zerolog.Nop())

	window := validWindow("BTCUSDT")
	first := eng.decide("BTCUSDT", makeBar("BTCUSDT", 0, 100), window, nil, zerolog.Nop())
	second := eng.decide("BTCUSDT", makeBar("BTCUSDT", 0, 100), window, nil, zerolog.Nop())

	if first == nil || second == nil {
		t.Fatal("decide failed on a valid window")
	}
	if first.action != second.action {
		t.Fatalf("same version and window gave different actions: %v vs %v", first.action, second.action)
	}
}

func TestDecideRecordsTransitionOnNextDecision(t *testing.T) {
	bus := events.NewBus()
	outcomes := &fakeOutcomes{reward: 0.003, ret: 0.012, ok: true}
	sink := &fakeSink{}
	eng := New(testConfig("BTCUSDT"), bus, testBook(), testGate(), nil, outcomes, sink, nil, zerolog.Nop())

	window := validWindow("BTCUSDT")
	open := eng.decide("BTCUSDT", makeBar("BTCUSDT", 0, 100), window, nil, zerolog.Nop())
	if open == nil {
		t.Fatal("first decide returned no pending transition")
	}
	eng.decide("BTCUSDT", makeBar("BTCUSDT", 1, 101), window, open, zerolog.Nop())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 {
		t.Fatalf("recorded %d transitions, want 1", len(sink.got))
	}
	tr := sink.got[0]
	if tr.Reward != 0.003 || tr.RealizedReturn != 0.012 {
		t.Fatalf("transition outcome = (%v, %v), want (0.003, 0.012)", tr.Reward, tr.RealizedReturn)
	}
	if tr.Action != open.action {
		t.Fatalf("transition action = %v, want executed %v", tr.Action, open.action)
	}
	if len(tr.Next.Embedding) != testEmbedding {
		t.Fatalf("next state embedding missing")
	}
}

func TestDecideSkipsTransitionWithoutOutcome(t *testing.T) {
	bus := events.NewBus()
	outcomes := &fakeOutcomes{ok: false}
	sink := &fakeSink{}
	eng := New(testConfig("BTCUSDT"), bus, testBook(), testGate(), nil, outcomes, sink, nil, zerolog.Nop())

	window := validWindow("BTCUSDT")
	open := eng.decide("BTCUSDT", makeBar("BTCUSDT", 0, 100), window, nil, zerolog.Nop())
	eng.decide("BTCUSDT", makeBar("BTCUSDT", 1, 101), window, open, zerolog.Nop())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 0 {
		t.Fatalf("transition recorded without a realized outcome")
	}
}

func TestStopDrainsWithinTimeout(t *testing.T) {
	bus := events.NewBus()
	eng := New(testConfig("BTCUSDT", "ETHUSDT"), bus, testBook(), testGate(), nil, nil, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 20; i++ {
		bus.Publish(events.TopicBar, makeBar("BTCUSDT", i, 100))
		bus.Publish(events.TopicBar, makeBar("ETHUSDT", i, 2000))
	}
	cancel()

	start := time.Now()
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("drain took %v, want under the drain timeout", elapsed)
	}
}
