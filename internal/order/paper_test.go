package order

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
	"adaptive-trader/internal/market"
	"adaptive-trader/internal/policy"
	"adaptive-trader/internal/risk"
	"adaptive-trader/internal/state"
)

const slippage = 0.001

func newTestExecutor() (*PaperExecutor, *state.Portfolio, *events.Bus) {
	bus := events.NewBus()
	portfolio := state.NewPortfolio()
	exec := NewPaperExecutor(PaperConfig{
		SlippagePct: slippage,
		StopLossPct: 0.02,
		TakeProfit:  0.05,
	}, portfolio, risk.NewStopTracker(), bus, zerolog.Nop())
	return exec, portfolio, bus
}

func bar(symbol string, close float64) market.Bar {
	return market.Bar{
		Symbol:   symbol,
		OpenTime: time.Now(),
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   100,
	}
}

func intent(symbol string, position float64) Intent {
	return Intent{
		ID: "test-intent",
		Action: policy.Action{
			Symbol:     symbol,
			Position:   position,
			StopLoss:   0.02,
			TakeProfit: 0.05,
		},
		PolicyVersion: 1,
		CreatedAt:     time.Now(),
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestSubmitWithoutMarkPrice(t *testing.T) {
	exec, portfolio, _ := newTestExecutor()

	if err := exec.Submit(intent("BTCUSDT", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if qty := portfolio.SignedPosition("BTCUSDT"); qty != 0 {
		t.Fatalf("position = %v before any mark price, want 0", qty)
	}
}

func TestSubmitFillsWithSlippage(t *testing.T) {
	exec, portfolio, bus := newTestExecutor()
	fills, unsub := bus.Subscribe(events.TopicFill, 4)
	defer unsub()

	exec.onBar(bar("BTCUSDT", 100))
	if err := exec.Submit(intent("BTCUSDT", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pos := portfolio.Position("BTCUSDT")
	if pos.Qty != 0.1 {
		t.Fatalf("position qty = %v, want 0.1", pos.Qty)
	}
	if !almostEqual(pos.AvgPrice, 100*(1+slippage)) {
		t.Fatalf("fill price = %v, want buy slippage applied", pos.AvgPrice)
	}

	select {
	case msg := <-fills:
		fill := msg.(Fill)
		if fill.IntentID != "test-intent" || fill.Position != 0.1 {
			t.Fatalf("unexpected fill: %+v", fill)
		}
	default:
		t.Fatal("no fill published")
	}
}

func TestRealizedOutcomeAccruesAndDrains(t *testing.T) {
	exec, _, _ := newTestExecutor()

	exec.onBar(bar("BTCUSDT", 100))
	if _, _, ok := exec.RealizedOutcome("BTCUSDT"); ok {
		t.Fatal("outcome reported before any interval elapsed")
	}

	if err := exec.Submit(intent("BTCUSDT", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	exec.onBar(bar("BTCUSDT", 101))

	reward, ret, ok := exec.RealizedOutcome("BTCUSDT")
	if !ok {
		t.Fatal("no outcome after a position and a bar")
	}
	wantReward := 0.1*0.01 - 0.1*slippage
	if !almostEqual(reward, wantReward) {
		t.Fatalf("reward = %v, want %v", reward, wantReward)
	}
	if !almostEqual(ret, 0.01) {
		t.Fatalf("realized return = %v, want 0.01", ret)
	}

	// Drained: a second call reports nothing until the next bar.
	if _, _, ok := exec.RealizedOutcome("BTCUSDT"); ok {
		t.Fatal("outcome not drained")
	}
}

func TestShortPositionEarnsOnDownMove(t *testing.T) {
	exec, _, _ := newTestExecutor()

	exec.onBar(bar("ETHUSDT", 2000))
	if err := exec.Submit(intent("ETHUSDT", -0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	exec.onBar(bar("ETHUSDT", 1980)) // -1%

	reward, _, ok := exec.RealizedOutcome("ETHUSDT")
	if !ok {
		t.Fatal("no outcome")
	}
	wantReward := (-0.1)*(-0.01) - 0.1*slippage
	if !almostEqual(reward, wantReward) {
		t.Fatalf("reward = %v, want %v", reward, wantReward)
	}
}

func TestStopLossFlattensPosition(t *testing.T) {
	exec, portfolio, bus := newTestExecutor()
	fills, unsub := bus.Subscribe(events.TopicFill, 4)
	defer unsub()

	exec.onBar(bar("BTCUSDT", 100))
	if err := exec.Submit(intent("BTCUSDT", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-fills // entry fill

	// Entry filled near 100.1; a 2% stop sits near 98.1.
	exec.onBar(bar("BTCUSDT", 97))

	if qty := portfolio.SignedPosition("BTCUSDT"); qty != 0 {
		t.Fatalf("position = %v after stop, want flat", qty)
	}
	if portfolio.PendingStopBreach("BTCUSDT") {
		t.Fatal("breach flag not cleared after settlement")
	}
	select {
	case msg := <-fills:
		fill := msg.(Fill)
		if fill.Position != 0 {
			t.Fatalf("exit fill position = %v, want 0", fill.Position)
		}
	default:
		t.Fatal("no exit fill published")
	}
}

func TestTakeProfitFlattensPosition(t *testing.T) {
	exec, portfolio, _ := newTestExecutor()

	exec.onBar(bar("BTCUSDT", 100))
	if err := exec.Submit(intent("BTCUSDT", 0.1)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Entry filled near 100.1; a 5% target sits near 105.1.
	exec.onBar(bar("BTCUSDT", 106))

	if qty := portfolio.SignedPosition("BTCUSDT"); qty != 0 {
		t.Fatalf("position = %v after take-profit, want flat", qty)
	}
}

func TestHoldIntentIsNoop(t *testing.T) {
	exec, portfolio, bus := newTestExecutor()
	fills, unsub := bus.Subscribe(events.TopicFill, 4)
	defer unsub()

	exec.onBar(bar("BTCUSDT", 100))
	if err := exec.Submit(intent("BTCUSDT", 0)); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if qty := portfolio.SignedPosition("BTCUSDT"); qty != 0 {
		t.Fatalf("position = %v, want 0", qty)
	}
	select {
	case <-fills:
		t.Fatal("fill published for a zero-delta intent")
	default:
	}
}
