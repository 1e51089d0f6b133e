// Package engine runs the per-symbol decision pipeline: bars in timestamp
// order through feature building, pattern inference, the policy, and the
// risk gate, out to execution as order intents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
	"adaptive-trader/internal/features"
	"adaptive-trader/internal/market"
	"adaptive-trader/internal/monitor"
	"adaptive-trader/internal/order"
	"adaptive-trader/internal/pattern"
	"adaptive-trader/internal/policy"
	"adaptive-trader/internal/risk"
)

// OutcomeSource supplies the realized outcome accumulated for a symbol
// since the previous decision. Implemented by the execution collaborator.
type OutcomeSource interface {
	RealizedOutcome(symbol string) (reward, realizedReturn float64, ok bool)
}

// TransitionSink receives completed transitions for learning.
type TransitionSink interface {
	RecordOutcome(policy.Transition)
}

// Config bundles the engine tunables.
type Config struct {
	Symbols       []string
	Indicators    []string
	PatternWindow int
	QueueSize     int
	MaxPosition   float64
	DrainTimeout  time.Duration
}

// Engine owns one bounded queue and one consumer goroutine per symbol.
// Symbols never block each other; decisions for one symbol always reflect
// its bars in timestamp order.
type Engine struct {
	cfg      Config
	bus      *events.Bus
	book     *policy.Book
	gate     *risk.Gate
	executor order.Executor
	outcomes OutcomeSource
	sink     TransitionSink
	metrics  *monitor.Metrics
	log      zerolog.Logger

	queues map[string]chan market.Bar
	unsub  func()
	wg     sync.WaitGroup
}

// New builds the engine. executor, outcomes, sink, and metrics may be nil
// in tests.
func New(cfg Config, bus *events.Bus, book *policy.Book, gate *risk.Gate, executor order.Executor, outcomes OutcomeSource, sink TransitionSink, metrics *monitor.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		bus:      bus,
		book:     book,
		gate:     gate,
		executor: executor,
		outcomes: outcomes,
		sink:     sink,
		metrics:  metrics,
		log:      log.With().Str("component", "engine").Logger(),
		queues:   make(map[string]chan market.Bar),
	}
}

// Start subscribes to the bar stream and launches one worker per symbol.
func (e *Engine) Start(ctx context.Context) error {
	for _, sym := range e.cfg.Symbols {
		builder, err := features.NewBuilder(sym, e.cfg.Indicators)
		if err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		q := make(chan market.Bar, e.cfg.QueueSize)
		e.queues[sym] = q
		e.wg.Add(1)
		go e.consume(sym, builder, q)
	}

	ch, unsub := e.bus.Subscribe(events.TopicBar, e.cfg.QueueSize*len(e.cfg.Symbols))
	e.unsub = unsub

	go func() {
		defer func() {
			for _, q := range e.queues {
				close(q)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				bar, ok := msg.(market.Bar)
				if !ok {
					continue
				}
				q, ok := e.queues[bar.Symbol]
				if !ok {
					continue
				}
				select {
				case q <- bar:
				default:
					// Queue full: drop rather than block the stream.
					if e.metrics != nil {
						e.metrics.BarsDropped.Inc()
					}
				}
			}
		}
	}()

	return nil
}

// Stop detaches from the bar stream and waits for in-flight decisions to
// drain, bounded by DrainTimeout. A failed drain is reported to the
// caller, never escalated.
func (e *Engine) Stop() error {
	if e.unsub != nil {
		e.unsub()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.cfg.DrainTimeout):
		return errors.New("engine: drain timed out; undelivered bars dropped")
	}
}

// pending is the half-open transition awaiting its outcome and next state.
type pending struct {
	state  pattern.MarketState
	action float64
}

func (e *Engine) consume(symbol string, builder *features.Builder, q <-chan market.Bar) {
	defer e.wg.Done()

	log := e.log.With().Str("symbol", symbol).Logger()
	window := make([]features.Vector, 0, e.cfg.PatternWindow)
	var open *pending

	for bar := range q {
		vec, err := builder.Append(bar)
		if err != nil {
			var dqe *market.DataQualityError
			if errors.As(err, &dqe) {
				// Skip the offending bar; the stream continues.
				log.Warn().Str("reason", dqe.Reason).Msg("bar skipped")
				e.countError("data_quality")
				continue
			}
			log.Error().Err(err).Msg("feature build failed")
			e.countError("feature")
			continue
		}
		if vec == nil {
			continue // warming up
		}

		window = append(window, *vec)
		if len(window) > e.cfg.PatternWindow {
			window = window[1:]
		}
		if len(window) < e.cfg.PatternWindow {
			continue
		}

		open = e.decide(symbol, bar, window, open, log)
	}
}

// decide runs one inference + gating step. Every failure path degrades to
// HOLD for this symbol and decision only.
func (e *Engine) decide(symbol string, bar market.Bar, window []features.Vector, open *pending, log zerolog.Logger) *pending {
	start := time.Now()
	version := e.book.Active()

	st, err := pattern.New(version.Pattern).Infer(window)
	if err != nil {
		log.Warn().Err(err).Msg("pattern inference failed; holding")
		e.countError("inference")
		e.countDecision(symbol, 0)
		return open
	}

	act, err := policy.NewOptimizer(version.Policy, e.cfg.MaxPosition).Decide(st)
	if err != nil {
		log.Warn().Err(err).Msg("policy decision failed; holding")
		e.countError("inference")
		e.countDecision(symbol, 0)
		return open
	}
	e.bus.Publish(events.TopicDecision, act)

	// Close out the previous transition once its outcome is known.
	if open != nil && e.outcomes != nil && e.sink != nil {
		if reward, ret, ok := e.outcomes.RealizedOutcome(symbol); ok {
			e.sink.RecordOutcome(policy.Transition{
				State:          open.state,
				Action:         open.action,
				Reward:         reward,
				RealizedReturn: ret,
				Next:           st,
			})
		}
	}

	executed := 0.0
	approved, err := e.gate.Check(act)
	if err != nil {
		var rve *risk.RiskViolationError
		if errors.As(err, &rve) {
			log.Info().Str("reason", rve.Reason).Msg("action rejected by risk gate")
			e.bus.Publish(events.TopicOrderRejected, rve)
			if e.metrics != nil {
				e.metrics.RiskRejections.Inc()
			}
		} else {
			log.Error().Err(err).Msg("risk gate error; holding")
			e.countError("risk")
		}
	} else {
		executed = approved.Position
		intent := order.Intent{
			ID:            uuid.NewString(),
			Action:        approved,
			PolicyVersion: version.Number,
			CreatedAt:     bar.OpenTime,
		}
		e.bus.Publish(events.TopicOrderIntent, intent)
		if e.executor != nil {
			if err := e.executor.Submit(intent); err != nil {
				log.Error().Err(err).Msg("intent submission failed")
				e.countError("execution")
				executed = 0
			}
		}
	}

	e.countDecision(symbol, executed)
	if e.metrics != nil {
		e.metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	}
	return &pending{state: st, action: executed}
}

func (e *Engine) countDecision(symbol string, position float64) {
	if e.metrics == nil {
		return
	}
	action := "HOLD"
	if position > 0 {
		action = "LONG"
	} else if position < 0 {
		action = "SHORT"
	}
	e.metrics.Decisions.WithLabelValues(symbol, action).Inc()
}

func (e *Engine) countError(kind string) {
	if e.metrics != nil {
		e.metrics.DecisionErrors.WithLabelValues(kind).Inc()
	}
}
