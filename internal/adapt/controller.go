// Package adapt monitors realized performance and retrains the models when
// accuracy degrades, swapping new policy versions in without interrupting
// live decisions.
package adapt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"adaptive-trader/internal/events"
	"adaptive-trader/internal/pattern"
	"adaptive-trader/internal/policy"
	"adaptive-trader/pkg/store"
)

// Controller states. No state is terminal.
const (
	StateActive     = "ACTIVE"
	StateEvaluating = "EVALUATING"
	StateRetraining = "RETRAINING"
)

// ActiveVersionKey is the store key holding the serving policy version.
const ActiveVersionKey = "policy/active"

// RetrainFailure is emitted when training or validation fails; the prior
// version keeps serving and the next attempt waits out a backoff.
type RetrainFailure struct {
	Version uint64
	Reason  string
}

func (e *RetrainFailure) Error() string {
	return fmt.Sprintf("retrain failure on version %d: %s", e.Version, e.Reason)
}

// Config carries the adaptation tunables.
type Config struct {
	Cadence          time.Duration
	RetrainThreshold float64
	MinTrainSamples  int
	EvaluationWindow int
	Gamma            float64
	Epsilon          float64
	BatchSize        int
	Epochs           int
	LearnRate        float64
	MaxPosition      float64
}

// Controller runs the ACTIVE / EVALUATING / RETRAINING loop for the
// process lifetime.
type Controller struct {
	cfg    Config
	replay *policy.ReplayBuffer
	book   *policy.Book
	store  *store.Store
	bus    *events.Bus
	log    zerolog.Logger

	state    atomic.Value // string
	training atomic.Bool

	mu          sync.Mutex
	failures    int
	nextAttempt time.Time

	// kick wakes the run loop when accuracy degrades between ticks.
	kick chan struct{}
}

// New builds a controller. The replay buffer is shared: the outcome feed
// writes transitions, training reads snapshots.
func New(cfg Config, replay *policy.ReplayBuffer, book *policy.Book, st *store.Store, bus *events.Bus, log zerolog.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		replay: replay,
		book:   book,
		store:  st,
		bus:    bus,
		log:    log.With().Str("component", "adapt").Logger(),
		kick:   make(chan struct{}, 1),
	}
	c.state.Store(StateActive)
	return c
}

// State returns the controller's current state.
func (c *Controller) State() string {
	return c.state.Load().(string)
}

// RecordOutcome feeds one realized transition back in. Cheap enough for
// the fill path; a detected accuracy drop nudges the run loop instead of
// evaluating inline.
func (c *Controller) RecordOutcome(t policy.Transition) {
	c.replay.Add(t)

	acc, samples := rollingAccuracy(c.replay.Recent(c.cfg.EvaluationWindow))
	if samples >= c.cfg.EvaluationWindow/2 && acc < c.cfg.RetrainThreshold {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Run drives the state machine until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evaluate(ctx)
		case <-c.kick:
			c.evaluate(ctx)
		}
	}
}

// evaluate computes rolling accuracy and decides whether to retrain. Live
// inference keeps running on the active version throughout.
func (c *Controller) evaluate(ctx context.Context) {
	if c.training.Load() {
		return
	}

	c.state.Store(StateEvaluating)
	defer func() {
		if !c.training.Load() {
			c.state.Store(StateActive)
		}
	}()

	acc, samples := rollingAccuracy(c.replay.Recent(c.cfg.EvaluationWindow))
	log := c.log.With().Float64("accuracy", acc).Int("samples", samples).Logger()

	if samples == 0 || acc >= c.cfg.RetrainThreshold {
		log.Debug().Msg("accuracy healthy; staying active")
		return
	}
	if c.replay.Len() < c.cfg.MinTrainSamples {
		log.Info().Int("have", c.replay.Len()).Int("need", c.cfg.MinTrainSamples).
			Msg("accuracy degraded but too few samples to retrain")
		return
	}

	c.mu.Lock()
	tooSoon := time.Now().Before(c.nextAttempt)
	c.mu.Unlock()
	if tooSoon {
		log.Debug().Msg("retrain deferred by backoff")
		return
	}

	c.state.Store(StateRetraining)
	c.training.Store(true)
	snapshot := c.replay.Snapshot()
	go c.retrain(ctx, snapshot, acc)
}

// retrain trains a candidate against the snapshot and promotes it if it
// clears the validation bar. Runs off the decision path.
func (c *Controller) retrain(ctx context.Context, snapshot []policy.Transition, liveAcc float64) {
	defer func() {
		c.training.Store(false)
		c.state.Store(StateActive)
	}()

	active := c.book.Active()
	start := time.Now()

	embeddings, labels := labeledEmbeddings(snapshot, active.Pattern.EmbeddingSize)
	if len(embeddings) < c.cfg.MinTrainSamples/2 {
		c.reportFailure(ctx, active.Number, liveAcc, "too few labeled samples after filtering")
		return
	}

	// Hold out the newest fifth for validation.
	cut := len(embeddings) * 4 / 5
	trainEmb, valEmb := embeddings[:cut], embeddings[cut:]
	trainLab, valLab := labels[:cut], labels[cut:]

	candPattern := pattern.TrainReadout(active.Pattern, trainEmb, trainLab, c.cfg.LearnRate, c.cfg.Epochs)
	candPolicy := policy.Train(active.Policy, snapshot[:len(snapshot)*4/5], policy.TrainConfig{
		Gamma:       c.cfg.Gamma,
		Epsilon:     c.cfg.Epsilon,
		BatchSize:   c.cfg.BatchSize,
		Epochs:      c.cfg.Epochs,
		LearnRate:   c.cfg.LearnRate,
		MaxPosition: c.cfg.MaxPosition,
		Seed:        int64(active.Number) + 1,
	})

	valAcc := pattern.EvaluateReadout(candPattern, valEmb, valLab)
	if valAcc < c.cfg.RetrainThreshold {
		c.reportFailure(ctx, active.Number, valAcc,
			fmt.Sprintf("validation accuracy %.3f below bar %.3f", valAcc, c.cfg.RetrainThreshold))
		return
	}

	candidate := policy.Version{
		Number:    active.Number + 1,
		CreatedAt: time.Now(),
		Accuracy:  valAcc,
		Pattern:   candPattern,
		Policy:    candPolicy,
	}

	if err := c.book.Publish(candidate); err != nil {
		c.reportFailure(ctx, active.Number, valAcc, err.Error())
		return
	}

	c.mu.Lock()
	c.failures = 0
	c.nextAttempt = time.Time{}
	c.mu.Unlock()

	c.persistVersion(ctx, candidate)
	if c.store != nil {
		_ = c.store.AppendRetrainEvent(ctx, store.RetrainEvent{
			ID:          uuid.NewString(),
			Timestamp:   time.Now(),
			FromVersion: active.Number,
			ToVersion:   candidate.Number,
			Outcome:     "PROMOTED",
			Accuracy:    valAcc,
		})
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicPolicySwap, candidate.Number)
	}
	c.log.Info().
		Uint64("version", candidate.Number).
		Float64("val_accuracy", valAcc).
		Dur("took", time.Since(start)).
		Msg("policy version promoted")
}

// reportFailure records a RetrainFailure and arms exponential backoff so
// the next scheduled cadence does not immediately retry.
func (c *Controller) reportFailure(ctx context.Context, version uint64, accuracy float64, reason string) {
	c.mu.Lock()
	c.failures++
	backoff := c.cfg.Cadence
	for i := 1; i < c.failures && backoff < 8*c.cfg.Cadence; i++ {
		backoff *= 2
	}
	c.nextAttempt = time.Now().Add(backoff)
	c.mu.Unlock()

	failure := &RetrainFailure{Version: version, Reason: reason}
	c.log.Warn().Err(failure).Float64("accuracy", accuracy).Dur("backoff", backoff).Msg("retrain failed")

	if c.store != nil {
		_ = c.store.AppendRetrainEvent(ctx, store.RetrainEvent{
			ID:          uuid.NewString(),
			Timestamp:   time.Now(),
			FromVersion: version,
			ToVersion:   version,
			Outcome:     "FAILED",
			Accuracy:    accuracy,
			Detail:      reason,
		})
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicRetrainFailed, failure)
	}
}

func (c *Controller) persistVersion(ctx context.Context, v policy.Version) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal policy version")
		return
	}
	if err := c.store.Put(ctx, ActiveVersionKey, data); err != nil {
		c.log.Error().Err(err).Msg("persist active policy version")
	}
	_ = c.store.Put(ctx, fmt.Sprintf("policy/v%d", v.Number), data)
}

// LoadActiveVersion restores the last serving version from the store.
func LoadActiveVersion(ctx context.Context, st *store.Store) (*policy.Version, error) {
	data, err := st.Get(ctx, ActiveVersionKey)
	if err != nil {
		return nil, err
	}
	var v policy.Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode active policy version: %w", err)
	}
	return &v, nil
}

// rollingAccuracy is the directional hit-rate of recent non-flat actions:
// a hit is an action whose sign matched the realized return.
func rollingAccuracy(recent []policy.Transition) (float64, int) {
	hits, samples := 0, 0
	for _, t := range recent {
		if t.Action == 0 || t.RealizedReturn == 0 {
			continue
		}
		samples++
		if t.Action*t.RealizedReturn > 0 {
			hits++
		}
	}
	if samples == 0 {
		return 1, 0
	}
	return float64(hits) / float64(samples), samples
}

// labeledEmbeddings extracts (embedding, direction label) pairs for
// readout training.
func labeledEmbeddings(snapshot []policy.Transition, embeddingSize int) ([][]float64, []float64) {
	var embeddings [][]float64
	var labels []float64
	for _, t := range snapshot {
		if len(t.State.Embedding) != embeddingSize || t.RealizedReturn == 0 {
			continue
		}
		label := 0.0
		if t.RealizedReturn > 0 {
			label = 1.0
		}
		embeddings = append(embeddings, t.State.Embedding)
		labels = append(labels, label)
	}
	return embeddings, labels
}
