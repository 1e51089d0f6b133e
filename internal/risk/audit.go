package risk

import (
	"context"

	"github.com/rs/zerolog"

	"adaptive-trader/pkg/store"
)

// AuditLog persists gate records off the decision path. Records go through
// a buffered channel; a full buffer drops the record with a log line
// instead of blocking a decision.
type AuditLog struct {
	store *store.Store
	log   zerolog.Logger
	ch    chan store.RiskRecord
}

// NewAuditLog builds the sink. st may be nil; records are then only logged.
func NewAuditLog(st *store.Store, log zerolog.Logger) *AuditLog {
	return &AuditLog{
		store: st,
		log:   log.With().Str("component", "risk-audit").Logger(),
		ch:    make(chan store.RiskRecord, 256),
	}
}

// Record enqueues one audit entry. Implements AuditSink.
func (a *AuditLog) Record(r store.RiskRecord) {
	select {
	case a.ch <- r:
	default:
		a.log.Warn().Str("symbol", r.Symbol).Str("verdict", r.Verdict).Msg("audit buffer full; record dropped")
	}
}

// Run drains the buffer until ctx is cancelled.
func (a *AuditLog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-a.ch:
			a.write(ctx, r)
		}
	}
}

func (a *AuditLog) write(ctx context.Context, r store.RiskRecord) {
	if r.Verdict != VerdictApproved {
		a.log.Info().
			Str("symbol", r.Symbol).
			Str("verdict", r.Verdict).
			Str("reason", r.Reason).
			Float64("requested", r.Requested).
			Float64("approved", r.Approved).
			Msg("risk verdict")
	}
	if a.store == nil {
		return
	}
	if err := a.store.AppendRiskRecord(ctx, r); err != nil && ctx.Err() == nil {
		a.log.Error().Err(err).Msg("persist audit record")
	}
}
