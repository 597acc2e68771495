// Package scope owns the lifecycle of a cycle's model scope: capturing it
// when the cycle starts and resolving it afterwards, for any cycle however
// old, without ever rewriting history.
package scope

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"modelproof/internal/audit"
	"modelproof/internal/monitoring/metrics"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/requestcontext"
)

const (
	lockRetryAttempts = 3
	lockRetryBaseWait = 50 * time.Millisecond
)

// Materializer snapshots a plan's membership into an immutable cycle scope
// at the moment the cycle starts collecting.
type Materializer struct {
	cycles  CycleStore
	scopes  ScopeStore
	ledger  MembershipReader
	txr     TxRunner
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type MaterializerOption func(*Materializer)

func WithMaterializerLogger(logger *slog.Logger) MaterializerOption {
	return func(m *Materializer) { m.logger = logger }
}

func WithMaterializerMetrics(mx *metrics.Metrics) MaterializerOption {
	return func(m *Materializer) { m.metrics = mx }
}

func WithMaterializerAuditor(a AuditPublisher) MaterializerOption {
	return func(m *Materializer) { m.auditor = a }
}

func NewMaterializer(cycles CycleStore, scopes ScopeStore, ledger MembershipReader, txr TxRunner, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		cycles: cycles,
		scopes: scopes,
		ledger: ledger,
		txr:    txr,
		logger: slog.Default(),
		tracer: otel.Tracer("modelproof/monitoring/scope"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartCycle moves the cycle from pending to collecting and captures the
// plan's current members as the cycle's scope, all in one transaction under
// the plan's exclusive lock. A cycle can be started exactly once; the scope
// written here is never modified afterwards.
func (m *Materializer) StartCycle(ctx context.Context, cycleID id.CycleID) error {
	ctx, span := m.tracer.Start(ctx, "scope.StartCycle")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "starting a cycle requires an administrator")
	}

	var captured int
	err := m.runWithLockRetry(ctx, func(ctx context.Context) error {
		cycle, err := m.cycles.FindCycleByID(ctx, cycleID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "cycle not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle")
		}

		if err := m.cycles.LockPlan(ctx, cycle.PlanID); err != nil {
			if errors.Is(err, sentinel.ErrLockTimeout) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock plan")
		}

		// Re-read under the lock; the status may have changed while we
		// waited for it.
		cycle, err = m.cycles.FindCycleByID(ctx, cycleID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-read cycle")
		}
		if err := cycle.CanStart(); err != nil {
			return err
		}

		members, err := m.ledger.ListActiveByPlan(ctx, cycle.PlanID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read plan membership")
		}

		now := requestcontext.Now(ctx)
		cycle.ApplyStart(now)
		if err := m.cycles.SaveCycle(ctx, cycle); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save cycle")
		}
		if err := m.scopes.InsertScope(ctx, cycleID, members, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write cycle scope")
		}
		captured = len(members)

		if m.auditor == nil {
			return nil
		}
		// ToPlanID ties the event to the plan so the per-plan trail picks
		// up cycle starts.
		if err := m.auditor.Emit(ctx, audit.Event{
			Action:   audit.ActionCycleStarted,
			CycleID:  cycleID,
			ToPlanID: cycle.PlanID,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.metrics.RecordMaterialization(captured)
	m.logger.InfoContext(ctx, "cycle scope materialized",
		slog.String("cycle_id", cycleID.String()),
		slog.Int("models", captured))
	return nil
}

func (m *Materializer) runWithLockRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		if attempt > 0 {
			m.metrics.RecordBusyRetry()
			select {
			case <-time.After(time.Duration(attempt) * lockRetryBaseWait):
			case <-ctx.Done():
				return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "cancelled while waiting to retry")
			}
		}
		err = m.txr.RunInTx(ctx, fn)
		if err == nil || !errors.Is(err, sentinel.ErrLockTimeout) {
			return err
		}
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "plan is busy, try again")
}
