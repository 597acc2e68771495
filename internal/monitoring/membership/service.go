// Package membership implements mutation of the plan membership ledger:
// adding a model to a plan, removing it, and transferring it between plans.
// All mutations run inside a transaction that holds the exclusive lock of
// every plan they touch, and every applied mutation emits an audit event in
// the same transaction.
package membership

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"modelproof/internal/audit"
	"modelproof/internal/monitoring/metrics"
	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/requestcontext"
)

const (
	// lockRetryAttempts bounds the internal retry when a plan lock cannot
	// be acquired before the lock timeout. The caller sees a single
	// "try again" failure, never a partial mutation.
	lockRetryAttempts = 3
	lockRetryBaseWait = 50 * time.Millisecond
)

type Service struct {
	ledger  LedgerStore
	plans   PlanLocker
	txr     TxRunner
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditor(a AuditPublisher) Option {
	return func(s *Service) { s.auditor = a }
}

func NewService(ledger LedgerStore, plans PlanLocker, txr TxRunner, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		plans:  plans,
		txr:    txr,
		logger: slog.Default(),
		tracer: otel.Tracer("modelproof/monitoring/membership"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add opens a membership row for the model in the given plan. The model must
// not be active in any other plan; adding it to the plan it is already active
// in succeeds without writing anything.
func (s *Service) Add(ctx context.Context, planID id.PlanID, modelID id.ModelID) error {
	ctx, span := s.tracer.Start(ctx, "membership.Add")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "membership changes require an administrator")
	}

	err := s.runWithLockRetry(ctx, func(ctx context.Context) error {
		if err := s.plans.LockPlan(ctx, planID); err != nil {
			return s.translateLock(err, "plan not found")
		}

		open, err := s.ledger.FindOpenByModel(ctx, modelID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read open membership")
		}
		if open != nil {
			if open.PlanID == planID {
				// Already a member of this plan.
				return nil
			}
			return dErrors.New(dErrors.CodeInvariantViolation, "model is already active in another plan")
		}

		now := requestcontext.Now(ctx)
		if err := s.ledger.AppendOpen(ctx, planID, modelID, now); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				// Lost the race on the partial unique index.
				return dErrors.New(dErrors.CodeInvariantViolation, "model is already active in another plan")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append membership")
		}

		return s.emit(ctx, audit.Event{
			Action:   audit.ActionMembershipAdded,
			ModelID:  modelID,
			ToPlanID: planID,
		})
	})
	if err != nil {
		return err
	}

	s.metrics.RecordMutation("add")
	s.logger.InfoContext(ctx, "model added to plan",
		slog.String("plan_id", planID.String()),
		slog.String("model_id", modelID.String()))
	return nil
}

// Remove closes the model's open membership row in the given plan. Removing
// a model that is not active in the plan succeeds without writing anything.
func (s *Service) Remove(ctx context.Context, planID id.PlanID, modelID id.ModelID) error {
	ctx, span := s.tracer.Start(ctx, "membership.Remove")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "membership changes require an administrator")
	}

	var closed bool
	err := s.runWithLockRetry(ctx, func(ctx context.Context) error {
		if err := s.plans.LockPlan(ctx, planID); err != nil {
			return s.translateLock(err, "plan not found")
		}

		now := requestcontext.Now(ctx)
		var err error
		closed, err = s.ledger.CloseOpen(ctx, planID, modelID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to close membership")
		}
		if !closed {
			return nil
		}

		return s.emit(ctx, audit.Event{
			Action:     audit.ActionMembershipRemoved,
			ModelID:    modelID,
			FromPlanID: planID,
		})
	})
	if err != nil {
		return err
	}

	if closed {
		s.metrics.RecordMutation("remove")
		s.logger.InfoContext(ctx, "model removed from plan",
			slog.String("plan_id", planID.String()),
			slog.String("model_id", modelID.String()))
	}
	return nil
}

// ActiveModels lists the models currently active in the plan, from the
// current-membership projection.
func (s *Service) ActiveModels(ctx context.Context, planID id.PlanID) ([]id.ModelID, error) {
	models, err := s.ledger.ListActiveByPlan(ctx, planID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active memberships")
	}
	return models, nil
}

// History returns the model's full membership ledger, oldest first. Closed
// rows are never rewritten, so the result is a faithful timeline.
func (s *Service) History(ctx context.Context, modelID id.ModelID) ([]dmodels.Membership, error) {
	rows, err := s.ledger.ListHistoryByModel(ctx, modelID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list membership history")
	}
	return rows, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		// Fail-closed: a mutation that cannot be audited is not applied.
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

// runWithLockRetry runs fn in a transaction, retrying a bounded number of
// times when the transaction fails on a lock timeout or deadlock. Each
// attempt is a fresh transaction; nothing from a failed attempt survives.
func (s *Service) runWithLockRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.RecordBusyRetry()
			select {
			case <-time.After(time.Duration(attempt) * lockRetryBaseWait):
			case <-ctx.Done():
				return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "cancelled while waiting to retry")
			}
		}
		err = s.txr.RunInTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "plan is busy, try again")
}

func isBusy(err error) bool {
	return errors.Is(err, sentinel.ErrLockTimeout) || dErrors.HasCode(err, dErrors.CodeUnavailable)
}

func (s *Service) translateLock(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	if errors.Is(err, sentinel.ErrLockTimeout) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock plan")
}
