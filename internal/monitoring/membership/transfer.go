package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"modelproof/internal/audit"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/requestcontext"
)

// BlockedByCycleError reports that a transfer was refused because the source
// plan has a cycle in flight. It carries the blocking cycle so callers can
// point the operator at it.
type BlockedByCycleError struct {
	CycleID id.CycleID
	Status  string
}

func (e *BlockedByCycleError) Error() string {
	return fmt.Sprintf("plan has an active monitoring cycle %s (status %s)", e.CycleID, e.Status)
}

// BlockingCycle extracts the blocking cycle from an error chain, if the
// error came from a refused transfer.
func BlockingCycle(err error) (*BlockedByCycleError, bool) {
	var blocked *BlockedByCycleError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}

// Transfer atomically moves the model from one plan to another: the open row
// in the source plan is closed and a new open row in the destination plan is
// opened, in one transaction, under the exclusive locks of both plans. The
// transfer is refused while the source plan has a cycle in any in-flight
// status, including on hold.
//
// If the model has no open membership the transfer degrades to a plain add
// to the destination plan. If source and destination are the same plan the
// call succeeds without writing anything.
func (s *Service) Transfer(ctx context.Context, modelID id.ModelID, fromPlanID, toPlanID id.PlanID) error {
	ctx, span := s.tracer.Start(ctx, "membership.Transfer")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "membership changes require an administrator")
	}

	if fromPlanID == toPlanID {
		return nil
	}

	err := s.runWithLockRetry(ctx, func(ctx context.Context) error {
		// Lock both plans in a fixed order so two opposing transfers
		// cannot deadlock.
		for _, planID := range lockOrder(fromPlanID, toPlanID) {
			if err := s.plans.LockPlan(ctx, planID); err != nil {
				return s.translateLock(err, "plan not found")
			}
		}

		open, err := s.ledger.FindOpenByModel(ctx, modelID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read open membership")
		}

		now := requestcontext.Now(ctx)

		if open == nil {
			// Nothing to move; behave like a plain add.
			if err := s.ledger.AppendOpen(ctx, toPlanID, modelID, now); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append membership")
			}
			return s.emit(ctx, audit.Event{
				Action:   audit.ActionMembershipAdded,
				ModelID:  modelID,
				ToPlanID: toPlanID,
			})
		}

		if open.PlanID != fromPlanID {
			return dErrors.New(dErrors.CodeConflict, "model is not active in the source plan")
		}

		cycle, err := s.plans.FindActiveCycleByPlan(ctx, fromPlanID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle state")
		}
		if cycle != nil {
			s.metrics.RecordTransferBlocked()
			blocked := &BlockedByCycleError{CycleID: cycle.ID, Status: string(cycle.Status)}
			return dErrors.Wrap(blocked, dErrors.CodeConflict, "transfer blocked by active monitoring cycle")
		}

		closed, err := s.ledger.CloseOpen(ctx, fromPlanID, modelID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to close membership")
		}
		if !closed {
			// The open row was re-read above under both plan locks, so it
			// cannot have moved since.
			return dErrors.New(dErrors.CodeInternal, "open membership vanished during transfer")
		}
		if err := s.ledger.AppendOpen(ctx, toPlanID, modelID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append membership")
		}

		return s.emit(ctx, audit.Event{
			Action:     audit.ActionMembershipTransferred,
			ModelID:    modelID,
			FromPlanID: fromPlanID,
			ToPlanID:   toPlanID,
		})
	})
	if err != nil {
		return err
	}

	s.metrics.RecordMutation("transfer")
	s.logger.InfoContext(ctx, "model transferred between plans",
		slog.String("model_id", modelID.String()),
		slog.String("from_plan_id", fromPlanID.String()),
		slog.String("to_plan_id", toPlanID.String()))
	return nil
}

func lockOrder(a, b id.PlanID) []id.PlanID {
	if strings.Compare(a.String(), b.String()) <= 0 {
		return []id.PlanID{a, b}
	}
	return []id.PlanID{b, a}
}
