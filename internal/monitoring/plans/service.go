// Package plans manages monitoring plans and the lifecycle of their cycles:
// creating plans, scheduling cycles, publishing plan version snapshots and
// walking cycles through their status transitions. The pending-to-collecting
// transition is special, because it freezes the cycle's scope; it is
// delegated to the scope materializer.
package plans

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/requestcontext"
)

// Store is the plan and cycle persistence the service drives.
type Store interface {
	CreatePlan(ctx context.Context, plan *dmodels.Plan) error
	FindPlanByID(ctx context.Context, planID id.PlanID) (*dmodels.Plan, error)
	ListPlans(ctx context.Context) ([]dmodels.Plan, error)
	LockPlan(ctx context.Context, planID id.PlanID) error
	CreateCycle(ctx context.Context, cycle *dmodels.Cycle) error
	FindCycleByID(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error)
	SaveCycle(ctx context.Context, cycle *dmodels.Cycle) error
	ListCyclesByPlan(ctx context.Context, planID id.PlanID) ([]dmodels.Cycle, error)
}

// MembershipReader supplies member counts and the membership set a version
// snapshot captures.
type MembershipReader interface {
	ListActiveByPlan(ctx context.Context, planID id.PlanID) ([]id.ModelID, error)
	CountActiveByPlan(ctx context.Context, planID id.PlanID) (int, error)
}

// SnapshotStore persists plan version snapshots and monitoring results.
type SnapshotStore interface {
	InsertVersionSnapshot(ctx context.Context, versionID id.PlanVersionID, modelIDs []id.ModelID) error
	RecordResult(ctx context.Context, result *dmodels.MonitoringResult) error
}

// Starter freezes a cycle's scope as it begins collecting.
type Starter interface {
	StartCycle(ctx context.Context, cycleID id.CycleID) error
}

// AuditPublisher records plan mutations, fail-closed.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner executes fn inside one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PlanSummary is a plan together with its live member count.
type PlanSummary struct {
	dmodels.Plan
	MemberCount int `json:"member_count"`
}

type Service struct {
	store   Store
	ledger  MembershipReader
	shots   SnapshotStore
	starter Starter
	txr     TxRunner
	auditor AuditPublisher
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditor(a AuditPublisher) Option {
	return func(s *Service) { s.auditor = a }
}

func NewService(store Store, ledger MembershipReader, shots SnapshotStore, starter Starter, txr TxRunner, opts ...Option) *Service {
	s := &Service{
		store:   store,
		ledger:  ledger,
		shots:   shots,
		starter: starter,
		txr:     txr,
		logger:  slog.Default(),
		tracer:  otel.Tracer("modelproof/monitoring/plans"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePlan registers a new, empty plan.
func (s *Service) CreatePlan(ctx context.Context, name string, cadence dmodels.Cadence) (*dmodels.Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plans.CreatePlan")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "creating a plan requires an administrator")
	}

	now := requestcontext.Now(ctx)
	plan, err := dmodels.NewPlan(id.NewPlanID(), name, cadence, requestcontext.UserID(ctx), now)
	if err != nil {
		return nil, err
	}

	err = s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreatePlan(ctx, plan); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "plan already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create plan")
		}
		return s.emit(ctx, audit.Event{
			Action:   audit.ActionPlanCreated,
			ToPlanID: plan.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "plan created",
		slog.String("plan_id", plan.ID.String()),
		slog.String("name", plan.Name))
	return plan, nil
}

// GetPlan returns the plan with its current member count.
func (s *Service) GetPlan(ctx context.Context, planID id.PlanID) (*PlanSummary, error) {
	plan, err := s.store.FindPlanByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "plan not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read plan")
	}
	count, err := s.ledger.CountActiveByPlan(ctx, planID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count members")
	}
	return &PlanSummary{Plan: *plan, MemberCount: count}, nil
}

// ListPlans returns all plans with their member counts.
func (s *Service) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list plans")
	}
	summaries := make([]PlanSummary, 0, len(plans))
	for _, plan := range plans {
		count, err := s.ledger.CountActiveByPlan(ctx, plan.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count members")
		}
		summaries = append(summaries, PlanSummary{Plan: plan, MemberCount: count})
	}
	return summaries, nil
}

// PublishVersion captures the plan's current membership as an immutable
// version snapshot and returns the new version's ID. Cycles created with the
// version use the snapshot for scope resolution if their own scope was never
// materialized.
func (s *Service) PublishVersion(ctx context.Context, planID id.PlanID) (id.PlanVersionID, error) {
	ctx, span := s.tracer.Start(ctx, "plans.PublishVersion")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return id.PlanVersionID{}, dErrors.New(dErrors.CodeForbidden, "publishing a plan version requires an administrator")
	}

	versionID := id.NewPlanVersionID()
	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lockPlan(ctx, planID); err != nil {
			return err
		}
		members, err := s.ledger.ListActiveByPlan(ctx, planID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read plan membership")
		}
		if err := s.shots.InsertVersionSnapshot(ctx, versionID, members); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write version snapshot")
		}
		return nil
	})
	if err != nil {
		return id.PlanVersionID{}, err
	}

	s.logger.InfoContext(ctx, "plan version published",
		slog.String("plan_id", planID.String()),
		slog.String("plan_version_id", versionID.String()))
	return versionID, nil
}

// CreateCycle schedules a new pending cycle for the plan. versionID may be
// nil when the plan has no published versions.
func (s *Service) CreateCycle(ctx context.Context, planID id.PlanID, versionID id.PlanVersionID) (*dmodels.Cycle, error) {
	ctx, span := s.tracer.Start(ctx, "plans.CreateCycle")
	defer span.End()

	if !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "scheduling a cycle requires an administrator")
	}

	now := requestcontext.Now(ctx)
	cycle := dmodels.NewCycle(id.NewCycleID(), planID, now)
	cycle.PlanVersionID = versionID

	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.lockPlan(ctx, planID); err != nil {
			return err
		}
		if err := s.store.CreateCycle(ctx, cycle); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create cycle")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cycle scheduled",
		slog.String("plan_id", planID.String()),
		slog.String("cycle_id", cycle.ID.String()))
	return cycle, nil
}

// GetCycle returns a cycle by ID.
func (s *Service) GetCycle(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error) {
	cycle, err := s.store.FindCycleByID(ctx, cycleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cycle not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle")
	}
	return cycle, nil
}

// ListCycles returns the plan's cycles, oldest first.
func (s *Service) ListCycles(ctx context.Context, planID id.PlanID) ([]dmodels.Cycle, error) {
	cycles, err := s.store.ListCyclesByPlan(ctx, planID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cycles")
	}
	return cycles, nil
}

// TransitionCycle moves the cycle to the requested status. The first
// transition into collecting materializes scope, so it goes through the
// starter; everything else, including a resume from on_hold back to
// collecting, is a plain status change under the plan lock.
func (s *Service) TransitionCycle(ctx context.Context, cycleID id.CycleID, next dmodels.CycleStatus) error {
	ctx, span := s.tracer.Start(ctx, "plans.TransitionCycle")
	defer span.End()

	if next == dmodels.CycleStatusCollecting {
		cycle, err := s.GetCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		// Routing races with concurrent transitions; both paths re-read the
		// cycle under the plan lock and validate the edge again.
		if cycle.Status == dmodels.CycleStatusPending {
			return s.starter.StartCycle(ctx, cycleID)
		}
	}

	if !requestcontext.IsAdmin(ctx) {
		return dErrors.New(dErrors.CodeForbidden, "cycle transitions require an administrator")
	}

	err := s.txr.RunInTx(ctx, func(ctx context.Context) error {
		cycle, err := s.store.FindCycleByID(ctx, cycleID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "cycle not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle")
		}
		if err := s.lockPlan(ctx, cycle.PlanID); err != nil {
			return err
		}
		cycle, err = s.store.FindCycleByID(ctx, cycleID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-read cycle")
		}
		if err := cycle.Transition(next, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if err := s.store.SaveCycle(ctx, cycle); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save cycle")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "cycle transitioned",
		slog.String("cycle_id", cycleID.String()),
		slog.String("status", string(next)))
	return nil
}

// RecordResult stores a per-model outcome for a collecting cycle.
func (s *Service) RecordResult(ctx context.Context, cycleID id.CycleID, modelID id.ModelID, outcome dmodels.ResultOutcome) error {
	ctx, span := s.tracer.Start(ctx, "plans.RecordResult")
	defer span.End()

	switch outcome {
	case dmodels.ResultOutcomeGreen, dmodels.ResultOutcomeAmber, dmodels.ResultOutcomeRed:
	default:
		return dErrors.New(dErrors.CodeValidation, "outcome must be green, amber, or red")
	}

	return s.txr.RunInTx(ctx, func(ctx context.Context) error {
		cycle, err := s.store.FindCycleByID(ctx, cycleID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "cycle not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle")
		}
		if cycle.Status != dmodels.CycleStatusCollecting {
			return dErrors.New(dErrors.CodeInvariantViolation, "results can only be recorded while the cycle is collecting")
		}
		if err := s.shots.RecordResult(ctx, &dmodels.MonitoringResult{
			CycleID:    cycleID,
			ModelID:    modelID,
			Outcome:    outcome,
			RecordedAt: requestcontext.Now(ctx),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record result")
		}
		return nil
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func (s *Service) lockPlan(ctx context.Context, planID id.PlanID) error {
	if err := s.store.LockPlan(ctx, planID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "plan not found")
		}
		if errors.Is(err, sentinel.ErrLockTimeout) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "plan is busy, try again")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock plan")
	}
	return nil
}
