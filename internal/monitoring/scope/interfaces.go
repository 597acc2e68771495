package scope

import (
	"context"
	"time"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
)

// CycleStore gives the materializer and resolver access to plans and cycles.
type CycleStore interface {
	LockPlan(ctx context.Context, planID id.PlanID) error
	FindCycleByID(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error)
	SaveCycle(ctx context.Context, cycle *dmodels.Cycle) error
}

// ScopeStore persists materialized scopes, plan version snapshots and
// monitoring results. Scope rows are written once and never updated.
type ScopeStore interface {
	InsertScope(ctx context.Context, cycleID id.CycleID, modelIDs []id.ModelID, capturedAt time.Time) error
	ListScope(ctx context.Context, cycleID id.CycleID) ([]id.ModelID, error)
	ListVersionSnapshot(ctx context.Context, versionID id.PlanVersionID) ([]id.ModelID, error)
	ListResultModels(ctx context.Context, cycleID id.CycleID) ([]id.ModelID, error)
}

// MembershipReader exposes the current-membership projection, the final
// fallback when a cycle predates scope materialization.
type MembershipReader interface {
	ListActiveByPlan(ctx context.Context, planID id.PlanID) ([]id.ModelID, error)
}

// AuditPublisher records cycle starts, fail-closed.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner executes fn inside one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
