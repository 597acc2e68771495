package membership

import (
	"context"
	"time"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
)

// LedgerStore is the membership ledger plus its current-membership
// projection. Implementations mutate both together; there is no path that
// updates one without the other.
type LedgerStore interface {
	AppendOpen(ctx context.Context, planID id.PlanID, modelID id.ModelID, from time.Time) error
	CloseOpen(ctx context.Context, planID id.PlanID, modelID id.ModelID, to time.Time) (bool, error)
	FindOpenByModel(ctx context.Context, modelID id.ModelID) (*dmodels.Membership, error)
	ListActiveByPlan(ctx context.Context, planID id.PlanID) ([]id.ModelID, error)
	ListHistoryByModel(ctx context.Context, modelID id.ModelID) ([]dmodels.Membership, error)
	CountActiveByPlan(ctx context.Context, planID id.PlanID) (int, error)
}

// PlanLocker provides the plan-scoped exclusive lock and the cycle reads the
// transfer blocking rule depends on. The lock must be acquired before any
// read of cycle state or membership.
type PlanLocker interface {
	LockPlan(ctx context.Context, planID id.PlanID) error
	FindActiveCycleByPlan(ctx context.Context, planID id.PlanID) (*dmodels.Cycle, error)
}

// AuditPublisher records membership mutations, fail-closed.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner executes fn inside one transaction. Everything fn does through
// the stores commits or rolls back atomically.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
