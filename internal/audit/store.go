package audit

import (
	"context"

	id "modelproof/pkg/domain"
)

// Store persists audit events. Implementations must honor the ambient
// transaction (pkg/platform/tx) so an event commits or rolls back with the
// mutation that produced it.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByPlan(ctx context.Context, planID id.PlanID) ([]Event, error)
}
