package cycle

import (
	"context"
	"sort"
	"sync"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	"modelproof/pkg/platform/sentinel"
)

// InMemory keeps plans and cycles in process for unit tests and local runs.
type InMemory struct {
	mu     sync.RWMutex
	plans  map[id.PlanID]*dmodels.Plan
	cycles map[id.CycleID]*dmodels.Cycle
}

func NewInMemory() *InMemory {
	return &InMemory{
		plans:  make(map[id.PlanID]*dmodels.Plan),
		cycles: make(map[id.CycleID]*dmodels.Cycle),
	}
}

func (s *InMemory) CreatePlan(_ context.Context, plan *dmodels.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[plan.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *plan
	s.plans[plan.ID] = &copied
	return nil
}

func (s *InMemory) FindPlanByID(_ context.Context, planID id.PlanID) (*dmodels.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, exists := s.plans[planID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *plan
	return &copied, nil
}

func (s *InMemory) ListPlans(_ context.Context) ([]dmodels.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plans := make([]dmodels.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		plans = append(plans, *plan)
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.Before(plans[j].CreatedAt)
	})
	return plans, nil
}

// LockPlan verifies the plan exists. Exclusive locking is provided by the
// in-memory TxRunner, which serializes all mutating operations under one
// mutex, so the lock itself is a no-op here.
func (s *InMemory) LockPlan(_ context.Context, planID id.PlanID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.plans[planID]; !exists {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *InMemory) CreateCycle(_ context.Context, cycle *dmodels.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[cycle.PlanID]; !exists {
		return sentinel.ErrNotFound
	}
	if _, exists := s.cycles[cycle.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *cycle
	s.cycles[cycle.ID] = &copied
	return nil
}

func (s *InMemory) FindCycleByID(_ context.Context, cycleID id.CycleID) (*dmodels.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cycle, exists := s.cycles[cycleID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *cycle
	return &copied, nil
}

func (s *InMemory) SaveCycle(_ context.Context, cycle *dmodels.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cycles[cycle.ID]; !exists {
		return sentinel.ErrNotFound
	}
	copied := *cycle
	s.cycles[cycle.ID] = &copied
	return nil
}

// FindActiveCycleByPlan returns the oldest cycle of the plan in an active
// (non-pending, non-terminal) status, or nil when none is active.
func (s *InMemory) FindActiveCycleByPlan(_ context.Context, planID id.PlanID) (*dmodels.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *dmodels.Cycle
	for _, cycle := range s.cycles {
		if cycle.PlanID != planID || !cycle.Status.Active() {
			continue
		}
		if found == nil || cycle.CreatedAt.Before(found.CreatedAt) {
			found = cycle
		}
	}
	if found == nil {
		return nil, nil
	}
	copied := *found
	return &copied, nil
}

// ListCyclesByPlan returns every cycle of a plan, oldest first.
func (s *InMemory) ListCyclesByPlan(_ context.Context, planID id.PlanID) ([]dmodels.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cycles []dmodels.Cycle
	for _, cycle := range s.cycles {
		if cycle.PlanID == planID {
			cycles = append(cycles, *cycle)
		}
	}
	sort.Slice(cycles, func(i, j int) bool {
		return cycles[i].CreatedAt.Before(cycles[j].CreatedAt)
	})
	return cycles, nil
}
