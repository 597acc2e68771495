package membership

import (
	"context"
	"sort"
	"sync"
	"time"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	"modelproof/pkg/platform/sentinel"
)

// InMemory keeps the membership ledger and the current-membership projection
// in process. The two are mutated together under one mutex, mirroring the
// single-transaction guarantee of the Postgres store.
type InMemory struct {
	mu     sync.RWMutex
	ledger []*dmodels.Membership
	// active is the projection: model -> plan for every open ledger row.
	active map[id.ModelID]id.PlanID
}

func NewInMemory() *InMemory {
	return &InMemory{
		active: make(map[id.ModelID]id.PlanID),
	}
}

// AppendOpen inserts an open ledger row and the matching projection row.
// Returns sentinel.ErrConflict when the model already has an open row,
// matching the partial unique index in Postgres.
func (s *InMemory) AppendOpen(_ context.Context, planID id.PlanID, modelID id.ModelID, from time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[modelID]; exists {
		return sentinel.ErrConflict
	}
	s.ledger = append(s.ledger, dmodels.NewMembership(planID, modelID, from))
	s.active[modelID] = planID
	return nil
}

// CloseOpen closes the open ledger row for (plan, model) and removes the
// projection row. Reports whether a row was closed.
func (s *InMemory) CloseOpen(_ context.Context, planID id.PlanID, modelID id.ModelID, to time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.active[modelID]
	if !exists || current != planID {
		return false, nil
	}
	for _, row := range s.ledger {
		if row.Open() && row.ModelID == modelID && row.PlanID == planID {
			if err := row.Close(to); err != nil {
				return false, err
			}
			break
		}
	}
	delete(s.active, modelID)
	return true, nil
}

// FindOpenByModel returns the model's open ledger row, or nil when the model
// is unassigned.
func (s *InMemory) FindOpenByModel(_ context.Context, modelID id.ModelID) (*dmodels.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.ledger {
		if row.Open() && row.ModelID == modelID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

// ListActiveByPlan reads the projection for a plan, sorted for determinism.
func (s *InMemory) ListActiveByPlan(_ context.Context, planID id.PlanID) ([]id.ModelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var modelIDs []id.ModelID
	for modelID, plan := range s.active {
		if plan == planID {
			modelIDs = append(modelIDs, modelID)
		}
	}
	sort.Slice(modelIDs, func(i, j int) bool {
		return modelIDs[i].String() < modelIDs[j].String()
	})
	return modelIDs, nil
}

// ListHistoryByModel returns every ledger row for a model, oldest first.
func (s *InMemory) ListHistoryByModel(_ context.Context, modelID id.ModelID) ([]dmodels.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var history []dmodels.Membership
	for _, row := range s.ledger {
		if row.ModelID == modelID {
			history = append(history, *row)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].EffectiveFrom.Before(history[j].EffectiveFrom)
	})
	return history, nil
}

// CountActiveByPlan returns the projection size for a plan.
func (s *InMemory) CountActiveByPlan(_ context.Context, planID id.PlanID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, plan := range s.active {
		if plan == planID {
			count++
		}
	}
	return count, nil
}
