package audit

import (
	"context"
	"sync"

	id "modelproof/pkg/domain"
)

// InMemory is an append-only in-process audit sink for tests and local runs.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

func (s *InMemory) ListByPlan(_ context.Context, planID id.PlanID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Event
	for _, event := range s.events {
		if event.FromPlanID == planID || event.ToPlanID == planID {
			matched = append(matched, event)
		}
	}
	return matched, nil
}

// All returns every captured event, oldest first. Test helper.
func (s *InMemory) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]Event, len(s.events))
	copy(copied, s.events)
	return copied
}
