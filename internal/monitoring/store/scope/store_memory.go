package scope

import (
	"context"
	"sort"
	"sync"
	"time"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
)

// InMemory keeps cycle scopes, plan-version snapshots, and monitoring
// results in process.
type InMemory struct {
	mu        sync.RWMutex
	scopes    map[id.CycleID][]dmodels.ScopeEntry
	snapshots map[id.PlanVersionID][]id.ModelID
	results   map[id.CycleID][]dmodels.MonitoringResult
}

func NewInMemory() *InMemory {
	return &InMemory{
		scopes:    make(map[id.CycleID][]dmodels.ScopeEntry),
		snapshots: make(map[id.PlanVersionID][]id.ModelID),
		results:   make(map[id.CycleID][]dmodels.MonitoringResult),
	}
}

// InsertScope writes the cycle's scope rows. A second write for the same
// cycle is ignored: scope locks at first materialization and never changes.
func (s *InMemory) InsertScope(_ context.Context, cycleID id.CycleID, modelIDs []id.ModelID, capturedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.scopes[cycleID]; exists {
		return nil
	}
	entries := make([]dmodels.ScopeEntry, 0, len(modelIDs))
	for _, modelID := range modelIDs {
		entries = append(entries, dmodels.ScopeEntry{
			CycleID:    cycleID,
			ModelID:    modelID,
			CapturedAt: capturedAt,
		})
	}
	s.scopes[cycleID] = entries
	return nil
}

// ListScope returns the model IDs of the cycle's materialized scope, sorted.
func (s *InMemory) ListScope(_ context.Context, cycleID id.CycleID) ([]id.ModelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, exists := s.scopes[cycleID]
	if !exists {
		return nil, nil
	}
	modelIDs := make([]id.ModelID, 0, len(entries))
	for _, entry := range entries {
		modelIDs = append(modelIDs, entry.ModelID)
	}
	sortModelIDs(modelIDs)
	return modelIDs, nil
}

// InsertVersionSnapshot records the membership snapshot taken when a plan
// configuration is published as a version.
func (s *InMemory) InsertVersionSnapshot(_ context.Context, versionID id.PlanVersionID, modelIDs []id.ModelID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]id.ModelID, len(modelIDs))
	copy(copied, modelIDs)
	s.snapshots[versionID] = copied
	return nil
}

func (s *InMemory) ListVersionSnapshot(_ context.Context, versionID id.PlanVersionID) ([]id.ModelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, exists := s.snapshots[versionID]
	if !exists {
		return nil, nil
	}
	modelIDs := make([]id.ModelID, len(snapshot))
	copy(modelIDs, snapshot)
	sortModelIDs(modelIDs)
	return modelIDs, nil
}

// RecordResult appends a monitoring result row.
func (s *InMemory) RecordResult(_ context.Context, result *dmodels.MonitoringResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[result.CycleID] = append(s.results[result.CycleID], *result)
	return nil
}

// ListResultModels returns the distinct models with results recorded against
// the cycle, sorted.
func (s *InMemory) ListResultModels(_ context.Context, cycleID id.CycleID) ([]id.ModelID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[id.ModelID]struct{})
	var modelIDs []id.ModelID
	for _, result := range s.results[cycleID] {
		if _, dup := seen[result.ModelID]; dup {
			continue
		}
		seen[result.ModelID] = struct{}{}
		modelIDs = append(modelIDs, result.ModelID)
	}
	sortModelIDs(modelIDs)
	return modelIDs, nil
}

func sortModelIDs(modelIDs []id.ModelID) {
	sort.Slice(modelIDs, func(i, j int) bool {
		return modelIDs[i].String() < modelIDs[j].String()
	})
}
