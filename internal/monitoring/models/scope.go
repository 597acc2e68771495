package models

import (
	"time"

	id "modelproof/pkg/domain"
)

// ScopeEntry is one immutable (cycle, model) row written when the cycle
// leaves pending. The set of entries for a cycle answers "who was monitored
// in this cycle" forever, independent of later membership changes. Entries
// are written once and never updated or deleted.
type ScopeEntry struct {
	CycleID    id.CycleID `json:"cycle_id"`
	ModelID    id.ModelID `json:"model_id"`
	CapturedAt time.Time  `json:"captured_at"`
}

// ScopeSource names the resolver layer that produced a scope answer.
type ScopeSource string

const (
	// ScopeSourceMaterialized: explicit scope rows written at cycle start.
	ScopeSourceMaterialized ScopeSource = "materialized"
	// ScopeSourceVersionSnapshot: point-in-time snapshot of the plan version
	// the cycle ran under; fallback for cycles predating materialization.
	ScopeSourceVersionSnapshot ScopeSource = "version_snapshot"
	// ScopeSourceResults: inferred from models with recorded results.
	ScopeSourceResults ScopeSource = "results"
	// ScopeSourceProjection: last resort, the plan's current membership.
	ScopeSourceProjection ScopeSource = "current_membership"
)

// ResolvedScope is the answer to "what models were in scope for cycle C",
// tagged with the layer that produced it.
type ResolvedScope struct {
	CycleID  id.CycleID   `json:"cycle_id"`
	ModelIDs []id.ModelID `json:"model_ids"`
	Source   ScopeSource  `json:"source"`
}

// Contains reports whether the model is in the resolved scope.
func (s *ResolvedScope) Contains(modelID id.ModelID) bool {
	for _, m := range s.ModelIDs {
		if m == modelID {
			return true
		}
	}
	return false
}

// VersionSnapshotEntry is one row of a plan-version membership snapshot,
// taken when a plan configuration is published as a new version.
type VersionSnapshotEntry struct {
	PlanVersionID id.PlanVersionID `json:"plan_version_id"`
	ModelID       id.ModelID       `json:"model_id"`
}
