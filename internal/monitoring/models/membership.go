package models

import (
	"time"

	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
)

// Membership is one ledger row: a time-bounded assertion that a model
// belongs to a plan. Rows are appended when a model joins a plan and closed
// (EffectiveTo set) when it leaves; they are never deleted, so the ledger is
// the full membership history.
//
// Invariants:
//   - A model has at most one open row (EffectiveTo == nil) at any time.
//     Enforced by a partial unique index in Postgres, not just here.
//   - EffectiveTo, when set, is never before EffectiveFrom.
type Membership struct {
	PlanID        id.PlanID  `json:"plan_id"`
	ModelID       id.ModelID `json:"model_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// NewMembership opens a ledger row effective from now.
func NewMembership(planID id.PlanID, modelID id.ModelID, now time.Time) *Membership {
	return &Membership{
		PlanID:        planID,
		ModelID:       modelID,
		EffectiveFrom: now,
	}
}

// Open reports whether the row is the model's active membership.
func (m *Membership) Open() bool {
	return m.EffectiveTo == nil
}

// Close sets the end of the membership interval.
func (m *Membership) Close(now time.Time) error {
	if m.EffectiveTo != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "membership row is already closed")
	}
	if now.Before(m.EffectiveFrom) {
		return dErrors.New(dErrors.CodeInvariantViolation, "membership cannot end before it begins")
	}
	m.EffectiveTo = &now
	return nil
}

// ActiveMembership is one row of the current-membership projection: a
// denormalized (plan, model) pair meaning "active now". The projection is
// written in the same transaction as the ledger row that produces it and
// must always equal the set of open ledger rows.
type ActiveMembership struct {
	PlanID  id.PlanID  `json:"plan_id"`
	ModelID id.ModelID `json:"model_id"`
}
