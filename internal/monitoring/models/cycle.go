package models

import (
	"time"

	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
)

// CycleStatus is the lifecycle state of a monitoring cycle.
type CycleStatus string

const (
	CycleStatusPending         CycleStatus = "pending"
	CycleStatusCollecting      CycleStatus = "collecting"
	CycleStatusUnderReview     CycleStatus = "under_review"
	CycleStatusPendingApproval CycleStatus = "pending_approval"
	CycleStatusOnHold          CycleStatus = "on_hold"
	CycleStatusApproved        CycleStatus = "approved"
	CycleStatusCancelled       CycleStatus = "cancelled"
)

// Active reports whether the status blocks membership transfers out of the
// cycle's plan. Pending cycles have not locked scope yet and terminal cycles
// never will again, so neither blocks; everything in between does, on-hold
// included.
func (s CycleStatus) Active() bool {
	switch s {
	case CycleStatusPending, CycleStatusApproved, CycleStatusCancelled:
		return false
	}
	return true
}

// Terminal reports whether the cycle has reached a final state.
func (s CycleStatus) Terminal() bool {
	return s == CycleStatusApproved || s == CycleStatusCancelled
}

// cycleTransitions enumerates the allowed lifecycle edges.
var cycleTransitions = map[CycleStatus][]CycleStatus{
	CycleStatusPending:         {CycleStatusCollecting, CycleStatusCancelled},
	CycleStatusCollecting:      {CycleStatusUnderReview, CycleStatusOnHold, CycleStatusCancelled},
	CycleStatusUnderReview:     {CycleStatusPendingApproval, CycleStatusOnHold, CycleStatusCancelled},
	CycleStatusPendingApproval: {CycleStatusApproved, CycleStatusUnderReview, CycleStatusCancelled},
	CycleStatusOnHold:          {CycleStatusCollecting, CycleStatusUnderReview, CycleStatusCancelled},
}

// CanTransitionTo reports whether the lifecycle edge s -> next is allowed.
func (s CycleStatus) CanTransitionTo(next CycleStatus) bool {
	for _, allowed := range cycleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cycle is one scheduled execution instance of a plan.
//
// PlanVersionID binds the cycle to the plan configuration version it ran
// under; older cycles rely on it for scope resolution when no explicit scope
// rows exist.
type Cycle struct {
	ID            id.CycleID       `json:"id"`
	PlanID        id.PlanID        `json:"plan_id"`
	PlanVersionID id.PlanVersionID `json:"plan_version_id,omitzero"`
	Status        CycleStatus      `json:"status"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewCycle constructs a pending cycle for a plan.
func NewCycle(cycleID id.CycleID, planID id.PlanID, now time.Time) *Cycle {
	return &Cycle{
		ID:        cycleID,
		PlanID:    planID,
		Status:    CycleStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanStart checks the pending -> collecting transition, the single moment at
// which scope is materialized.
func (c *Cycle) CanStart() error {
	if c.Status != CycleStatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "cycle has already started")
	}
	return nil
}

// ApplyStart transitions the cycle into collecting. Call CanStart first.
func (c *Cycle) ApplyStart(now time.Time) {
	c.Status = CycleStatusCollecting
	c.StartedAt = &now
	c.UpdatedAt = now
}

// Transition validates and applies a lifecycle edge.
func (c *Cycle) Transition(next CycleStatus, now time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cycle cannot transition from "+string(c.Status)+" to "+string(next))
	}
	c.Status = next
	c.UpdatedAt = now
	return nil
}
