// Package audit captures who changed plan membership, when, and from/to
// where. Every ledger mutation emits one event; the trail is the forensic
// record for invariant violations and compliance review.
package audit

import (
	"time"

	id "modelproof/pkg/domain"
)

// Action names the audited operation.
type Action string

const (
	ActionMembershipAdded       Action = "membership_added"
	ActionMembershipRemoved     Action = "membership_removed"
	ActionMembershipTransferred Action = "membership_transferred"
	ActionCycleStarted          Action = "cycle_started"
	ActionPlanCreated           Action = "plan_created"
)

// Event is emitted from domain logic. It captures the actor, the affected
// entities, and the before/after plan assignment for membership changes.
type Event struct {
	Timestamp time.Time  `json:"timestamp"`
	Action    Action     `json:"action"`
	ActorID   id.UserID  `json:"actor_id"`
	ModelID   id.ModelID `json:"model_id,omitzero"`
	// FromPlanID/ToPlanID record the before/after assignment. Adds carry only
	// ToPlanID, removes only FromPlanID.
	FromPlanID id.PlanID  `json:"from_plan_id,omitzero"`
	ToPlanID   id.PlanID  `json:"to_plan_id,omitzero"`
	CycleID    id.CycleID `json:"cycle_id,omitzero"`
	RequestID  string     `json:"request_id,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}
