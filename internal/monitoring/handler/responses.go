package handler

import (
	"time"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
)

// MembershipResponse is one ledger row.
type MembershipResponse struct {
	PlanID        string     `json:"plan_id"`
	ModelID       string     `json:"model_id"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

func fromMembership(m dmodels.Membership) MembershipResponse {
	return MembershipResponse{
		PlanID:        m.PlanID.String(),
		ModelID:       m.ModelID.String(),
		EffectiveFrom: m.EffectiveFrom,
		EffectiveTo:   m.EffectiveTo,
	}
}

// HistoryResponse is a model's full membership timeline.
type HistoryResponse struct {
	ModelID     string               `json:"model_id"`
	Memberships []MembershipResponse `json:"memberships"`
}

// ActiveModelsResponse lists the models currently in a plan.
type ActiveModelsResponse struct {
	PlanID   string   `json:"plan_id"`
	ModelIDs []string `json:"model_ids"`
}

// ResolvedScopeResponse is a cycle's resolved scope with its provenance.
type ResolvedScopeResponse struct {
	CycleID  string   `json:"cycle_id"`
	ModelIDs []string `json:"model_ids"`
	Source   string   `json:"source"`
}

func fromResolvedScope(s *dmodels.ResolvedScope) ResolvedScopeResponse {
	modelIDs := make([]string, 0, len(s.ModelIDs))
	for _, m := range s.ModelIDs {
		modelIDs = append(modelIDs, m.String())
	}
	return ResolvedScopeResponse{
		CycleID:  s.CycleID.String(),
		ModelIDs: modelIDs,
		Source:   string(s.Source),
	}
}

// VisibilityResponse answers a visibility probe.
type VisibilityResponse struct {
	CycleID string `json:"cycle_id"`
	ModelID string `json:"model_id"`
	Visible bool   `json:"visible"`
}

// PublishVersionResponse carries the new plan version's ID.
type PublishVersionResponse struct {
	PlanVersionID string `json:"plan_version_id"`
}

// AuditEventResponse is one audit trail entry.
type AuditEventResponse struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
	FromPlanID string    `json:"from_plan_id,omitempty"`
	ToPlanID   string    `json:"to_plan_id,omitempty"`
	CycleID    string    `json:"cycle_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

func fromAuditEvent(e audit.Event) AuditEventResponse {
	resp := AuditEventResponse{
		Timestamp: e.Timestamp,
		Action:    string(e.Action),
		RequestID: e.RequestID,
	}
	if !e.ActorID.IsNil() {
		resp.ActorID = e.ActorID.String()
	}
	if !e.ModelID.IsNil() {
		resp.ModelID = e.ModelID.String()
	}
	if !e.FromPlanID.IsNil() {
		resp.FromPlanID = e.FromPlanID.String()
	}
	if !e.ToPlanID.IsNil() {
		resp.ToPlanID = e.ToPlanID.String()
	}
	if !e.CycleID.IsNil() {
		resp.CycleID = e.CycleID.String()
	}
	return resp
}
