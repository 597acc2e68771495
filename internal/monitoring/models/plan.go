package models

import (
	"strings"
	"time"

	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
)

// Cadence is the administrator-chosen execution rhythm of a plan.
type Cadence string

const (
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnual    Cadence = "annual"
)

func (c Cadence) Valid() bool {
	switch c {
	case CadenceMonthly, CadenceQuarterly, CadenceAnnual:
		return true
	}
	return false
}

// Plan is a named, administrator-defined grouping of models with a cadence.
//
// Invariants:
//   - Name is non-empty and at most 128 characters
//   - Cadence is one of the supported values
//   - Plans are never physically deleted while cycles reference them
type Plan struct {
	ID        id.PlanID `json:"id"`
	Name      string    `json:"name"`
	Cadence   Cadence   `json:"cadence"`
	CreatedBy id.UserID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlan constructs a validated plan.
func NewPlan(planID id.PlanID, name string, cadence Cadence, createdBy id.UserID, now time.Time) (*Plan, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "plan name is required")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeValidation, "plan name must be 128 characters or less")
	}
	if !cadence.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "cadence must be monthly, quarterly, or annual")
	}
	return &Plan{
		ID:        planID,
		Name:      name,
		Cadence:   cadence,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
