package handler

import (
	"strings"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
)

// CreatePlanRequest is the HTTP request body for POST /plans.
type CreatePlanRequest struct {
	Name    string `json:"name"`
	Cadence string `json:"cadence"`
}

func (r *CreatePlanRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !dmodels.Cadence(r.Cadence).Valid() {
		return dErrors.New(dErrors.CodeValidation, "cadence must be monthly, quarterly, or annual")
	}
	return nil
}

// AddModelRequest is the HTTP request body for POST /plans/{planID}/models.
type AddModelRequest struct {
	ModelID string `json:"model_id"`

	parsedModelID id.ModelID
}

func (r *AddModelRequest) Validate() error {
	if strings.TrimSpace(r.ModelID) == "" {
		return dErrors.New(dErrors.CodeValidation, "model_id is required")
	}
	modelID, err := id.ParseModelID(r.ModelID)
	if err != nil {
		return err
	}
	r.parsedModelID = modelID
	return nil
}

// TransferRequest is the HTTP request body for POST /transfers.
type TransferRequest struct {
	ModelID    string `json:"model_id"`
	FromPlanID string `json:"from_plan_id"`
	ToPlanID   string `json:"to_plan_id"`

	parsedModelID id.ModelID
	parsedFrom    id.PlanID
	parsedTo      id.PlanID
}

func (r *TransferRequest) Validate() error {
	if strings.TrimSpace(r.ModelID) == "" {
		return dErrors.New(dErrors.CodeValidation, "model_id is required")
	}
	if strings.TrimSpace(r.FromPlanID) == "" {
		return dErrors.New(dErrors.CodeValidation, "from_plan_id is required")
	}
	if strings.TrimSpace(r.ToPlanID) == "" {
		return dErrors.New(dErrors.CodeValidation, "to_plan_id is required")
	}
	var err error
	if r.parsedModelID, err = id.ParseModelID(r.ModelID); err != nil {
		return err
	}
	if r.parsedFrom, err = id.ParsePlanID(r.FromPlanID); err != nil {
		return err
	}
	if r.parsedTo, err = id.ParsePlanID(r.ToPlanID); err != nil {
		return err
	}
	return nil
}

// CreateCycleRequest is the HTTP request body for POST /plans/{planID}/cycles.
// PlanVersionID is optional; plans without published versions omit it.
type CreateCycleRequest struct {
	PlanVersionID string `json:"plan_version_id,omitempty"`

	parsedVersionID id.PlanVersionID
}

func (r *CreateCycleRequest) Validate() error {
	if strings.TrimSpace(r.PlanVersionID) == "" {
		return nil
	}
	versionID, err := id.ParsePlanVersionID(r.PlanVersionID)
	if err != nil {
		return err
	}
	r.parsedVersionID = versionID
	return nil
}

// TransitionCycleRequest is the HTTP request body for
// POST /cycles/{cycleID}/transition.
type TransitionCycleRequest struct {
	Status string `json:"status"`
}

func (r *TransitionCycleRequest) Validate() error {
	switch dmodels.CycleStatus(r.Status) {
	case dmodels.CycleStatusCollecting,
		dmodels.CycleStatusUnderReview,
		dmodels.CycleStatusPendingApproval,
		dmodels.CycleStatusOnHold,
		dmodels.CycleStatusApproved,
		dmodels.CycleStatusCancelled:
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "status is not a valid cycle status")
}

// RecordResultRequest is the HTTP request body for
// POST /cycles/{cycleID}/results.
type RecordResultRequest struct {
	ModelID string `json:"model_id"`
	Outcome string `json:"outcome"`

	parsedModelID id.ModelID
}

func (r *RecordResultRequest) Validate() error {
	if strings.TrimSpace(r.ModelID) == "" {
		return dErrors.New(dErrors.CodeValidation, "model_id is required")
	}
	switch dmodels.ResultOutcome(r.Outcome) {
	case dmodels.ResultOutcomeGreen, dmodels.ResultOutcomeAmber, dmodels.ResultOutcomeRed:
	default:
		return dErrors.New(dErrors.CodeValidation, "outcome must be green, amber, or red")
	}
	modelID, err := id.ParseModelID(r.ModelID)
	if err != nil {
		return err
	}
	r.parsedModelID = modelID
	return nil
}
