package models

import (
	"time"

	id "modelproof/pkg/domain"
)

// ResultOutcome classifies a per-model monitoring outcome.
type ResultOutcome string

const (
	ResultOutcomeGreen ResultOutcome = "green"
	ResultOutcomeAmber ResultOutcome = "amber"
	ResultOutcomeRed   ResultOutcome = "red"
)

// MonitoringResult is a per-model, per-cycle outcome record supplied by the
// results-recording collaborator. The resolver uses the distinct model set
// as a last-resort inference source for historical scope.
type MonitoringResult struct {
	CycleID    id.CycleID    `json:"cycle_id"`
	ModelID    id.ModelID    `json:"model_id"`
	Outcome    ResultOutcome `json:"outcome"`
	RecordedAt time.Time     `json:"recorded_at"`
}
