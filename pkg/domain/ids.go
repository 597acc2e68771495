// Package domain defines typed identifiers shared across modules.
//
// Each ID is a distinct named type over uuid.UUID so the compiler rejects
// cross-entity mixups (passing a PlanID where a CycleID is expected).
// Construct from untrusted input via the Parse functions, which enforce the
// invariant that IDs are valid, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "modelproof/pkg/domain-errors"
)

type (
	// PlanID identifies a monitoring plan.
	PlanID uuid.UUID
	// ModelID identifies an inventory model. Models are external entities;
	// this service references them by identifier only.
	ModelID uuid.UUID
	// CycleID identifies one scheduled execution of a monitoring plan.
	CycleID uuid.UUID
	// PlanVersionID identifies a published configuration version of a plan.
	PlanVersionID uuid.UUID
	// UserID identifies the acting user, supplied by the auth collaborator.
	UserID uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind+" id")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be nil")
	}
	return u, nil
}

// ParsePlanID validates and returns a PlanID.
func ParsePlanID(s string) (PlanID, error) {
	u, err := parseUUID(s, "plan")
	return PlanID(u), err
}

// ParseModelID validates and returns a ModelID.
func ParseModelID(s string) (ModelID, error) {
	u, err := parseUUID(s, "model")
	return ModelID(u), err
}

// ParseCycleID validates and returns a CycleID.
func ParseCycleID(s string) (CycleID, error) {
	u, err := parseUUID(s, "cycle")
	return CycleID(u), err
}

// ParsePlanVersionID validates and returns a PlanVersionID.
func ParsePlanVersionID(s string) (PlanVersionID, error) {
	u, err := parseUUID(s, "plan version")
	return PlanVersionID(u), err
}

// ParseUserID validates and returns a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user")
	return UserID(u), err
}

func (id PlanID) String() string        { return uuid.UUID(id).String() }
func (id ModelID) String() string       { return uuid.UUID(id).String() }
func (id CycleID) String() string       { return uuid.UUID(id).String() }
func (id PlanVersionID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string        { return uuid.UUID(id).String() }

// The named array types do not promote uuid.UUID's methods, so each ID
// implements encoding.TextMarshaler/TextUnmarshaler explicitly; without
// them encoding/json renders the raw byte array instead of the canonical
// UUID string.

func (id PlanID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id ModelID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id CycleID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id PlanVersionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }

func (id *PlanID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ModelID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CycleID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PlanVersionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id PlanID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ModelID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id CycleID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id PlanVersionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }

// NewPlanID returns a random PlanID.
func NewPlanID() PlanID { return PlanID(uuid.New()) }

// NewModelID returns a random ModelID.
func NewModelID() ModelID { return ModelID(uuid.New()) }

// NewCycleID returns a random CycleID.
func NewCycleID() CycleID { return CycleID(uuid.New()) }

// NewPlanVersionID returns a random PlanVersionID.
func NewPlanVersionID() PlanVersionID { return PlanVersionID(uuid.New()) }

// NewUserID returns a random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }
