package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "modelproof/pkg/domain-errors"
)

// TestParseID_Invariants validates the parsing invariant that IDs must be
// valid, non-empty, non-nil UUIDs.
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePlanID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCycleID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseModelID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParsePlanID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, PlanID(valid), id)
	})
}

// TestTypeDistinction verifies IDs stay distinct named types. The commented
// assignments would fail to compile if the types were interchangeable.
func TestTypeDistinction(t *testing.T) {
	planID := NewPlanID()
	modelID := NewModelID()

	// var _ PlanID = modelID  // compile error
	// var _ ModelID = planID  // compile error

	assert.NotEqual(t, uuid.UUID(planID), uuid.UUID(modelID))
}

func TestIsNil(t *testing.T) {
	assert.True(t, PlanID{}.IsNil())
	assert.False(t, NewPlanID().IsNil())
	assert.True(t, CycleID{}.IsNil())
}

// TestJSONWireFormat verifies IDs serialize as canonical UUID strings, not
// as raw byte arrays, when structs embed them directly.
func TestJSONWireFormat(t *testing.T) {
	planID := NewPlanID()

	payload := struct {
		ID PlanID `json:"id"`
	}{ID: planID}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+planID.String()+`"}`, string(raw))

	var decoded struct {
		ID PlanID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, planID, decoded.ID)
}

// TestJSONOmitZero verifies a nil ID disappears from output under the
// omitzero tag, matching how optional plan version references are exposed.
func TestJSONOmitZero(t *testing.T) {
	payload := struct {
		VersionID PlanVersionID `json:"plan_version_id,omitzero"`
	}{}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}
