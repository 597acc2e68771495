package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
	"modelproof/internal/monitoring/store"
	cyclestore "modelproof/internal/monitoring/store/cycle"
	memberstore "modelproof/internal/monitoring/store/membership"
	scopestore "modelproof/internal/monitoring/store/scope"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/requestcontext"
)

type materializerFixture struct {
	mat    *Materializer
	cycles *cyclestore.InMemory
	ledger *memberstore.InMemory
	scopes *scopestore.InMemory
	trail  *audit.InMemory
	now    time.Time
}

func newMaterializerFixture(t *testing.T) *materializerFixture {
	t.Helper()
	cycles := cyclestore.NewInMemory()
	ledger := memberstore.NewInMemory()
	scopes := scopestore.NewInMemory()
	trail := audit.NewInMemory()
	mat := NewMaterializer(cycles, scopes, ledger, store.NewMemoryTxRunner(),
		WithMaterializerAuditor(audit.NewPublisher(trail)))
	return &materializerFixture{
		mat:    mat,
		cycles: cycles,
		ledger: ledger,
		scopes: scopes,
		trail:  trail,
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *materializerFixture) adminCtx() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	ctx = requestcontext.WithAdmin(ctx, true)
	return requestcontext.WithTime(ctx, f.now)
}

func (f *materializerFixture) createPlan(t *testing.T, members ...id.ModelID) id.PlanID {
	t.Helper()
	plan, err := dmodels.NewPlan(id.NewPlanID(), "Credit Models", dmodels.CadenceMonthly, id.NewUserID(), f.now)
	require.NoError(t, err)
	require.NoError(t, f.cycles.CreatePlan(context.Background(), plan))
	for _, m := range members {
		require.NoError(t, f.ledger.AppendOpen(context.Background(), plan.ID, m, f.now.Add(-time.Hour)))
	}
	return plan.ID
}

func (f *materializerFixture) createPendingCycle(t *testing.T, planID id.PlanID) id.CycleID {
	t.Helper()
	cycle := dmodels.NewCycle(id.NewCycleID(), planID, f.now)
	require.NoError(t, f.cycles.CreateCycle(context.Background(), cycle))
	return cycle.ID
}

func TestMaterializer_StartCycle(t *testing.T) {
	t.Run("captures current members and starts collecting", func(t *testing.T) {
		f := newMaterializerFixture(t)
		modelA, modelB := id.NewModelID(), id.NewModelID()
		planID := f.createPlan(t, modelA, modelB)
		cycleID := f.createPendingCycle(t, planID)

		require.NoError(t, f.mat.StartCycle(f.adminCtx(), cycleID))

		cycle, err := f.cycles.FindCycleByID(context.Background(), cycleID)
		require.NoError(t, err)
		assert.Equal(t, dmodels.CycleStatusCollecting, cycle.Status)
		require.NotNil(t, cycle.StartedAt)
		assert.Equal(t, f.now, *cycle.StartedAt)

		captured, err := f.scopes.ListScope(context.Background(), cycleID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []id.ModelID{modelA, modelB}, captured)

		events := f.trail.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionCycleStarted, events[0].Action)
		assert.Equal(t, cycleID, events[0].CycleID)
		assert.Equal(t, planID, events[0].ToPlanID)

		// The event must land in the plan's trail, not just the global one.
		byPlan, err := f.trail.ListByPlan(context.Background(), planID)
		require.NoError(t, err)
		require.Len(t, byPlan, 1)
		assert.Equal(t, audit.ActionCycleStarted, byPlan[0].Action)
	})

	t.Run("scope does not follow later membership changes", func(t *testing.T) {
		f := newMaterializerFixture(t)
		modelA := id.NewModelID()
		planID := f.createPlan(t, modelA)
		cycleID := f.createPendingCycle(t, planID)
		require.NoError(t, f.mat.StartCycle(f.adminCtx(), cycleID))

		// Membership moves on; the captured scope must not.
		require.NoError(t, f.ledger.AppendOpen(context.Background(), planID, id.NewModelID(), f.now.Add(time.Hour)))

		captured, err := f.scopes.ListScope(context.Background(), cycleID)
		require.NoError(t, err)
		assert.Equal(t, []id.ModelID{modelA}, captured)
	})

	t.Run("an empty plan still starts, with an empty scope", func(t *testing.T) {
		f := newMaterializerFixture(t)
		planID := f.createPlan(t)
		cycleID := f.createPendingCycle(t, planID)

		require.NoError(t, f.mat.StartCycle(f.adminCtx(), cycleID))

		cycle, err := f.cycles.FindCycleByID(context.Background(), cycleID)
		require.NoError(t, err)
		assert.Equal(t, dmodels.CycleStatusCollecting, cycle.Status)

		captured, err := f.scopes.ListScope(context.Background(), cycleID)
		require.NoError(t, err)
		assert.Empty(t, captured)
	})

	t.Run("refuses to start twice", func(t *testing.T) {
		f := newMaterializerFixture(t)
		planID := f.createPlan(t, id.NewModelID())
		cycleID := f.createPendingCycle(t, planID)
		require.NoError(t, f.mat.StartCycle(f.adminCtx(), cycleID))

		err := f.mat.StartCycle(f.adminCtx(), cycleID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects non-administrators", func(t *testing.T) {
		f := newMaterializerFixture(t)
		planID := f.createPlan(t)
		cycleID := f.createPendingCycle(t, planID)

		ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
		err := f.mat.StartCycle(ctx, cycleID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("fails for an unknown cycle", func(t *testing.T) {
		f := newMaterializerFixture(t)
		err := f.mat.StartCycle(f.adminCtx(), id.NewCycleID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
