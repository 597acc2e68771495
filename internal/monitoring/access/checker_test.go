package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmodels "modelproof/internal/monitoring/models"
	"modelproof/internal/monitoring/scope"
	cyclestore "modelproof/internal/monitoring/store/cycle"
	memberstore "modelproof/internal/monitoring/store/membership"
	scopestore "modelproof/internal/monitoring/store/scope"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/requestcontext"
)

type staticAuthorizer struct {
	allowed map[id.ModelID]bool
}

func (a *staticAuthorizer) CanAccessModel(_ context.Context, _ id.UserID, modelID id.ModelID) (bool, error) {
	return a.allowed[modelID], nil
}

type checkerFixture struct {
	cycles *cyclestore.InMemory
	scopes *scopestore.InMemory
	ledger *memberstore.InMemory
	authz  *staticAuthorizer
	check  *Checker
	now    time.Time
}

func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()
	cycles := cyclestore.NewInMemory()
	scopes := scopestore.NewInMemory()
	ledger := memberstore.NewInMemory()
	authz := &staticAuthorizer{allowed: map[id.ModelID]bool{}}
	resolver := scope.NewResolver(cycles, scopes, ledger)
	return &checkerFixture{
		cycles: cycles,
		scopes: scopes,
		ledger: ledger,
		authz:  authz,
		check:  NewChecker(resolver, authz),
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *checkerFixture) createCycleWithScope(t *testing.T, models ...id.ModelID) id.CycleID {
	t.Helper()
	plan, err := dmodels.NewPlan(id.NewPlanID(), "Credit Models", dmodels.CadenceMonthly, id.NewUserID(), f.now)
	require.NoError(t, err)
	require.NoError(t, f.cycles.CreatePlan(context.Background(), plan))
	cycle := dmodels.NewCycle(id.NewCycleID(), plan.ID, f.now)
	cycle.Status = dmodels.CycleStatusApproved
	require.NoError(t, f.cycles.CreateCycle(context.Background(), cycle))
	if len(models) > 0 {
		require.NoError(t, f.scopes.InsertScope(context.Background(), cycle.ID, models, f.now))
	}
	return cycle.ID
}

func userCtx() context.Context {
	return requestcontext.WithUserID(context.Background(), id.NewUserID())
}

func TestChecker_CanViewModelInCycle(t *testing.T) {
	t.Run("allows an authorized user for an in-scope model", func(t *testing.T) {
		f := newCheckerFixture(t)
		modelID := id.NewModelID()
		cycleID := f.createCycleWithScope(t, modelID)
		f.authz.allowed[modelID] = true

		allowed, err := f.check.CanViewModelInCycle(userCtx(), cycleID, modelID)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("denies a model outside the cycle scope even for admins", func(t *testing.T) {
		f := newCheckerFixture(t)
		cycleID := f.createCycleWithScope(t, id.NewModelID())
		outside := id.NewModelID()
		f.authz.allowed[outside] = true

		ctx := requestcontext.WithAdmin(userCtx(), true)
		allowed, err := f.check.CanViewModelInCycle(ctx, cycleID, outside)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("denies an unauthorized user for an in-scope model", func(t *testing.T) {
		f := newCheckerFixture(t)
		modelID := id.NewModelID()
		cycleID := f.createCycleWithScope(t, modelID)

		allowed, err := f.check.CanViewModelInCycle(userCtx(), cycleID, modelID)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("admins skip the model authorization check", func(t *testing.T) {
		f := newCheckerFixture(t)
		modelID := id.NewModelID()
		cycleID := f.createCycleWithScope(t, modelID)

		ctx := requestcontext.WithAdmin(userCtx(), true)
		allowed, err := f.check.CanViewModelInCycle(ctx, cycleID, modelID)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("visibility follows the cycle scope, not current membership", func(t *testing.T) {
		f := newCheckerFixture(t)
		modelID := id.NewModelID()
		cycleID := f.createCycleWithScope(t, modelID)
		f.authz.allowed[modelID] = true

		// The model has since moved to a different plan.
		otherPlan, err := dmodels.NewPlan(id.NewPlanID(), "Fraud Models", dmodels.CadenceMonthly, id.NewUserID(), f.now)
		require.NoError(t, err)
		require.NoError(t, f.cycles.CreatePlan(context.Background(), otherPlan))
		require.NoError(t, f.ledger.AppendOpen(context.Background(), otherPlan.ID, modelID, f.now.Add(time.Hour)))

		allowed, cerr := f.check.CanViewModelInCycle(userCtx(), cycleID, modelID)
		require.NoError(t, cerr)
		assert.True(t, allowed)
	})

	t.Run("guard variant returns forbidden", func(t *testing.T) {
		f := newCheckerFixture(t)
		cycleID := f.createCycleWithScope(t, id.NewModelID())

		err := f.check.RequireViewModelInCycle(userCtx(), cycleID, id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("propagates resolver failures", func(t *testing.T) {
		f := newCheckerFixture(t)
		_, err := f.check.CanViewModelInCycle(userCtx(), id.NewCycleID(), id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
