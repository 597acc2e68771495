package membership

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
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/requestcontext"
)

type fixture struct {
	svc    *Service
	ledger *memberstore.InMemory
	cycles *cyclestore.InMemory
	trail  *audit.InMemory
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memberstore.NewInMemory()
	cycles := cyclestore.NewInMemory()
	trail := audit.NewInMemory()
	svc := NewService(ledger, cycles, store.NewMemoryTxRunner(),
		WithAuditor(audit.NewPublisher(trail)))
	return &fixture{
		svc:    svc,
		ledger: ledger,
		cycles: cycles,
		trail:  trail,
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) adminCtx() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	ctx = requestcontext.WithAdmin(ctx, true)
	return requestcontext.WithTime(ctx, f.now)
}

func (f *fixture) userCtx() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	return requestcontext.WithTime(ctx, f.now)
}

func (f *fixture) createPlan(t *testing.T, name string) id.PlanID {
	t.Helper()
	plan, err := dmodels.NewPlan(id.NewPlanID(), name, dmodels.CadenceMonthly, id.NewUserID(), f.now)
	require.NoError(t, err)
	require.NoError(t, f.cycles.CreatePlan(context.Background(), plan))
	return plan.ID
}

func (f *fixture) startCycle(t *testing.T, planID id.PlanID, status dmodels.CycleStatus) id.CycleID {
	t.Helper()
	cycle := dmodels.NewCycle(id.NewCycleID(), planID, f.now)
	cycle.Status = status
	require.NoError(t, f.cycles.CreateCycle(context.Background(), cycle))
	return cycle.ID
}

func TestService_Add(t *testing.T) {
	t.Run("opens a membership and records the audit event", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()

		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))

		active, err := f.svc.ActiveModels(context.Background(), planID)
		require.NoError(t, err)
		assert.Equal(t, []id.ModelID{modelID}, active)

		events := f.trail.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionMembershipAdded, events[0].Action)
		assert.Equal(t, modelID, events[0].ModelID)
	})

	t.Run("rejects non-administrators", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")

		err := f.svc.Add(f.userCtx(), planID, id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("rejects a model that is active in another plan", func(t *testing.T) {
		f := newFixture(t)
		first := f.createPlan(t, "Credit Models")
		second := f.createPlan(t, "Fraud Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), first, modelID))

		err := f.svc.Add(f.adminCtx(), second, modelID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		// The ledger is untouched.
		active, err := f.svc.ActiveModels(context.Background(), second)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("is a no-op when the model is already in the plan", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))

		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))

		history, err := f.svc.History(context.Background(), modelID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		assert.Len(t, f.trail.All(), 1)
	})

	t.Run("fails when the plan does not exist", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Add(f.adminCtx(), id.NewPlanID(), id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestService_Remove(t *testing.T) {
	t.Run("closes the open row and keeps history intact", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))

		require.NoError(t, f.svc.Remove(f.adminCtx(), planID, modelID))

		active, err := f.svc.ActiveModels(context.Background(), planID)
		require.NoError(t, err)
		assert.Empty(t, active)

		history, err := f.svc.History(context.Background(), modelID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].EffectiveTo)
		assert.Equal(t, f.now, *history[0].EffectiveTo)
	})

	t.Run("is a no-op when the model is not in the plan", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")

		require.NoError(t, f.svc.Remove(f.adminCtx(), planID, id.NewModelID()))
		assert.Empty(t, f.trail.All())
	})

	t.Run("rejects non-administrators", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")

		err := f.svc.Remove(f.userCtx(), planID, id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("removal mid-cycle does not disturb the cycle", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))
		f.startCycle(t, planID, dmodels.CycleStatusCollecting)

		// Removals are allowed while a cycle runs; only transfers block.
		require.NoError(t, f.svc.Remove(f.adminCtx(), planID, modelID))
	})
}

func TestService_Transfer(t *testing.T) {
	t.Run("moves the model atomically between plans", func(t *testing.T) {
		f := newFixture(t)
		from := f.createPlan(t, "Credit Models")
		to := f.createPlan(t, "Fraud Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), from, modelID))

		require.NoError(t, f.svc.Transfer(f.adminCtx(), modelID, from, to))

		fromActive, err := f.svc.ActiveModels(context.Background(), from)
		require.NoError(t, err)
		assert.Empty(t, fromActive)

		toActive, err := f.svc.ActiveModels(context.Background(), to)
		require.NoError(t, err)
		assert.Equal(t, []id.ModelID{modelID}, toActive)

		// Closed and opened at the same instant, so the timeline has no gap.
		history, err := f.svc.History(context.Background(), modelID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		require.NotNil(t, history[0].EffectiveTo)
		assert.Equal(t, *history[0].EffectiveTo, history[1].EffectiveFrom)

		events := f.trail.All()
		require.Len(t, events, 2)
		assert.Equal(t, audit.ActionMembershipTransferred, events[1].Action)
		assert.Equal(t, from, events[1].FromPlanID)
		assert.Equal(t, to, events[1].ToPlanID)
	})

	t.Run("is refused while the source plan has an in-flight cycle", func(t *testing.T) {
		blocking := []dmodels.CycleStatus{
			dmodels.CycleStatusCollecting,
			dmodels.CycleStatusUnderReview,
			dmodels.CycleStatusPendingApproval,
			dmodels.CycleStatusOnHold,
		}
		for _, status := range blocking {
			t.Run(string(status), func(t *testing.T) {
				f := newFixture(t)
				from := f.createPlan(t, "Credit Models")
				to := f.createPlan(t, "Fraud Models")
				modelID := id.NewModelID()
				require.NoError(t, f.svc.Add(f.adminCtx(), from, modelID))
				cycleID := f.startCycle(t, from, status)

				err := f.svc.Transfer(f.adminCtx(), modelID, from, to)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

				blocked, ok := BlockingCycle(err)
				require.True(t, ok)
				assert.Equal(t, cycleID, blocked.CycleID)
				assert.Equal(t, string(status), blocked.Status)

				// The model stays where it was.
				active, aerr := f.svc.ActiveModels(context.Background(), from)
				require.NoError(t, aerr)
				assert.Equal(t, []id.ModelID{modelID}, active)
			})
		}
	})

	t.Run("proceeds when cycles are only pending or terminal", func(t *testing.T) {
		for _, status := range []dmodels.CycleStatus{
			dmodels.CycleStatusPending,
			dmodels.CycleStatusApproved,
			dmodels.CycleStatusCancelled,
		} {
			t.Run(string(status), func(t *testing.T) {
				f := newFixture(t)
				from := f.createPlan(t, "Credit Models")
				to := f.createPlan(t, "Fraud Models")
				modelID := id.NewModelID()
				require.NoError(t, f.svc.Add(f.adminCtx(), from, modelID))
				f.startCycle(t, from, status)

				require.NoError(t, f.svc.Transfer(f.adminCtx(), modelID, from, to))
			})
		}
	})

	t.Run("cycle on the destination plan does not block", func(t *testing.T) {
		f := newFixture(t)
		from := f.createPlan(t, "Credit Models")
		to := f.createPlan(t, "Fraud Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), from, modelID))
		f.startCycle(t, to, dmodels.CycleStatusCollecting)

		require.NoError(t, f.svc.Transfer(f.adminCtx(), modelID, from, to))
	})

	t.Run("falls back to a plain add when the model has no membership", func(t *testing.T) {
		f := newFixture(t)
		from := f.createPlan(t, "Credit Models")
		to := f.createPlan(t, "Fraud Models")
		modelID := id.NewModelID()

		require.NoError(t, f.svc.Transfer(f.adminCtx(), modelID, from, to))

		active, err := f.svc.ActiveModels(context.Background(), to)
		require.NoError(t, err)
		assert.Equal(t, []id.ModelID{modelID}, active)

		events := f.trail.All()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionMembershipAdded, events[0].Action)
	})

	t.Run("same source and destination is a no-op", func(t *testing.T) {
		f := newFixture(t)
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), planID, modelID))

		require.NoError(t, f.svc.Transfer(f.adminCtx(), modelID, planID, planID))

		history, err := f.svc.History(context.Background(), modelID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("rejects a source plan the model is not active in", func(t *testing.T) {
		f := newFixture(t)
		from := f.createPlan(t, "Credit Models")
		to := f.createPlan(t, "Fraud Models")
		other := f.createPlan(t, "Pricing Models")
		modelID := id.NewModelID()
		require.NoError(t, f.svc.Add(f.adminCtx(), other, modelID))

		err := f.svc.Transfer(f.adminCtx(), modelID, from, to)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
		_, ok := BlockingCycle(err)
		assert.False(t, ok)
	})

	t.Run("rejects non-administrators", func(t *testing.T) {
		f := newFixture(t)
		from := f.createPlan(t, "Credit Models")
		to := f.createPlan(t, "Fraud Models")

		err := f.svc.Transfer(f.userCtx(), id.NewModelID(), from, to)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

// flakyTxRunner fails its first n transactions with a lock timeout, the way
// a contended plan row surfaces through the postgres runner.
type flakyTxRunner struct {
	failures int
	calls    int
	inner    TxRunner
}

func (r *flakyTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	if r.calls <= r.failures {
		return sentinel.ErrLockTimeout
	}
	return r.inner.RunInTx(ctx, fn)
}

func TestService_BusyRetry(t *testing.T) {
	t.Run("retries lock timeouts and then succeeds", func(t *testing.T) {
		ledger := memberstore.NewInMemory()
		cycles := cyclestore.NewInMemory()
		txr := &flakyTxRunner{failures: 2, inner: store.NewMemoryTxRunner()}
		svc := NewService(ledger, cycles, txr)
		f := &fixture{svc: svc, ledger: ledger, cycles: cycles, now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
		planID := f.createPlan(t, "Credit Models")
		modelID := id.NewModelID()

		require.NoError(t, svc.Add(f.adminCtx(), planID, modelID))

		assert.Equal(t, 3, txr.calls)
		active, err := svc.ActiveModels(context.Background(), planID)
		require.NoError(t, err)
		assert.Equal(t, []id.ModelID{modelID}, active)
	})

	t.Run("surfaces busy after the attempts are exhausted", func(t *testing.T) {
		ledger := memberstore.NewInMemory()
		cycles := cyclestore.NewInMemory()
		txr := &flakyTxRunner{failures: 10, inner: store.NewMemoryTxRunner()}
		svc := NewService(ledger, cycles, txr)
		f := &fixture{svc: svc, ledger: ledger, cycles: cycles, now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
		planID := f.createPlan(t, "Credit Models")

		err := svc.Add(f.adminCtx(), planID, id.NewModelID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
		assert.Equal(t, lockRetryAttempts, txr.calls)
	})

	t.Run("does not retry non-lock failures", func(t *testing.T) {
		f := newFixture(t)
		txr := &countingTxRunner{inner: store.NewMemoryTxRunner()}
		svc := NewService(f.ledger, f.cycles, txr)

		err := svc.Add(f.adminCtx(), id.NewPlanID(), id.NewModelID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		assert.Equal(t, 1, txr.calls)
	})
}

type countingTxRunner struct {
	calls int
	inner TxRunner
}

func (r *countingTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return r.inner.RunInTx(ctx, fn)
}
