//go:build integration

package membership_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memsvc "modelproof/internal/monitoring/membership"
	dmodels "modelproof/internal/monitoring/models"
	cyclestore "modelproof/internal/monitoring/store/cycle"
	memberstore "modelproof/internal/monitoring/store/membership"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/platform/tx"
	"modelproof/pkg/testutil"
	"modelproof/pkg/testutil/containers"
)

// sqlTxRunner mirrors the server's transaction runner: one transaction in
// context per operation, with a short lock_timeout.
type sqlTxRunner struct {
	db *sql.DB
}

func (r *sqlTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()
	if _, err := sqlTx.ExecContext(ctx, "SET LOCAL lock_timeout = '2000ms'"); err != nil {
		return err
	}
	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func createPlan(t *testing.T, store *cyclestore.PostgresStore, name string) id.PlanID {
	t.Helper()
	plan, err := dmodels.NewPlan(id.NewPlanID(), name, dmodels.CadenceMonthly, id.NewUserID(), time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, store.CreatePlan(context.Background(), plan))
	return plan.ID
}

func TestPostgresLedgerInvariant(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ledger := memberstore.NewPostgres(pg.DB)
	cycles := cyclestore.NewPostgres(pg.DB)

	planA := createPlan(t, cycles, "Plan A")
	planB := createPlan(t, cycles, "Plan B")
	modelID := id.NewModelID()
	now := time.Now().UTC()

	require.NoError(t, ledger.AppendOpen(context.Background(), planA, modelID, now))

	// The partial unique index refuses a second open row regardless of plan.
	err := ledger.AppendOpen(context.Background(), planB, modelID, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrConflict))

	// Closing the row frees the model for a new plan.
	closed, err := ledger.CloseOpen(context.Background(), planA, modelID, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, closed)
	require.NoError(t, ledger.AppendOpen(context.Background(), planB, modelID, now.Add(time.Minute)))

	history, err := ledger.ListHistoryByModel(context.Background(), modelID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotNil(t, history[0].EffectiveTo)
	assert.Nil(t, history[1].EffectiveTo)
}

func TestPostgresProjectionConsistency(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ledger := memberstore.NewPostgres(pg.DB)
	cycles := cyclestore.NewPostgres(pg.DB)

	planID := createPlan(t, cycles, "Plan A")
	now := time.Now().UTC()

	var models []id.ModelID
	for i := 0; i < 5; i++ {
		m := id.NewModelID()
		models = append(models, m)
		require.NoError(t, ledger.AppendOpen(context.Background(), planID, m, now))
	}
	closed, err := ledger.CloseOpen(context.Background(), planID, models[0], now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, closed)

	active, err := ledger.ListActiveByPlan(context.Background(), planID)
	require.NoError(t, err)
	assert.Len(t, active, 4)
	assert.NotContains(t, active, models[0])

	count, err := ledger.CountActiveByPlan(context.Background(), planID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestPostgresTransferUnderConcurrency(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ledger := memberstore.NewPostgres(pg.DB)
	cycles := cyclestore.NewPostgres(pg.DB)
	svc := memsvc.NewService(ledger, cycles, &sqlTxRunner{db: pg.DB})

	planA := createPlan(t, cycles, "Plan A")
	planB := createPlan(t, cycles, "Plan B")

	const workers = 8
	ctx := testutil.AdminContext()

	models := make([]id.ModelID, workers)
	for i := range models {
		models[i] = id.NewModelID()
		require.NoError(t, svc.Add(ctx, planA, models[i]))
	}

	// Transfer every model A->B concurrently; the plan locks serialize the
	// writers and every ledger row must stay consistent.
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Transfer(ctx, models[i], planA, planB)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "transfer %d", i)
	}

	activeA, err := svc.ActiveModels(context.Background(), planA)
	require.NoError(t, err)
	assert.Empty(t, activeA)
	activeB, err := svc.ActiveModels(context.Background(), planB)
	require.NoError(t, err)
	assert.Len(t, activeB, workers)

	// Every model has exactly one open row.
	for _, m := range models {
		history, err := svc.History(context.Background(), m)
		require.NoError(t, err)
		open := 0
		for _, row := range history {
			if row.EffectiveTo == nil {
				open++
			}
		}
		assert.Equal(t, 1, open)
	}
}

func TestPostgresTransferBlockedByActiveCycle(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ledger := memberstore.NewPostgres(pg.DB)
	cycles := cyclestore.NewPostgres(pg.DB)
	svc := memsvc.NewService(ledger, cycles, &sqlTxRunner{db: pg.DB})

	planA := createPlan(t, cycles, "Plan A")
	planB := createPlan(t, cycles, "Plan B")
	modelID := id.NewModelID()
	ctx := testutil.AdminContext()
	require.NoError(t, svc.Add(ctx, planA, modelID))

	cycle := dmodels.NewCycle(id.NewCycleID(), planA, time.Now().UTC())
	require.NoError(t, cycles.CreateCycle(context.Background(), cycle))
	cycle.Status = dmodels.CycleStatusOnHold
	require.NoError(t, cycles.SaveCycle(context.Background(), cycle))

	err := svc.Transfer(ctx, modelID, planA, planB)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	blocked, ok := memsvc.BlockingCycle(err)
	require.True(t, ok)
	assert.Equal(t, cycle.ID, blocked.CycleID)
}
