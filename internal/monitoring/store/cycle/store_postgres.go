package cycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	dmodels "modelproof/internal/monitoring/models"
	"modelproof/internal/monitoring/store/pgerr"
	id "modelproof/pkg/domain"
	"modelproof/pkg/platform/sentinel"
	"modelproof/pkg/platform/tx"
)

// PostgresStore persists plans and cycles. LockPlan is the plan-scoped
// exclusive lock that serializes transfers against cycle-start
// materialization; it must run inside the ambient transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed plan/cycle store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *dmodels.Plan) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO monitoring_plans (id, name, cadence, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(plan.ID), plan.Name, string(plan.Cadence), uuid.UUID(plan.CreatedBy), plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create plan: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) FindPlanByID(ctx context.Context, planID id.PlanID) (*dmodels.Plan, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT id, name, cadence, created_by, created_at, updated_at
		FROM monitoring_plans
		WHERE id = $1
	`, uuid.UUID(planID))

	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find plan: %w", pgerr.Translate(err))
	}
	return plan, nil
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]dmodels.Plan, error) {
	q := tx.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, cadence, created_by, created_at, updated_at
		FROM monitoring_plans
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", pgerr.Translate(err))
	}
	defer rows.Close()

	var plans []dmodels.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// LockPlan takes the plan's row lock (SELECT ... FOR UPDATE) inside the
// ambient transaction. Whoever holds it — a transfer or a cycle start —
// completes its full read-then-write sequence before the other proceeds.
// A lock-wait timeout surfaces as sentinel.ErrLockTimeout.
func (s *PostgresStore) LockPlan(ctx context.Context, planID id.PlanID) error {
	q := tx.QuerierFrom(ctx, s.db)
	var locked uuid.UUID
	err := q.QueryRowContext(ctx, `
		SELECT id FROM monitoring_plans WHERE id = $1 FOR UPDATE
	`, uuid.UUID(planID)).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock plan: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) CreateCycle(ctx context.Context, cycle *dmodels.Cycle) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO monitoring_cycles (id, plan_id, plan_version_id, status, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(cycle.ID), uuid.UUID(cycle.PlanID), nullUUID(uuid.UUID(cycle.PlanVersionID)),
		string(cycle.Status), nullTime(cycle.StartedAt), cycle.CreatedAt, cycle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create cycle: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) FindCycleByID(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT id, plan_id, plan_version_id, status, started_at, created_at, updated_at
		FROM monitoring_cycles
		WHERE id = $1
	`, uuid.UUID(cycleID))

	cycle, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find cycle: %w", pgerr.Translate(err))
	}
	return cycle, nil
}

func (s *PostgresStore) SaveCycle(ctx context.Context, cycle *dmodels.Cycle) error {
	q := tx.QuerierFrom(ctx, s.db)
	result, err := q.ExecContext(ctx, `
		UPDATE monitoring_cycles
		SET status = $2, started_at = $3, updated_at = $4
		WHERE id = $1
	`, uuid.UUID(cycle.ID), string(cycle.Status), nullTime(cycle.StartedAt), cycle.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cycle: %w", pgerr.Translate(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save cycle rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveCycleByPlan(ctx context.Context, planID id.PlanID) (*dmodels.Cycle, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT id, plan_id, plan_version_id, status, started_at, created_at, updated_at
		FROM monitoring_cycles
		WHERE plan_id = $1
		  AND status NOT IN ('pending', 'approved', 'cancelled')
		ORDER BY created_at
		LIMIT 1
	`, uuid.UUID(planID))

	cycle, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active cycle: %w", pgerr.Translate(err))
	}
	return cycle, nil
}

func (s *PostgresStore) ListCyclesByPlan(ctx context.Context, planID id.PlanID) ([]dmodels.Cycle, error) {
	q := tx.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT id, plan_id, plan_version_id, status, started_at, created_at, updated_at
		FROM monitoring_cycles
		WHERE plan_id = $1
		ORDER BY created_at
	`, uuid.UUID(planID))
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", pgerr.Translate(err))
	}
	defer rows.Close()

	var cycles []dmodels.Cycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, *cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return cycles, nil
}

type cycleRow interface {
	Scan(dest ...any) error
}

func scanPlan(row cycleRow) (*dmodels.Plan, error) {
	var plan dmodels.Plan
	var planID, createdBy uuid.UUID
	var cadence string
	if err := row.Scan(&planID, &plan.Name, &cadence, &createdBy, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		return nil, err
	}
	plan.ID = id.PlanID(planID)
	plan.Cadence = dmodels.Cadence(cadence)
	plan.CreatedBy = id.UserID(createdBy)
	return &plan, nil
}

func scanCycle(row cycleRow) (*dmodels.Cycle, error) {
	var cycle dmodels.Cycle
	var cycleID, planID uuid.UUID
	var planVersionID uuid.NullUUID
	var status string
	var startedAt sql.NullTime
	if err := row.Scan(&cycleID, &planID, &planVersionID, &status, &startedAt, &cycle.CreatedAt, &cycle.UpdatedAt); err != nil {
		return nil, err
	}
	cycle.ID = id.CycleID(cycleID)
	cycle.PlanID = id.PlanID(planID)
	if planVersionID.Valid {
		cycle.PlanVersionID = id.PlanVersionID(planVersionID.UUID)
	}
	cycle.Status = dmodels.CycleStatus(status)
	if startedAt.Valid {
		cycle.StartedAt = &startedAt.Time
	}
	return &cycle, nil
}

func nullUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
