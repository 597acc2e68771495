package membership

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
	"modelproof/pkg/platform/tx"
)

// PostgresStore persists the membership ledger and the current-membership
// projection. Both tables are written through the ambient transaction
// (pkg/platform/tx) so a service operation commits them atomically; the
// partial unique index on open ledger rows is the hard backstop for the
// single-active-plan invariant.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) AppendOpen(ctx context.Context, planID id.PlanID, modelID id.ModelID, from time.Time) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO plan_membership (plan_id, model_id, effective_from, effective_to)
		VALUES ($1, $2, $3, NULL)
	`, uuid.UUID(planID), uuid.UUID(modelID), from)
	if err != nil {
		return fmt.Errorf("append open membership: %w", pgerr.Translate(err))
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO plan_membership_current (plan_id, model_id)
		VALUES ($1, $2)
	`, uuid.UUID(planID), uuid.UUID(modelID))
	if err != nil {
		return fmt.Errorf("append projection row: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) CloseOpen(ctx context.Context, planID id.PlanID, modelID id.ModelID, to time.Time) (bool, error) {
	q := tx.QuerierFrom(ctx, s.db)
	result, err := q.ExecContext(ctx, `
		UPDATE plan_membership
		SET effective_to = $3
		WHERE plan_id = $1 AND model_id = $2 AND effective_to IS NULL
	`, uuid.UUID(planID), uuid.UUID(modelID), to)
	if err != nil {
		return false, fmt.Errorf("close open membership: %w", pgerr.Translate(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close open membership rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := q.ExecContext(ctx, `
		DELETE FROM plan_membership_current
		WHERE plan_id = $1 AND model_id = $2
	`, uuid.UUID(planID), uuid.UUID(modelID)); err != nil {
		return false, fmt.Errorf("delete projection row: %w", pgerr.Translate(err))
	}
	return true, nil
}

func (s *PostgresStore) FindOpenByModel(ctx context.Context, modelID id.ModelID) (*dmodels.Membership, error) {
	q := tx.QuerierFrom(ctx, s.db)
	row := q.QueryRowContext(ctx, `
		SELECT plan_id, model_id, effective_from, effective_to
		FROM plan_membership
		WHERE model_id = $1 AND effective_to IS NULL
	`, uuid.UUID(modelID))

	membership, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open membership: %w", pgerr.Translate(err))
	}
	return membership, nil
}

func (s *PostgresStore) ListActiveByPlan(ctx context.Context, planID id.PlanID) ([]id.ModelID, error) {
	q := tx.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT model_id
		FROM plan_membership_current
		WHERE plan_id = $1
		ORDER BY model_id
	`, uuid.UUID(planID))
	if err != nil {
		return nil, fmt.Errorf("list active memberships: %w", pgerr.Translate(err))
	}
	defer rows.Close()

	var modelIDs []id.ModelID
	for rows.Next() {
		var modelID uuid.UUID
		if err := rows.Scan(&modelID); err != nil {
			return nil, fmt.Errorf("scan active membership: %w", err)
		}
		modelIDs = append(modelIDs, id.ModelID(modelID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active memberships: %w", err)
	}
	return modelIDs, nil
}

func (s *PostgresStore) ListHistoryByModel(ctx context.Context, modelID id.ModelID) ([]dmodels.Membership, error) {
	q := tx.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT plan_id, model_id, effective_from, effective_to
		FROM plan_membership
		WHERE model_id = $1
		ORDER BY effective_from
	`, uuid.UUID(modelID))
	if err != nil {
		return nil, fmt.Errorf("list membership history: %w", pgerr.Translate(err))
	}
	defer rows.Close()

	var history []dmodels.Membership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership history: %w", err)
		}
		history = append(history, *membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership history: %w", err)
	}
	return history, nil
}

func (s *PostgresStore) CountActiveByPlan(ctx context.Context, planID id.PlanID) (int, error) {
	q := tx.QuerierFrom(ctx, s.db)
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM plan_membership_current WHERE plan_id = $1
	`, uuid.UUID(planID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active memberships: %w", pgerr.Translate(err))
	}
	return count, nil
}

type membershipRow interface {
	Scan(dest ...any) error
}

func scanMembership(row membershipRow) (*dmodels.Membership, error) {
	var membership dmodels.Membership
	var planID, modelID uuid.UUID
	var effectiveTo sql.NullTime
	if err := row.Scan(&planID, &modelID, &membership.EffectiveFrom, &effectiveTo); err != nil {
		return nil, err
	}
	membership.PlanID = id.PlanID(planID)
	membership.ModelID = id.ModelID(modelID)
	if effectiveTo.Valid {
		membership.EffectiveTo = &effectiveTo.Time
	}
	return &membership, nil
}
