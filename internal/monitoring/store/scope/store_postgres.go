package scope

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	dmodels "modelproof/internal/monitoring/models"
	"modelproof/internal/monitoring/store/pgerr"
	id "modelproof/pkg/domain"
	"modelproof/pkg/platform/tx"
)

// PostgresStore persists cycle scopes, plan-version snapshots, and
// monitoring results. cycle_model_scope has no update or delete path: rows
// are written once at cycle start and read forever.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed scope store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InsertScope writes one scope row per model. ON CONFLICT DO NOTHING keeps a
// replayed materialization from ever rewriting an existing scope.
func (s *PostgresStore) InsertScope(ctx context.Context, cycleID id.CycleID, modelIDs []id.ModelID, capturedAt time.Time) error {
	q := tx.QuerierFrom(ctx, s.db)
	for _, modelID := range modelIDs {
		_, err := q.ExecContext(ctx, `
			INSERT INTO cycle_model_scope (cycle_id, model_id, captured_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (cycle_id, model_id) DO NOTHING
		`, uuid.UUID(cycleID), uuid.UUID(modelID), capturedAt)
		if err != nil {
			return fmt.Errorf("insert cycle scope: %w", pgerr.Translate(err))
		}
	}
	return nil
}

func (s *PostgresStore) ListScope(ctx context.Context, cycleID id.CycleID) ([]id.ModelID, error) {
	return s.listModelIDs(ctx, `
		SELECT model_id FROM cycle_model_scope
		WHERE cycle_id = $1
		ORDER BY model_id
	`, uuid.UUID(cycleID), "list cycle scope")
}

// InsertVersionSnapshot records the membership snapshot taken when a plan
// configuration is published as a version.
func (s *PostgresStore) InsertVersionSnapshot(ctx context.Context, versionID id.PlanVersionID, modelIDs []id.ModelID) error {
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO plan_version_model_snapshot (plan_version_id, model_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT (plan_version_id, model_id) DO NOTHING
	`, uuid.UUID(versionID), pq.Array(uuidStrings(modelIDs)))
	if err != nil {
		return fmt.Errorf("insert version snapshot: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) ListVersionSnapshot(ctx context.Context, versionID id.PlanVersionID) ([]id.ModelID, error) {
	return s.listModelIDs(ctx, `
		SELECT model_id FROM plan_version_model_snapshot
		WHERE plan_version_id = $1
		ORDER BY model_id
	`, uuid.UUID(versionID), "list version snapshot")
}

// RecordResult appends a monitoring result row.
func (s *PostgresStore) RecordResult(ctx context.Context, result *dmodels.MonitoringResult) error {
	if result == nil {
		return fmt.Errorf("monitoring result is required")
	}
	q := tx.QuerierFrom(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO monitoring_results (cycle_id, model_id, outcome, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(result.CycleID), uuid.UUID(result.ModelID), string(result.Outcome), result.RecordedAt)
	if err != nil {
		return fmt.Errorf("record monitoring result: %w", pgerr.Translate(err))
	}
	return nil
}

func (s *PostgresStore) ListResultModels(ctx context.Context, cycleID id.CycleID) ([]id.ModelID, error) {
	return s.listModelIDs(ctx, `
		SELECT DISTINCT model_id FROM monitoring_results
		WHERE cycle_id = $1
		ORDER BY model_id
	`, uuid.UUID(cycleID), "list result models")
}

func (s *PostgresStore) listModelIDs(ctx context.Context, query string, arg any, op string) ([]id.ModelID, error) {
	q := tx.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, pgerr.Translate(err))
	}
	defer rows.Close()

	var modelIDs []id.ModelID
	for rows.Next() {
		var modelID uuid.UUID
		if err := rows.Scan(&modelID); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		modelIDs = append(modelIDs, id.ModelID(modelID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s iterate: %w", op, err)
	}
	return modelIDs, nil
}

func uuidStrings(modelIDs []id.ModelID) []string {
	out := make([]string, 0, len(modelIDs))
	for _, modelID := range modelIDs {
		out = append(out, modelID.String())
	}
	return out
}
