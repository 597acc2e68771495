package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "modelproof/pkg/domain"
	txcontext "modelproof/pkg/platform/tx"
)

// PostgresStore persists audit events with a transactional outbox. Append
// writes the queryable audit_events row and the outbox row in the caller's
// transaction, so an event exists if and only if its mutation committed.
// The Relay publishes outbox rows to Kafka afterward.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	eventID := uuid.New()
	q := txcontext.QuerierFrom(ctx, s.db)

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, action, actor_id, model_id,
			from_plan_id, to_plan_id, cycle_id, request_id, detail
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		eventID,
		event.Timestamp,
		string(event.Action),
		uuid.UUID(event.ActorID),
		nullableUUID(uuid.UUID(event.ModelID)),
		nullableUUID(uuid.UUID(event.FromPlanID)),
		nullableUUID(uuid.UUID(event.ToPlanID)),
		nullableUUID(uuid.UUID(event.CycleID)),
		event.RequestID,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, event_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), eventID, payload, time.Now()); err != nil {
		return fmt.Errorf("insert audit outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByPlan(ctx context.Context, planID id.PlanID) ([]Event, error) {
	q := txcontext.QuerierFrom(ctx, s.db)
	rows, err := q.QueryContext(ctx, `
		SELECT timestamp, action, actor_id, model_id, from_plan_id, to_plan_id, cycle_id, request_id, detail
		FROM audit_events
		WHERE from_plan_id = $1 OR to_plan_id = $1
		ORDER BY timestamp
	`, uuid.UUID(planID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		var action, requestID, detail string
		var actorID uuid.UUID
		var modelID, fromPlanID, toPlanID, cycleID uuid.NullUUID
		if err := rows.Scan(&event.Timestamp, &action, &actorID, &modelID, &fromPlanID, &toPlanID, &cycleID, &requestID, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = Action(action)
		event.ActorID = id.UserID(actorID)
		event.ModelID = id.ModelID(modelID.UUID)
		event.FromPlanID = id.PlanID(fromPlanID.UUID)
		event.ToPlanID = id.PlanID(toPlanID.UUID)
		event.CycleID = id.CycleID(cycleID.UUID)
		event.RequestID = requestID
		event.Detail = detail
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is one unpublished audit payload.
type OutboxEntry struct {
	ID      uuid.UUID
	EventID uuid.UUID
	Payload []byte
}

// FetchUnpublished returns up to limit unpublished outbox entries, oldest
// first. The relay runs as a single instance per deployment, so entries are
// not locked.
func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps outbox entries as delivered.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox SET published_at = NOW() WHERE id = ANY($1::uuid[])
	`, uuidArray(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func nullableUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func uuidArray(ids []uuid.UUID) any {
	ss := make([]string, 0, len(ids))
	for _, u := range ids {
		ss = append(ss, u.String())
	}
	return pq.Array(ss)
}
