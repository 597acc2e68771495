package audit

import (
	"context"
	"fmt"
	"log/slog"

	id "modelproof/pkg/domain"
	"modelproof/pkg/requestcontext"
)

// Publisher emits audit events with fail-closed semantics: the caller blocks
// until the event is persisted, and if persistence fails the calling
// mutation MUST fail. Membership changes without an audit row are not
// acceptable outcomes.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a fail-closed audit publisher.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously persists an audit event, filling the timestamp, actor,
// and request ID from context when unset.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires an action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.ActorID.IsNil() {
		event.ActorID = requestcontext.UserID(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"actor_id", event.ActorID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}

// ListByPlan returns the audit trail touching a plan.
func (p *Publisher) ListByPlan(ctx context.Context, planID id.PlanID) ([]Event, error) {
	return p.store.ListByPlan(ctx, planID)
}
