package scope

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"modelproof/internal/monitoring/metrics"
	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/sentinel"
)

// Resolver answers "which models were in scope for this cycle" for any
// cycle, however old. Layers are tried in order of fidelity and the first
// one that yields models wins:
//
//  1. the scope materialized when the cycle started
//  2. the snapshot of the plan version the cycle ran under
//  3. the models that actually produced results in the cycle
//  4. the plan's current membership, as a last resort
//
// Layers 1-3 are immutable, so a resolved scope for a finished cycle never
// changes; only layer 4 can drift with later membership edits.
type Resolver struct {
	cycles  CycleReader
	scopes  ScopeStore
	ledger  MembershipReader
	cache   *Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// CycleReader is the read-only slice of the cycle store the resolver needs.
type CycleReader interface {
	FindCycleByID(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error)
}

type ResolverOption func(*Resolver)

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func WithResolverMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithResolverCache enables read-through caching of resolved scopes for
// cycles in a terminal status.
func WithResolverCache(cache *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

func NewResolver(cycles CycleReader, scopes ScopeStore, ledger MembershipReader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cycles: cycles,
		scopes: scopes,
		ledger: ledger,
		logger: slog.Default(),
		tracer: otel.Tracer("modelproof/monitoring/scope"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the cycle's scope and the layer that supplied it. It is
// read-only and deterministic: two calls for the same finished cycle always
// return the same scope. It fails only when the cycle itself does not exist
// or a store read fails, never because the fallback chain is exhausted.
func (r *Resolver) Resolve(ctx context.Context, cycleID id.CycleID) (*dmodels.ResolvedScope, error) {
	ctx, span := r.tracer.Start(ctx, "scope.Resolve")
	defer span.End()
	start := time.Now()

	cycle, err := r.cycles.FindCycleByID(ctx, cycleID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "cycle not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read cycle")
	}

	cacheable := r.cache != nil && cycle.Status.Terminal()
	if cacheable {
		if cached, ok := r.cache.Get(ctx, cycleID); ok {
			r.metrics.ObserveResolve(string(cached.Source), start)
			return cached, nil
		}
	}

	resolved, err := r.resolve(ctx, cycle)
	if err != nil {
		return nil, err
	}

	if cacheable {
		r.cache.Set(ctx, resolved)
	}
	r.metrics.ObserveResolve(string(resolved.Source), start)
	return resolved, nil
}

func (r *Resolver) resolve(ctx context.Context, cycle *dmodels.Cycle) (*dmodels.ResolvedScope, error) {
	materialized, err := r.scopes.ListScope(ctx, cycle.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read materialized scope")
	}
	if len(materialized) > 0 {
		return resolved(cycle.ID, materialized, dmodels.ScopeSourceMaterialized), nil
	}

	if !cycle.PlanVersionID.IsNil() {
		snapshot, err := r.scopes.ListVersionSnapshot(ctx, cycle.PlanVersionID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read plan version snapshot")
		}
		if len(snapshot) > 0 {
			return resolved(cycle.ID, snapshot, dmodels.ScopeSourceVersionSnapshot), nil
		}
	}

	fromResults, err := r.scopes.ListResultModels(ctx, cycle.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read monitoring results")
	}
	if len(fromResults) > 0 {
		return resolved(cycle.ID, fromResults, dmodels.ScopeSourceResults), nil
	}

	// Last resort. Current membership may have drifted since the cycle ran,
	// which is why every layer above outranks it.
	current, err := r.ledger.ListActiveByPlan(ctx, cycle.PlanID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read current membership")
	}
	r.logger.DebugContext(ctx, "cycle scope resolved from current membership",
		slog.String("cycle_id", cycle.ID.String()))
	return resolved(cycle.ID, current, dmodels.ScopeSourceProjection), nil
}

func resolved(cycleID id.CycleID, modelIDs []id.ModelID, source dmodels.ScopeSource) *dmodels.ResolvedScope {
	return &dmodels.ResolvedScope{
		CycleID:  cycleID,
		ModelIDs: modelIDs,
		Source:   source,
	}
}
