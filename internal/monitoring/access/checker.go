// Package access decides who may see which model's monitoring data in a
// given cycle. Visibility is anchored to the cycle's resolved scope, so
// what a reviewer could see during a cycle stays visible after the model
// moves to another plan.
package access

import (
	"context"

	dmodels "modelproof/internal/monitoring/models"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/requestcontext"
)

// ScopeResolver answers which models were in a cycle's scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, cycleID id.CycleID) (*dmodels.ResolvedScope, error)
}

// ModelAuthorizer is the caller-supplied predicate deciding whether a user
// may see a model at all, independent of any cycle. The model inventory
// owns that decision, not this service.
type ModelAuthorizer interface {
	CanAccessModel(ctx context.Context, userID id.UserID, modelID id.ModelID) (bool, error)
}

// AllowAll authorizes every user for every model. Deployments without a
// model inventory integration use it.
type AllowAll struct{}

func (AllowAll) CanAccessModel(context.Context, id.UserID, id.ModelID) (bool, error) {
	return true, nil
}

type Checker struct {
	resolver ScopeResolver
	authz    ModelAuthorizer
}

func NewChecker(resolver ScopeResolver, authz ModelAuthorizer) *Checker {
	if authz == nil {
		authz = AllowAll{}
	}
	return &Checker{resolver: resolver, authz: authz}
}

// CanViewModelInCycle reports whether the requesting user may view the
// model's data within the cycle: the model must be in the cycle's resolved
// scope and the user must be authorized for the model. Administrators skip
// the model authorization check but not the scope check.
func (c *Checker) CanViewModelInCycle(ctx context.Context, cycleID id.CycleID, modelID id.ModelID) (bool, error) {
	scope, err := c.resolver.Resolve(ctx, cycleID)
	if err != nil {
		return false, err
	}
	if !scope.Contains(modelID) {
		return false, nil
	}
	if requestcontext.IsAdmin(ctx) {
		return true, nil
	}
	allowed, err := c.authz.CanAccessModel(ctx, requestcontext.UserID(ctx), modelID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "model authorization check failed")
	}
	return allowed, nil
}

// RequireViewModelInCycle is CanViewModelInCycle as a guard: it returns a
// forbidden error instead of false.
func (c *Checker) RequireViewModelInCycle(ctx context.Context, cycleID id.CycleID, modelID id.ModelID) error {
	allowed, err := c.CanViewModelInCycle(ctx, cycleID, modelID)
	if err != nil {
		return err
	}
	if !allowed {
		return dErrors.New(dErrors.CodeForbidden, "model is not visible in this cycle")
	}
	return nil
}
