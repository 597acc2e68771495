// Package testutil provides common helpers for handler and integration
// tests.
package testutil

import (
	"context"
	"time"

	id "modelproof/pkg/domain"
	"modelproof/pkg/requestcontext"
)

// AdminContext returns a context carrying a fresh admin identity, the state
// the auth middleware establishes for administrator requests.
func AdminContext() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), id.NewUserID())
	return requestcontext.WithAdmin(ctx, true)
}

// UserContext returns a context carrying a fresh non-admin identity.
func UserContext() context.Context {
	return requestcontext.WithUserID(context.Background(), id.NewUserID())
}

// ContextAt pins the request time, so assertions on effective_from and
// effective_to are exact.
func ContextAt(ctx context.Context, t time.Time) context.Context {
	return requestcontext.WithTime(ctx, t)
}
