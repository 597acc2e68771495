// Package store holds infrastructure shared by the monitoring stores.
package store

import (
	"context"
	"sync"
)

// MemoryTxRunner serializes operations under one mutex. It gives the memory
// stores the mutual exclusion a database transaction would, but no rollback;
// services validate before mutating so partial application does not arise in
// tests.
type MemoryTxRunner struct {
	mu sync.Mutex
}

func NewMemoryTxRunner() *MemoryTxRunner {
	return &MemoryTxRunner{}
}

func (r *MemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
