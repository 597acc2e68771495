package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"modelproof/internal/monitoring/store/pgerr"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// postgresTxRunner runs service operations inside one SQL transaction. The
// transaction is put into context so every store call inside fn shares it,
// and a per-transaction lock_timeout makes contended plan locks fail fast
// instead of queueing.
type postgresTxRunner struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func newPostgresTxRunner(db *sql.DB, lockTimeout time.Duration) *postgresTxRunner {
	return &postgresTxRunner{db: db, lockTimeout: lockTimeout}
}

func (t *postgresTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return pgerr.Translate(err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if t.lockTimeout > 0 {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, timeout); err != nil {
			return pgerr.Translate(err)
		}
	}

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return pgerr.Translate(err)
	}
	return nil
}
