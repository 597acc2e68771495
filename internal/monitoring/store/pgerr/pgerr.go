// Package pgerr maps Postgres driver error codes onto sentinel errors so
// services never inspect pq details.
package pgerr

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"modelproof/pkg/platform/sentinel"
)

const (
	uniqueViolation  = "23505"
	lockNotAvailable = "55P03"
	deadlockDetected = "40P01"
)

// Translate wraps err with the matching sentinel when it is a recognized
// driver error; otherwise returns err unchanged.
func Translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case uniqueViolation:
			return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
		case lockNotAvailable, deadlockDetected:
			return fmt.Errorf("%w: %v", sentinel.ErrLockTimeout, err)
		}
	}
	return err
}
