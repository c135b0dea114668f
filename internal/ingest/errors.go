package ingest

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownIdentity is returned for a device token that maps to no account.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrStoreUnavailable matches every failure to reach persistence.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError rejects a reading before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a persistence failure and matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }
