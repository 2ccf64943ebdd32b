// Package store provides persistence for compiled deployment plans.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNotFound    = errors.New("plan not found")
	ErrDuplicateID = errors.New("plan with this ID already exists")

	// ErrInvalidData covers plans that cannot be encoded or decoded.
	ErrInvalidData = errors.New("stored plan is not valid JSON")

	ErrConnectionFailed = errors.New("cannot open plan database")
	ErrMigrationFailed  = errors.New("plan schema migration failed")
	ErrTxFailed         = errors.New("plan transaction failed")
)

// StoreError is a failed store call. PlanID is empty for calls that do not
// address a single plan.
type StoreError struct {
	Op      string
	PlanID  string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.PlanID == "" {
		return e.Op + ": " + e.Message
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.PlanID, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a StoreError for op on planID.
func NewStoreError(op, planID, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		PlanID:  planID,
		Message: message,
		Err:     err,
	}
}
