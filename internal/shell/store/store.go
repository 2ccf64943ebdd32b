package store

import (
	"context"
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/google/uuid"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for compiled plans.
type Store interface {
	SavePlan(ctx context.Context, rec *PlanRecord) error
	GetPlan(ctx context.Context, id string) (*PlanRecord, error)
	ListPlans(ctx context.Context, opts ListOptions) ([]PlanRecord, error)
	DeletePlan(ctx context.Context, id string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Plan Record
// =============================================================================

// PlanRecord is a compiled plan with its storage metadata.
type PlanRecord struct {
	ID          string
	Partition   string
	Description string // source YAML, empty when unknown
	Plan        *deployment.Plan
	CreatedAt   time.Time
}

// NewPlanRecord wraps plan in a record with a fresh ID.
func NewPlanRecord(plan *deployment.Plan, description string) *PlanRecord {
	return &PlanRecord{
		ID:          "plan_" + uuid.New().String()[:8],
		Partition:   plan.Partition,
		Description: description,
		Plan:        plan,
		CreatedAt:   time.Now().UTC(),
	}
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit     int
	Offset    int
	Partition string // empty lists every partition
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
