package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func compileTestPlan(t *testing.T, partition string) *deployment.Plan {
	t.Helper()

	sys := domain.NewSystem(partition, nil)
	xg, err := domain.NewModuleGraph(domain.NewModule("src", "Producer", domain.Payload{}))
	require.NoError(t, err)
	require.NoError(t, xg.AddEndpoint(domain.NewEndpoint("metrics", "src.out", domain.DirectionOut)))
	require.NoError(t, xg.AddEndpoint(domain.NewEndpoint("lonely", "src.aux", domain.DirectionOut)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("x", "host-x", xg)))

	yg, err := domain.NewModuleGraph(domain.NewModule("dst", "Consumer", domain.Payload{}))
	require.NoError(t, err)
	require.NoError(t, yg.AddEndpoint(domain.NewEndpoint("metrics", "dst.in", domain.DirectionIn)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("y", "host-y", yg)))

	plan, err := deployment.Compile(sys, deployment.DefaultCompileOptions(), nil)
	require.NoError(t, err)
	return plan
}

func createTestPlan(t *testing.T, store Store, partition string) *PlanRecord {
	t.Helper()
	rec := NewPlanRecord(compileTestPlan(t, partition), "partition: "+partition)
	require.NoError(t, store.SavePlan(context.Background(), rec))
	return rec
}

// =============================================================================
// Plan CRUD Tests
// =============================================================================

func TestSavePlan_GetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := createTestPlan(t, store, "part")

	got, err := store.GetPlan(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "part", got.Partition)
	assert.Equal(t, "partition: part", got.Description)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)

	require.NotNil(t, got.Plan)
	assert.Equal(t, rec.Plan.AppStartOrder, got.Plan.AppStartOrder)
	assert.Equal(t, rec.Plan.Connections, got.Plan.Connections)
	assert.Equal(t, rec.Plan.Warnings, got.Plan.Warnings)

	x, ok := got.Plan.App("x")
	require.True(t, ok)
	want, _ := rec.Plan.App("x")
	assert.Equal(t, want.Commands.Phases(), x.Commands.Phases())
	assert.Equal(t, want.StartOrder, x.StartOrder)
}

func TestSavePlan_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	rec := createTestPlan(t, store, "part")

	err := store.SavePlan(context.Background(), rec)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestSavePlan_NilPlan(t *testing.T) {
	store := setupTestStore(t)

	err := store.SavePlan(context.Background(), &PlanRecord{ID: "plan_nil"})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestGetPlan_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetPlan(context.Background(), "missing")

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "GetPlan", storeErr.Op)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePlan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := createTestPlan(t, store, "part")

	require.NoError(t, store.DeletePlan(ctx, rec.ID))

	_, err := store.GetPlan(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeletePlan(ctx, rec.ID), ErrNotFound)
}

func TestListPlans(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	first := createTestPlan(t, store, "a")
	second := createTestPlan(t, store, "b")
	third := createTestPlan(t, store, "a")

	all, err := store.ListPlans(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, first.ID, all[2].ID)

	onlyA, err := store.ListPlans(ctx, ListOptions{Partition: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	page, err := store.ListPlans(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)
}

func TestListPlans_Empty(t *testing.T) {
	store := setupTestStore(t)

	plans, err := store.ListPlans(context.Background(), DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, plans)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_Commit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := NewPlanRecord(compileTestPlan(t, "part"), "")

	err := store.WithTx(ctx, func(tx Store) error {
		return tx.SavePlan(ctx, rec)
	})
	require.NoError(t, err)

	_, err = store.GetPlan(ctx, rec.ID)
	assert.NoError(t, err)
}

func TestWithTx_Rollback(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rec := NewPlanRecord(compileTestPlan(t, "part"), "")
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx Store) error {
		if err := tx.SavePlan(ctx, rec); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetPlan(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListOptions
		want ListOptions
	}{
		{"defaults", ListOptions{}, ListOptions{Limit: 100}},
		{"cap", ListOptions{Limit: 5000}, ListOptions{Limit: 1000}},
		{"negative offset", ListOptions{Limit: 10, Offset: -1}, ListOptions{Limit: 10}},
		{"keeps partition", ListOptions{Partition: "p"}, ListOptions{Limit: 100, Partition: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestStoreError_Message(t *testing.T) {
	err := NewStoreError("GetPlan", "plan_1", "plan not found", ErrNotFound)
	assert.Equal(t, "GetPlan plan_1: plan not found", err.Error())
	assert.Equal(t, "Close: boom", NewStoreError("Close", "", "boom", nil).Error())
}
