package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Plan Operations
// =============================================================================

// planRow represents a plan row in the database.
type planRow struct {
	ID              string `db:"id"`
	Partition       string `db:"partition"`
	AppCount        int    `db:"app_count"`
	ConnectionCount int    `db:"connection_count"`
	WarningCount    int    `db:"warning_count"`
	Description     string `db:"description"`
	Plan            string `db:"plan"`
	CreatedAt       string `db:"created_at"`
}

func (s *SQLiteStore) SavePlan(ctx context.Context, rec *PlanRecord) error {
	return savePlan(ctx, s.db, rec)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	return getPlan(ctx, s.db, id)
}

func (s *SQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]PlanRecord, error) {
	return listPlans(ctx, s.db, opts)
}

func (s *SQLiteStore) DeletePlan(ctx context.Context, id string) error {
	return deletePlan(ctx, s.db, id)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) SavePlan(ctx context.Context, rec *PlanRecord) error {
	return savePlan(ctx, s.tx, rec)
}

func (s *txSQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, error) {
	return getPlan(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListPlans(ctx context.Context, opts ListOptions) ([]PlanRecord, error) {
	return listPlans(ctx, s.tx, opts)
}

func (s *txSQLiteStore) DeletePlan(ctx context.Context, id string) error {
	return deletePlan(ctx, s.tx, id)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just execute
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	return nil
}

// =============================================================================
// Shared Implementation
// =============================================================================

func savePlan(ctx context.Context, exec executor, rec *PlanRecord) error {
	if rec.Plan == nil {
		return NewStoreError("SavePlan", rec.ID, "plan is nil", ErrInvalidData)
	}
	planJSON, err := json.Marshal(rec.Plan)
	if err != nil {
		return NewStoreError("SavePlan", rec.ID, "failed to serialize plan", ErrInvalidData)
	}

	query := `
		INSERT INTO plans (
			id, partition, app_count, connection_count, warning_count,
			description, plan, created_at
		) VALUES (
			:id, :partition, :app_count, :connection_count, :warning_count,
			:description, :plan, :created_at
		)`

	row := map[string]any{
		"id":               rec.ID,
		"partition":        rec.Partition,
		"app_count":        len(rec.Plan.Apps),
		"connection_count": len(rec.Plan.Connections),
		"warning_count":    len(rec.Plan.Warnings),
		"description":      rec.Description,
		"plan":             string(planJSON),
		"created_at":       rec.CreatedAt.Format(time.RFC3339),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: plans.id") {
			return NewStoreError("SavePlan", rec.ID, "plan with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("SavePlan", rec.ID, err.Error(), err)
	}

	return nil
}

func getPlan(ctx context.Context, exec executor, id string) (*PlanRecord, error) {
	query := `SELECT * FROM plans WHERE id = ?`

	var row planRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetPlan", id, "plan not found", ErrNotFound)
		}
		return nil, NewStoreError("GetPlan", id, err.Error(), err)
	}

	return rowToPlan(&row)
}

func deletePlan(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM plans WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeletePlan", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeletePlan", id, "plan not found", ErrNotFound)
	}

	return nil
}

func listPlans(ctx context.Context, exec executor, opts ListOptions) ([]PlanRecord, error) {
	opts = opts.Normalize()

	var rows []planRow
	var err error
	if opts.Partition != "" {
		query := `SELECT * FROM plans WHERE partition = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Partition, opts.Limit, opts.Offset)
	} else {
		query := `SELECT * FROM plans ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
		err = exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	}
	if err != nil {
		return nil, NewStoreError("ListPlans", "", err.Error(), err)
	}

	plans := make([]PlanRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := rowToPlan(&row)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *rec)
	}

	return plans, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToPlan converts a database row to a PlanRecord.
func rowToPlan(row *planRow) (*PlanRecord, error) {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)

	var plan deployment.Plan
	if err := json.Unmarshal([]byte(row.Plan), &plan); err != nil {
		return nil, NewStoreError("rowToPlan", row.ID, "failed to parse plan", ErrInvalidData)
	}

	return &PlanRecord{
		ID:          row.ID,
		Partition:   row.Partition,
		Description: row.Description,
		Plan:        &plan,
		CreatedAt:   createdAt,
	}, nil
}
