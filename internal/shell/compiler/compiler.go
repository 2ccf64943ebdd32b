// Package compiler runs description parsing and plan compilation on behalf
// of the command line and the HTTP API, recording metrics and optionally
// persisting the result.
package compiler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/description"
	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/artpar/topoplan/internal/shell/metrics"
	"github.com/artpar/topoplan/internal/shell/store"
)

// ErrNoStore is returned by CompileAndSave when the service has no store.
var ErrNoStore = errors.New("plan store is not configured")

// =============================================================================
// Service
// =============================================================================

// Config holds the collaborators of a Service. Only Base is required.
type Config struct {
	Base    deployment.CompileOptions
	Store   store.Store        // nil disables CompileAndSave
	Metrics *metrics.Collector // nil disables metrics
	Logger  *slog.Logger
}

// Service compiles system descriptions.
type Service struct {
	base    deployment.CompileOptions
	store   store.Store
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewService creates a compile service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		base:    cfg.Base,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Request is one description to compile.
type Request struct {
	Description string
	Variables   map[string]string
	Ports       *domain.PortRange // overrides the description's port range
}

// Result is a compiled plan with everything reported on the way.
type Result struct {
	Plan        *deployment.Plan
	Diagnostics []domain.Diagnostic
	SystemDOT   string            // application dependency graph
	AppDOT      map[string]string // application -> module dependency graph
	Duration    time.Duration
}

// Compile parses and compiles req. Errors satisfying description.IsParseError
// mean the description itself is malformed.
func (s *Service) Compile(req Request) (*Result, error) {
	start := time.Now()
	res, err := s.compile(req)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordCompile(summarize(res, err), elapsed)
	}
	if err != nil {
		s.logger.Warn("compile failed", "error", err, "duration", elapsed)
		return nil, err
	}

	res.Duration = elapsed
	s.logger.Info("plan compiled",
		"partition", res.Plan.Partition,
		"apps", len(res.Plan.Apps),
		"connections", len(res.Plan.Connections),
		"warnings", len(res.Plan.Warnings),
		"duration", elapsed,
	)
	return res, nil
}

// CompileAndSave compiles req and stores the plan with its source.
func (s *Service) CompileAndSave(ctx context.Context, req Request) (*store.PlanRecord, *Result, error) {
	if s.store == nil {
		return nil, nil, ErrNoStore
	}

	res, err := s.Compile(req)
	if err != nil {
		return nil, nil, err
	}

	rec := store.NewPlanRecord(res.Plan, req.Description)
	if err := s.store.SavePlan(ctx, rec); err != nil {
		s.logger.Error("failed to save plan", "plan_id", rec.ID, "error", err)
		return nil, nil, err
	}

	s.logger.Info("plan saved", "plan_id", rec.ID, "partition", rec.Partition)
	return rec, res, nil
}

func (s *Service) compile(req Request) (*Result, error) {
	desc, err := description.Parse(req.Description, description.Options{
		Variables: req.Variables,
		Ports:     req.Ports,
	})
	if err != nil {
		return nil, err
	}

	var collected domain.Collector
	sink := domain.MultiSink(&collected, domain.NewLogSink(s.logger))

	plan, err := deployment.Compile(desc.System, desc.CompileOptions(s.base), sink)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Plan:        plan,
		Diagnostics: collected.Diagnostics(),
		SystemDOT:   deployment.ExportDOT(deployment.AppDependencies(desc.System)),
		AppDOT:      make(map[string]string, len(plan.Apps)),
	}
	for _, app := range desc.System.Apps() {
		g, err := deployment.ModuleDependencies(app.Name, app.Graph.Modules())
		if err != nil {
			return nil, err
		}
		res.AppDOT[app.Name] = deployment.ExportDOT(g)
	}
	return res, nil
}

// summarize converts a compile outcome to its metrics form.
func summarize(res *Result, err error) metrics.CompileResult {
	if err != nil {
		return metrics.CompileResult{Err: err}
	}
	out := metrics.CompileResult{
		Applications: len(res.Plan.Apps),
		Warnings:     len(res.Plan.Warnings),
	}
	for _, nc := range res.Plan.Connections {
		out.ServiceTypes = append(out.ServiceTypes, string(nc.ServiceType))
	}
	return out
}
