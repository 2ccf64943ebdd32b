package deployment

import (
	"fmt"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// System Compilation
// =============================================================================

// TriggerLinks names the module whose conf receives every GeoID of the system.
type TriggerLinks struct {
	App    string
	Module string
	Build  LinkBuilder // nil means ReplaceLinks
}

// CompileOptions controls a compilation run.
type CompileOptions struct {
	// Start is the default payload of the start phase.
	Start StartParams

	// Phases overrides the phase table. Nil means DefaultPhases(Start).
	Phases []PhaseSpec

	// Fragments wires fragment producers to the dataflow application. Nil
	// still names fragment queues and checks GeoID uniqueness.
	Fragments *FragmentWiring

	// Trigger, when set, receives the GeoID links.
	Trigger *TriggerLinks
}

// DefaultCompileOptions returns options with run number 1 and data storage
// enabled.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{Start: StartParams{Run: 1}}
}

// Compile turns system into a deployment plan. The system is modified in
// place and cannot be compiled twice.
//
// Steps, each failing the whole run on error:
//  1. fragment producers: GeoID uniqueness, deferred queue names, endpoints
//  2. trigger links
//  3. graph validation and module ordering (catches cycles early)
//  4. connection classification and application ordering
//  5. network adapters per application, in application start order
//  6. module ordering with adapters and command assembly per application
//
// Dangling endpoints do not fail compilation; they are returned in
// Plan.Warnings and reported to sink.
func Compile(system *domain.System, opts CompileOptions, sink domain.Sink) (*Plan, error) {
	if sink == nil {
		sink = domain.NopSink{}
	}

	wiring := FragmentWiring{}
	if opts.Fragments != nil {
		wiring = *opts.Fragments
	}
	if err := ConnectFragmentProducers(system, wiring); err != nil {
		return nil, err
	}

	if t := opts.Trigger; t != nil {
		build := t.Build
		if build == nil {
			build = ReplaceLinks
		}
		if err := SetTriggerLinks(system, t.App, t.Module, build); err != nil {
			return nil, err
		}
	}

	for _, app := range system.Apps() {
		if err := app.Graph.Validate(app.Name); err != nil {
			return nil, err
		}
		if _, _, err := ModuleOrder(app); err != nil {
			return nil, err
		}
	}

	if _, err := ClassifySystem(system, sink); err != nil {
		return nil, err
	}
	appStart, appStop, err := AppOrder(system)
	if err != nil {
		return nil, err
	}

	var warnings []domain.Diagnostic
	for _, name := range appStart {
		w, err := AddNetwork(system, name, sink)
		if err != nil {
			return nil, fmt.Errorf("add network to %s: %w", name, err)
		}
		warnings = append(warnings, w...)
	}

	phases := opts.Phases
	if phases == nil {
		phases = DefaultPhases(opts.Start)
	}

	plan := &Plan{
		Partition:     system.Partition,
		AppStartOrder: appStart,
		AppStopOrder:  appStop,
		Connections:   system.AllConnections(),
		Warnings:      warnings,
	}
	for _, app := range system.Apps() {
		start, stop, err := ModuleOrder(app)
		if err != nil {
			return nil, err
		}
		conns := system.Connections(app.Name)
		cmds, err := BuildAppCommands(AppCommandParams{
			Modules:     app.Graph.Modules(),
			Queues:      system.Queues(app.Name),
			Connections: conns,
			StartOrder:  start,
			StopOrder:   stop,
			Phases:      phases,
		})
		if err != nil {
			return nil, fmt.Errorf("build commands for %s: %w", app.Name, err)
		}
		plan.Apps = append(plan.Apps, AppPlan{
			Name:        app.Name,
			Host:        app.Host,
			StartOrder:  start,
			StopOrder:   stop,
			Commands:    cmds,
			Connections: conns,
		})
	}

	sink.Report(domain.Diagnostic{
		Severity: domain.SeverityInfo,
		Phase:    "compile",
		Message: fmt.Sprintf("compiled %d applications, %d connections, %d warnings",
			len(plan.Apps), len(plan.Connections), len(plan.Warnings)),
	})
	return plan, nil
}
