// Package resources provides the JSON:API models of the topoplan API.
package resources

import (
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/artpar/topoplan/internal/shell/store"
	"github.com/manyminds/api2go/jsonapi"
)

// =============================================================================
// Plan JSON:API Model
// =============================================================================

// Plan is the JSON:API view of a stored plan. Command payloads are not
// inlined; they are served per application and phase.
type Plan struct {
	ID            string                     `json:"-"`
	Partition     string                     `json:"partition"`
	AppStartOrder []string                   `json:"app_start_order"`
	AppStopOrder  []string                   `json:"app_stop_order"`
	Phases        []string                   `json:"phases"`
	Applications  []Application              `json:"applications"`
	Connections   []domain.NetworkConnection `json:"connections"`
	Warnings      []domain.Diagnostic        `json:"warnings"`
	Description   string                     `json:"description,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
}

// Application summarizes one application of a plan.
type Application struct {
	Name       string   `json:"name"`
	Host       string   `json:"host"`
	StartOrder []string `json:"start_order"`
	StopOrder  []string `json:"stop_order"`
	Phases     []string `json:"phases"`
}

// GetID returns the plan ID for JSON:API.
func (p Plan) GetID() string {
	return p.ID
}

// SetID sets the plan ID for JSON:API.
func (p *Plan) SetID(id string) error {
	p.ID = id
	return nil
}

// GetName returns the JSON:API resource type name.
func (p Plan) GetName() string {
	return "plans"
}

var (
	_ jsonapi.MarshalIdentifier = Plan{}
	_ jsonapi.EntityNamer       = Plan{}
)

// =============================================================================
// Conversion Functions
// =============================================================================

// PlanFromRecord converts a stored record. withDescription controls whether
// the source YAML is included.
func PlanFromRecord(rec *store.PlanRecord, withDescription bool) Plan {
	p := Plan{
		ID:            rec.ID,
		Partition:     rec.Partition,
		AppStartOrder: nonNil(rec.Plan.AppStartOrder),
		AppStopOrder:  nonNil(rec.Plan.AppStopOrder),
		Phases:        nonNil(rec.Plan.Phases()),
		Applications:  make([]Application, 0, len(rec.Plan.Apps)),
		Connections:   rec.Plan.Connections,
		Warnings:      rec.Plan.Warnings,
		CreatedAt:     rec.CreatedAt,
	}
	if p.Connections == nil {
		p.Connections = []domain.NetworkConnection{}
	}
	if p.Warnings == nil {
		p.Warnings = []domain.Diagnostic{}
	}
	if withDescription {
		p.Description = rec.Description
	}
	for _, app := range rec.Plan.Apps {
		p.Applications = append(p.Applications, applicationFromPlan(app))
	}
	return p
}

// PlansFromRecords converts a page of stored records without their sources.
func PlansFromRecords(recs []store.PlanRecord) []Plan {
	out := make([]Plan, 0, len(recs))
	for i := range recs {
		out = append(out, PlanFromRecord(&recs[i], false))
	}
	return out
}

func applicationFromPlan(app deployment.AppPlan) Application {
	a := Application{
		Name:       app.Name,
		Host:       app.Host,
		StartOrder: nonNil(app.StartOrder),
		StopOrder:  nonNil(app.StopOrder),
		Phases:     []string{},
	}
	if app.Commands != nil {
		a.Phases = nonNil(app.Commands.Phases())
	}
	return a
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
