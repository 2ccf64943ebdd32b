package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// =============================================================================
// ModuleGraph
// =============================================================================

// ModuleGraph owns the modules, endpoints and fragment producers of one
// application. Keys are checked at insertion time.
type ModuleGraph struct {
	modules     map[string]Module
	moduleOrder []string
	endpoints   map[string]Endpoint
	producers   map[GeoID]FragmentProducer
}

// NewModuleGraph creates a graph holding the given modules in order.
func NewModuleGraph(modules ...Module) (*ModuleGraph, error) {
	g := &ModuleGraph{
		modules:   make(map[string]Module),
		endpoints: make(map[string]Endpoint),
		producers: make(map[GeoID]FragmentProducer),
	}
	for _, m := range modules {
		if err := g.AddModule(m); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// -----------------------------------------------------------------------------
// Modules
// -----------------------------------------------------------------------------

// AddModule inserts a module. Names must be unique within the graph.
func (g *ModuleGraph) AddModule(m Module) error {
	if m.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if strings.Contains(m.Name, ".") {
		return fmt.Errorf("%w: module %q must not contain %q", ErrInvalidName, m.Name, ".")
	}
	if _, ok := g.modules[m.Name]; ok {
		return &DuplicateKeyError{Scope: "module", Key: m.Name}
	}
	g.modules[m.Name] = m.Clone()
	g.moduleOrder = append(g.moduleOrder, m.Name)
	return nil
}

// HasModule reports whether a module with that name exists.
func (g *ModuleGraph) HasModule(name string) bool {
	_, ok := g.modules[name]
	return ok
}

// GetModule returns a copy of the named module.
func (g *ModuleGraph) GetModule(name string) (Module, error) {
	m, ok := g.modules[name]
	if !ok {
		return Module{}, fmt.Errorf("module %q: %w", name, ErrNotFound)
	}
	return m.Clone(), nil
}

// ReplaceModule swaps in a new value for an existing module.
func (g *ModuleGraph) ReplaceModule(m Module) error {
	if _, ok := g.modules[m.Name]; !ok {
		return fmt.Errorf("module %q: %w", m.Name, ErrNotFound)
	}
	g.modules[m.Name] = m.Clone()
	return nil
}

// ResetModuleConf replaces the conf of the named module with a new value,
// keeping its plugin and connections.
func (g *ModuleGraph) ResetModuleConf(name string, conf Payload) error {
	m, err := g.GetModule(name)
	if err != nil {
		return err
	}
	return g.ReplaceModule(m.WithConf(conf))
}

// Modules returns copies of all modules in insertion order.
func (g *ModuleGraph) Modules() []Module {
	out := make([]Module, 0, len(g.moduleOrder))
	for _, name := range g.moduleOrder {
		out = append(out, g.modules[name].Clone())
	}
	return out
}

// ModuleNames returns module names in insertion order.
func (g *ModuleGraph) ModuleNames() []string {
	return slices.Clone(g.moduleOrder)
}

// -----------------------------------------------------------------------------
// Endpoints
// -----------------------------------------------------------------------------

// AddEndpoint inserts an endpoint. External names must be unique within the graph.
func (g *ModuleGraph) AddEndpoint(e Endpoint) error {
	if e.ExternalName == "" {
		return fmt.Errorf("endpoint external name is required")
	}
	if strings.Contains(e.ExternalName, ".") {
		return fmt.Errorf("%w: endpoint %q must not contain %q", ErrInvalidName, e.ExternalName, ".")
	}
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return fmt.Errorf("endpoint %q: invalid direction %s", e.ExternalName, e.Direction)
	}
	if _, ok := g.endpoints[e.ExternalName]; ok {
		return &DuplicateKeyError{Scope: "endpoint", Key: e.ExternalName}
	}
	g.endpoints[e.ExternalName] = e.Clone()
	return nil
}

// Endpoint returns the endpoint with that external name.
func (g *ModuleGraph) Endpoint(name string) (Endpoint, bool) {
	e, ok := g.endpoints[name]
	if !ok {
		return Endpoint{}, false
	}
	return e.Clone(), true
}

// Endpoints returns all endpoints sorted by external name.
func (g *ModuleGraph) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(g.endpoints))
	for _, name := range slices.Sorted(maps.Keys(g.endpoints)) {
		out = append(out, g.endpoints[name].Clone())
	}
	return out
}

// -----------------------------------------------------------------------------
// Fragment Producers
// -----------------------------------------------------------------------------

// AddFragmentProducer registers a producer. A GeoID may only be registered once.
func (g *ModuleGraph) AddFragmentProducer(fp FragmentProducer) error {
	if _, ok := g.producers[fp.GeoID]; ok {
		return &DuplicateKeyError{Scope: "geoid", Key: fp.GeoID.String()}
	}
	g.producers[fp.GeoID] = fp
	return nil
}

// FragmentProducers returns all producers sorted by GeoID.
func (g *ModuleGraph) FragmentProducers() []FragmentProducer {
	out := slices.Collect(maps.Values(g.producers))
	slices.SortFunc(out, func(a, b FragmentProducer) int { return a.GeoID.Compare(b.GeoID) })
	return out
}

// SetFragmentQueueName records the deferred queue name of a producer.
func (g *ModuleGraph) SetFragmentQueueName(id GeoID, name string) error {
	fp, ok := g.producers[id]
	if !ok {
		return fmt.Errorf("fragment producer %s: %w", id, ErrNotFound)
	}
	fp.QueueName = name
	g.producers[id] = fp
	return nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate checks that every connection target and every endpoint internal
// name resolves to a module of this graph, and to a declared port when the
// module lists its ports. owner names the graph in error messages.
func (g *ModuleGraph) Validate(owner string) error {
	for _, name := range g.moduleOrder {
		m := g.modules[name]
		for _, port := range m.ConnectionNames() {
			c := m.Connections[port]
			if c.To == nil {
				continue
			}
			if err := g.checkRef(owner, fmt.Sprintf("module %s", m.Name), *c.To); err != nil {
				return err
			}
		}
	}

	for _, e := range g.Endpoints() {
		if e.InternalName == nil {
			continue
		}
		if err := g.checkRef(owner, fmt.Sprintf("endpoint %s", e.ExternalName), *e.InternalName); err != nil {
			return err
		}
	}

	for _, fp := range g.FragmentProducers() {
		from := fmt.Sprintf("fragment producer %s", fp.GeoID.RawString())
		if err := g.checkRef(owner, from, fp.RequestsIn); err != nil {
			return err
		}
		if err := g.checkRef(owner, from, fp.FragmentsOut); err != nil {
			return err
		}
	}
	return nil
}

func (g *ModuleGraph) checkRef(owner, from string, ref PortRef) error {
	target, ok := g.modules[ref.Module]
	if !ok {
		return &UnknownModuleReferenceError{
			Owner:  owner,
			From:   from,
			Target: ref.Module,
			Known:  g.ModuleNames(),
		}
	}
	if !target.DeclaresPort(ref.Port) {
		return &UnknownModuleReferenceError{
			Owner:  owner,
			From:   from,
			Target: ref.Module,
			Port:   ref.Port,
			Known:  slices.Clone(target.Ports),
		}
	}
	return nil
}
