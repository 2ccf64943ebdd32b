package domain

import (
	"fmt"
	"maps"
	"slices"
)

// =============================================================================
// Application
// =============================================================================

// Application is a module graph placed on a host. Host is an opaque
// identifier resolved to a real address by deployment tooling.
type Application struct {
	Name  string
	Host  string
	Graph *ModuleGraph
}

// NewApplication creates an application. A nil graph is replaced by an empty one.
func NewApplication(name, host string, graph *ModuleGraph) *Application {
	if graph == nil {
		graph, _ = NewModuleGraph()
	}
	return &Application{Name: name, Host: host, Graph: graph}
}

// =============================================================================
// System
// =============================================================================

// Phase tracks how far compilation has mutated a System.
type Phase int

const (
	PhaseBuilding Phase = iota
	PhaseClassified
	PhaseSynthesizing
)

func (p Phase) String() string {
	switch p {
	case PhaseBuilding:
		return "building"
	case PhaseClassified:
		return "classified"
	case PhaseSynthesizing:
		return "synthesizing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// System owns every application of a partition along with the connections
// resolved between them.
type System struct {
	Partition string

	apps     map[string]*Application
	appOrder []string

	connections    map[string][]NetworkConnection
	appConnections map[string]AppConnection
	queues         map[string][]QueueSpec

	ports         *PortAllocator
	appStartOrder []string
	phase         Phase
}

// NewSystem creates an empty system. A nil allocator is replaced by one over
// DefaultPortRange.
func NewSystem(partition string, ports *PortAllocator) *System {
	if ports == nil {
		ports = NewPortAllocator(DefaultPortRange())
	}
	return &System{
		Partition:      partition,
		apps:           make(map[string]*Application),
		connections:    make(map[string][]NetworkConnection),
		appConnections: make(map[string]AppConnection),
		queues:         make(map[string][]QueueSpec),
		ports:          ports,
	}
}

// -----------------------------------------------------------------------------
// Applications
// -----------------------------------------------------------------------------

// AddApplication inserts an application. Names must be unique, and so must
// the GeoIDs of fragment producers across all applications.
func (s *System) AddApplication(app *Application) error {
	if app == nil || app.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if _, ok := s.apps[app.Name]; ok {
		return &DuplicateKeyError{Scope: "application", Owner: s.Partition, Key: app.Name}
	}
	if app.Graph == nil {
		app.Graph, _ = NewModuleGraph()
	}
	for _, fp := range app.Graph.FragmentProducers() {
		if prev, ok := s.producerOwner(fp.GeoID); ok {
			return &DuplicateKeyError{
				Scope: "geoid",
				Owner: s.Partition,
				Key:   fmt.Sprintf("%s (registered by %s and %s)", fp.GeoID, prev, app.Name),
			}
		}
	}
	s.apps[app.Name] = app
	s.appOrder = append(s.appOrder, app.Name)
	return nil
}

// App returns the named application.
func (s *System) App(name string) (*Application, error) {
	app, ok := s.apps[name]
	if !ok {
		return nil, fmt.Errorf("application %q: %w", name, ErrNotFound)
	}
	return app, nil
}

// Apps returns the applications in insertion order.
func (s *System) Apps() []*Application {
	out := make([]*Application, 0, len(s.appOrder))
	for _, name := range s.appOrder {
		out = append(out, s.apps[name])
	}
	return out
}

// AppNames returns application names in insertion order.
func (s *System) AppNames() []string {
	return slices.Clone(s.appOrder)
}

// FragmentProducers returns every producer of every application, keyed by
// GeoID. A GeoID registered by two applications is a DuplicateKeyError.
func (s *System) FragmentProducers() (map[GeoID]FragmentProducer, error) {
	out := make(map[GeoID]FragmentProducer)
	owner := make(map[GeoID]string)
	for _, app := range s.Apps() {
		for _, fp := range app.Graph.FragmentProducers() {
			if prev, ok := owner[fp.GeoID]; ok {
				return nil, &DuplicateKeyError{
					Scope: "geoid",
					Owner: s.Partition,
					Key:   fmt.Sprintf("%s (registered by %s and %s)", fp.GeoID, prev, app.Name),
				}
			}
			owner[fp.GeoID] = app.Name
			out[fp.GeoID] = fp
		}
	}
	return out, nil
}

// producerOwner returns the application already producing id.
func (s *System) producerOwner(id GeoID) (string, bool) {
	for _, app := range s.Apps() {
		for _, fp := range app.Graph.FragmentProducers() {
			if fp.GeoID == id {
				return app.Name, true
			}
		}
	}
	return "", false
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

// AddConnection records a transport descriptor for app. A uid may appear only
// once per application.
func (s *System) AddConnection(app string, nc NetworkConnection) error {
	if _, ok := s.apps[app]; !ok {
		return fmt.Errorf("application %q: %w", app, ErrNotFound)
	}
	for _, existing := range s.connections[app] {
		if existing.UID == nc.UID {
			return &DuplicateKeyError{Scope: "connection", Owner: app, Key: nc.UID}
		}
	}
	nc.Topics = slices.Clone(nc.Topics)
	s.connections[app] = append(s.connections[app], nc)
	return nil
}

// Connections returns the transport descriptors recorded for app.
func (s *System) Connections(app string) []NetworkConnection {
	return slices.Clone(s.connections[app])
}

// AllConnections returns the distinct descriptors of the system sorted by uid.
func (s *System) AllConnections() []NetworkConnection {
	seen := make(map[string]NetworkConnection)
	for _, list := range s.connections {
		for _, nc := range list {
			seen[nc.UID] = nc
		}
	}
	out := make([]NetworkConnection, 0, len(seen))
	for _, uid := range slices.Sorted(maps.Keys(seen)) {
		out = append(out, seen[uid])
	}
	return out
}

// AddAppConnection records a classified connection under its key.
func (s *System) AddAppConnection(c AppConnection) error {
	if _, ok := s.appConnections[c.Key]; ok {
		return &DuplicateKeyError{Scope: "app connection", Owner: s.Partition, Key: c.Key}
	}
	s.appConnections[c.Key] = c.Clone()
	return nil
}

// AppConnections returns classified connections sorted by key.
func (s *System) AppConnections() []AppConnection {
	out := make([]AppConnection, 0, len(s.appConnections))
	for _, key := range slices.Sorted(maps.Keys(s.appConnections)) {
		out = append(out, s.appConnections[key].Clone())
	}
	return out
}

// AddQueue records an intra-application queue produced by the classifier.
func (s *System) AddQueue(app string, q QueueSpec) {
	s.queues[app] = append(s.queues[app], q)
}

// Queues returns the intra-application queues recorded for app.
func (s *System) Queues(app string) []QueueSpec {
	return slices.Clone(s.queues[app])
}

// NextUnassignedPort returns a fresh port from the system allocator.
func (s *System) NextUnassignedPort() (int, error) {
	return s.ports.Next()
}

// -----------------------------------------------------------------------------
// Ordering and phases
// -----------------------------------------------------------------------------

// SetAppStartOrder overrides the computed application start order. The order
// must name every application exactly once.
func (s *System) SetAppStartOrder(order []string) error {
	if err := s.CheckAppOrder(order); err != nil {
		return err
	}
	s.appStartOrder = slices.Clone(order)
	return nil
}

// CheckAppOrder reports whether order is a permutation of AppNames.
func (s *System) CheckAppOrder(order []string) error {
	if len(order) != len(s.apps) {
		return fmt.Errorf("%w: %d applications listed, system has %d", ErrInvalidOrder, len(order), len(s.apps))
	}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if _, ok := s.apps[name]; !ok {
			return fmt.Errorf("%w: unknown application %q", ErrInvalidOrder, name)
		}
		if seen[name] {
			return fmt.Errorf("%w: application %q listed twice", ErrInvalidOrder, name)
		}
		seen[name] = true
	}
	return nil
}

// AppStartOrder returns the stored start order, nil if none was computed.
func (s *System) AppStartOrder() []string {
	return slices.Clone(s.appStartOrder)
}

// Phase returns the current compilation phase.
func (s *System) Phase() Phase {
	return s.phase
}

// Advance moves the system into phase to. Phases only move forward, and
// classification happens exactly once.
func (s *System) Advance(to Phase) error {
	switch {
	case to == PhaseClassified && s.phase != PhaseBuilding:
		return fmt.Errorf("%w: classify requested while %s", ErrPhaseOrder, s.phase)
	case to == PhaseSynthesizing && s.phase == PhaseBuilding:
		return fmt.Errorf("%w: network synthesis requires classified connections", ErrPhaseOrder)
	case to < s.phase:
		return fmt.Errorf("%w: cannot go back from %s to %s", ErrPhaseOrder, s.phase, to)
	}
	s.phase = to
	return nil
}

// =============================================================================
// Queue specs
// =============================================================================

// QueueSpec is an in-process queue between modules of one application.
type QueueSpec struct {
	Name     string    `json:"inst"`
	Kind     QueueKind `json:"kind"`
	Capacity int       `json:"capacity"`
	Writers  []PortRef `json:"-"`
	Readers  []PortRef `json:"-"`
}
