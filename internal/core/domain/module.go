package domain

import (
	"maps"
	"slices"
)

// =============================================================================
// Queue Kinds
// =============================================================================

// QueueKind is the queue implementation a connection asks for.
type QueueKind string

const (
	// QueueKindAuto lets the command assembler pick SPSC or MPMC from the
	// number of writers and readers attached to the queue.
	QueueKindAuto  QueueKind = ""
	QueueKindSPSC  QueueKind = "FollySPSCQueue"
	QueueKindMPMC  QueueKind = "FollyMPMCQueue"
	QueueKindDeque QueueKind = "StdDeQueue"
)

// DefaultQueueCapacity is used when neither a connection nor an endpoint gives
// a size.
const DefaultQueueCapacity = 1000

// =============================================================================
// Connection
// =============================================================================

// Connection is one outgoing port of a module.
type Connection struct {
	To            *PortRef  `json:"to,omitempty"` // nil when wired outside module queues
	QueueKind     QueueKind `json:"queue_kind,omitempty"`
	QueueCapacity int       `json:"queue_capacity"`
	QueueName     string    `json:"queue_name,omitempty"`

	// Toposort marks the connection as an ordering edge. Feedback paths set it
	// to false so they do not form cycles in the start order.
	Toposort bool `json:"toposort"`
}

// NewConnection returns a connection to target with default capacity that
// takes part in ordering. An empty target yields a connection with no To.
func NewConnection(target string) Connection {
	c := Connection{QueueCapacity: DefaultQueueCapacity, Toposort: true}
	if target != "" {
		c.To = Ref(target)
	}
	return c
}

// WithoutOrdering returns a copy that does not take part in ordering.
func (c Connection) WithoutOrdering() Connection {
	c.Toposort = false
	return c
}

// WithQueue returns a copy with an explicit queue kind and capacity.
func (c Connection) WithQueue(kind QueueKind, capacity int) Connection {
	c.QueueKind = kind
	c.QueueCapacity = capacity
	return c
}

func (c Connection) clone() Connection {
	if c.To != nil {
		to := *c.To
		c.To = &to
	}
	return c
}

// =============================================================================
// Module
// =============================================================================

// Module is a unit of work inside an application. Modules are values: the
// With* methods return modified copies and never touch the receiver.
type Module struct {
	Name   string  `json:"name"`
	Plugin string  `json:"plugin"`
	Conf   Payload `json:"conf"`

	// Connections maps a local outgoing port name to its target.
	Connections map[string]Connection `json:"connections,omitempty"`

	// ExtraCommands overrides the default payload of a lifecycle phase.
	ExtraCommands map[string]Payload `json:"extra_commands,omitempty"`

	// Ports optionally lists the ports the module declares. When empty, any
	// port name is accepted on this module.
	Ports []string `json:"ports,omitempty"`
}

// NewModule creates a module with no connections.
func NewModule(name, plugin string, conf Payload) Module {
	return Module{Name: name, Plugin: plugin, Conf: conf}
}

// Clone returns a deep copy of the module.
func (m Module) Clone() Module {
	out := m
	if m.Connections != nil {
		out.Connections = make(map[string]Connection, len(m.Connections))
		for k, c := range m.Connections {
			out.Connections[k] = c.clone()
		}
	}
	out.ExtraCommands = maps.Clone(m.ExtraCommands)
	out.Ports = slices.Clone(m.Ports)
	return out
}

// WithConf returns a copy with conf replaced. Plugin and connections are kept.
func (m Module) WithConf(conf Payload) Module {
	out := m.Clone()
	out.Conf = conf
	return out
}

// WithConnection returns a copy with the given outgoing port set.
func (m Module) WithConnection(port string, c Connection) Module {
	out := m.Clone()
	if out.Connections == nil {
		out.Connections = make(map[string]Connection)
	}
	out.Connections[port] = c.clone()
	return out
}

// WithExtraCommand returns a copy overriding the payload for phase.
func (m Module) WithExtraCommand(phase string, p Payload) Module {
	out := m.Clone()
	if out.ExtraCommands == nil {
		out.ExtraCommands = make(map[string]Payload)
	}
	out.ExtraCommands[phase] = p
	return out
}

// WithPorts returns a copy declaring the given ports.
func (m Module) WithPorts(ports ...string) Module {
	out := m.Clone()
	out.Ports = slices.Clone(ports)
	return out
}

// ConnectionNames returns the outgoing port names in sorted order.
func (m Module) ConnectionNames() []string {
	return slices.Sorted(maps.Keys(m.Connections))
}

// DeclaresPort reports whether port may be referenced on this module.
func (m Module) DeclaresPort(port string) bool {
	if len(m.Ports) == 0 {
		return true
	}
	return slices.Contains(m.Ports, port)
}

// ExtraCommand returns the override for phase, if any.
func (m Module) ExtraCommand(phase string) (Payload, bool) {
	p, ok := m.ExtraCommands[phase]
	return p, ok
}
