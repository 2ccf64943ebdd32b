package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Compile Errors
// =============================================================================

var (
	// ErrDuplicateKey is returned when a module name, endpoint external name,
	// GeoID, application name or connection uid collides within its scope.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnresolvedEndpoint is returned when an external endpoint name does not
	// exist, or exists with the other direction.
	ErrUnresolvedEndpoint = errors.New("unresolved endpoint")

	// ErrUnsatisfiedConnection is returned when an endpoint group cannot be
	// turned into a queue or a network connection.
	ErrUnsatisfiedConnection = errors.New("unsatisfied connection")

	// ErrCyclicDependency is returned when a dependency graph has no
	// topological order.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrUnknownModuleReference is returned when a connection or endpoint
	// targets a module that is not part of the graph.
	ErrUnknownModuleReference = errors.New("unknown module reference")

	// ErrInvalidReference is returned when a "module.port" string is malformed.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrPhaseOrder is returned when compiler phases run out of order.
	ErrPhaseOrder = errors.New("compiler phase out of order")

	// ErrPortsExhausted is returned when the port allocator has run past its
	// upper bound.
	ErrPortsExhausted = errors.New("no ports left to allocate")

	// ErrInvalidOrder is returned when an application order override does not
	// list every application exactly once.
	ErrInvalidOrder = errors.New("invalid application order")

	// ErrInvalidName is returned for module and endpoint names containing
	// the "." separator.
	ErrInvalidName = errors.New("invalid name")

	// ErrNotFound is returned by lookups of modules and applications.
	ErrNotFound = errors.New("not found")
)

// DuplicateKeyError reports a key collision within an owning scope.
type DuplicateKeyError struct {
	Scope string // e.g. "module", "endpoint", "geoid", "application"
	Owner string // owning application or graph, may be empty
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("%s %q already exists in %s", e.Scope, e.Key, e.Owner)
	}
	return fmt.Sprintf("%s %q already exists", e.Scope, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// UnresolvedEndpointError reports a failed endpoint lookup.
type UnresolvedEndpointError struct {
	App       string
	Endpoint  string
	Requested Direction
	Actual    Direction // zero when the endpoint does not exist
}

func (e *UnresolvedEndpointError) Error() string {
	if e.Actual == 0 {
		return fmt.Sprintf("endpoint %s.%s not found", e.App, e.Endpoint)
	}
	return fmt.Sprintf("endpoint %s.%s has direction %s, but requested direction was %s",
		e.App, e.Endpoint, e.Actual, e.Requested)
}

func (e *UnresolvedEndpointError) Unwrap() error {
	return ErrUnresolvedEndpoint
}

// UnsatisfiedConnectionError reports an endpoint group that cannot be wired.
type UnsatisfiedConnectionError struct {
	Name   string
	Reason string
}

func (e *UnsatisfiedConnectionError) Error() string {
	return fmt.Sprintf("connection %q: %s", e.Name, e.Reason)
}

func (e *UnsatisfiedConnectionError) Unwrap() error {
	return ErrUnsatisfiedConnection
}

// CyclicDependencyError reports the nodes taking part in a dependency cycle.
type CyclicDependencyError struct {
	Scope string // "module" or "application"
	Owner string
	Nodes []string
}

func (e *CyclicDependencyError) Error() string {
	where := ""
	if e.Owner != "" {
		where = " in " + e.Owner
	}
	return fmt.Sprintf("%s dependency cycle%s between: %s", e.Scope, where, strings.Join(e.Nodes, ", "))
}

func (e *CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}

// UnknownModuleReferenceError reports a reference to a module outside the graph,
// or to a port the target module does not declare.
type UnknownModuleReferenceError struct {
	Owner  string // application or graph name
	From   string // what holds the reference, e.g. "module front" or "endpoint metrics"
	Target string
	Port   string // set when the module exists but the port is not declared
	Known  []string
}

func (e *UnknownModuleReferenceError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s references undeclared port %q of module %q in %s (declared ports: %s)",
			e.From, e.Port, e.Target, e.Owner, strings.Join(e.Known, ", "))
	}
	return fmt.Sprintf("%s references unknown module %q in %s (available modules: %s)",
		e.From, e.Target, e.Owner, strings.Join(e.Known, ", "))
}

func (e *UnknownModuleReferenceError) Unwrap() error {
	return ErrUnknownModuleReference
}
