package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Composite Keys
// =============================================================================

// PortRef names a port on a module, written "module.port" in descriptions.
type PortRef struct {
	Module string `json:"module"`
	Port   string `json:"port"`
}

// ParsePortRef parses a "module.port" reference. The module part is everything
// before the first dot; the port may itself contain dots.
//
// Example:
//
//	ref, _ := ParsePortRef("trb.data_requests_0")
//	// ref.Module == "trb", ref.Port == "data_requests_0"
func ParsePortRef(s string) (PortRef, error) {
	mod, port, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || mod == "" || port == "" {
		return PortRef{}, fmt.Errorf("%w: %q is not of the form module.port", ErrInvalidReference, s)
	}
	return PortRef{Module: mod, Port: port}, nil
}

// MustParsePortRef is ParsePortRef that panics on malformed input. Intended
// for tests and literals.
func MustParsePortRef(s string) PortRef {
	ref, err := ParsePortRef(s)
	if err != nil {
		panic(err)
	}
	return ref
}

// Ref returns a pointer to the parsed reference, for use in Connection.To and
// Endpoint.InternalName literals.
func Ref(s string) *PortRef {
	ref := MustParsePortRef(s)
	return &ref
}

// String returns the "module.port" form.
func (r PortRef) String() string {
	return r.Module + "." + r.Port
}

// IsZero reports whether the reference is empty.
func (r PortRef) IsZero() bool {
	return r.Module == "" && r.Port == ""
}

// EndpointRef names an endpoint of an application, written "app.endpoint".
type EndpointRef struct {
	App      string `json:"app"`
	Endpoint string `json:"endpoint"`
}

// String returns the "app.endpoint" form.
func (r EndpointRef) String() string {
	return r.App + "." + r.Endpoint
}
