package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Direction says whether an endpoint consumes (IN) or produces (OUT) data.
type Direction int

const (
	DirectionIn Direction = iota + 1
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection accepts "in"/"out" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return DirectionIn, nil
	case "OUT":
		return DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction %q, expected IN or OUT", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Endpoint is a named connection point an application exposes to others.
type Endpoint struct {
	ExternalName string `json:"external_name"`

	// InternalName is the module port behind the endpoint. Nil means the link
	// is handled by a module that talks to the network itself.
	InternalName *PortRef `json:"internal_name,omitempty"`

	Direction Direction `json:"direction"`
	Topics    []string  `json:"topics,omitempty"`
	SizeHint  int       `json:"size_hint,omitempty"`
	MsgType   string    `json:"msg_type,omitempty"`
	MsgModule string    `json:"msg_module_name,omitempty"`

	// Feedback marks a link that flows against the start order, such as a
	// request path. It adds no application dependency.
	Feedback bool `json:"feedback,omitempty"`
}

// NewEndpoint creates an endpoint. An empty internal name yields a nil
// InternalName.
func NewEndpoint(external, internal string, dir Direction, topics ...string) Endpoint {
	e := Endpoint{ExternalName: external, Direction: dir, Topics: slices.Clone(topics)}
	if internal != "" {
		e.InternalName = Ref(internal)
	}
	return e
}

// HasTopics reports whether the endpoint uses publish/subscribe.
func (e Endpoint) HasTopics() bool {
	return len(e.Topics) > 0
}

// Clone returns a deep copy.
func (e Endpoint) Clone() Endpoint {
	out := e
	if e.InternalName != nil {
		in := *e.InternalName
		out.InternalName = &in
	}
	out.Topics = slices.Clone(e.Topics)
	return out
}
