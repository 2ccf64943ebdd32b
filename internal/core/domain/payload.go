package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is an opaque configuration or command value. The bytes are JSON and
// are copied on construction and on read, so a Payload can be shared freely.
// The compiler never looks inside a Payload beyond checking that it is set.
type Payload struct {
	raw []byte
}

// NewPayload marshals v into a Payload.
func NewPayload(v any) (Payload, error) {
	if p, ok := v.(Payload); ok {
		return p, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{raw: data}, nil
}

// MustPayload is NewPayload that panics on failure.
func MustPayload(v any) Payload {
	p, err := NewPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

// RawPayload wraps already encoded JSON. The input must be valid JSON.
func RawPayload(data []byte) (Payload, error) {
	if !json.Valid(data) {
		return Payload{}, fmt.Errorf("raw payload is not valid JSON")
	}
	return Payload{raw: bytes.Clone(data)}, nil
}

// IsZero reports whether the payload holds no value.
func (p Payload) IsZero() bool {
	return len(p.raw) == 0
}

// Bytes returns a copy of the encoded value.
func (p Payload) Bytes() []byte {
	return bytes.Clone(p.raw)
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if p.IsZero() {
		return fmt.Errorf("decode empty payload")
	}
	return json.Unmarshal(p.raw, v)
}

// Equal compares the encoded form.
func (p Payload) Equal(other Payload) bool {
	return bytes.Equal(p.raw, other.raw)
}

// MarshalJSON emits the wrapped value unchanged, or null when unset.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte("null"), nil
	}
	return bytes.Clone(p.raw), nil
}

// UnmarshalJSON stores a copy of data.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.raw = nil
		return nil
	}
	p.raw = bytes.Clone(data)
	return nil
}

func (p Payload) String() string {
	if p.IsZero() {
		return "null"
	}
	return string(p.raw)
}
