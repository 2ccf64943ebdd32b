package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Module Tests
// =============================================================================

func TestModule_WithConf_LeavesOriginalUntouched(t *testing.T) {
	orig := NewModule("trb", "TriggerRecordBuilder", MustPayload(map[string]int{"timeout": 10})).
		WithConnection("trigger_record_output_queue", NewConnection("dwr.trigger_record_input_queue"))

	updated := orig.WithConf(MustPayload(map[string]int{"timeout": 20}))

	assert.JSONEq(t, `{"timeout":10}`, orig.Conf.String())
	assert.JSONEq(t, `{"timeout":20}`, updated.Conf.String())
	assert.Equal(t, orig.Plugin, updated.Plugin)
	assert.Equal(t, orig.Connections, updated.Connections)
}

func TestModule_WithConnection_DoesNotAlias(t *testing.T) {
	orig := NewModule("a", "P", Payload{})
	withConn := orig.WithConnection("out", NewConnection("b.in"))

	assert.Empty(t, orig.Connections)
	require.Contains(t, withConn.Connections, "out")

	clone := withConn.Clone()
	clone.Connections["out"].To.Port = "changed"
	assert.Equal(t, "in", withConn.Connections["out"].To.Port)
}

func TestNewConnection_Defaults(t *testing.T) {
	c := NewConnection("back.in")

	require.NotNil(t, c.To)
	assert.Equal(t, PortRef{Module: "back", Port: "in"}, *c.To)
	assert.Equal(t, DefaultQueueCapacity, c.QueueCapacity)
	assert.True(t, c.Toposort)
	assert.False(t, c.WithoutOrdering().Toposort)
	assert.Nil(t, NewConnection("").To)
}

// =============================================================================
// ModuleGraph Tests
// =============================================================================

func TestModuleGraph_AddModule_Duplicate(t *testing.T) {
	g, err := NewModuleGraph(NewModule("front", "P", Payload{}))
	require.NoError(t, err)

	err = g.AddModule(NewModule("front", "Q", Payload{}))

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "module", dup.Scope)
	assert.Equal(t, "front", dup.Key)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestModuleGraph_AddEndpoint_Duplicate(t *testing.T) {
	g, _ := NewModuleGraph()
	require.NoError(t, g.AddEndpoint(NewEndpoint("metrics", "", DirectionOut)))

	err := g.AddEndpoint(NewEndpoint("metrics", "", DirectionIn))
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestModuleGraph_RejectsDottedNames(t *testing.T) {
	g, err := NewModuleGraph()
	require.NoError(t, err)

	assert.ErrorIs(t, g.AddModule(NewModule("a.b", "P", Payload{})), ErrInvalidName)
	assert.False(t, g.HasModule("a.b"))

	err = g.AddEndpoint(NewEndpoint("metrics.x", "a.out", DirectionOut))
	assert.ErrorIs(t, err, ErrInvalidName)
	_, ok := g.Endpoint("metrics.x")
	assert.False(t, ok)
}

func TestModuleGraph_AddEndpoint_InvalidDirection(t *testing.T) {
	g, _ := NewModuleGraph()
	err := g.AddEndpoint(Endpoint{ExternalName: "x"})
	assert.Error(t, err)
}

func TestModuleGraph_AddFragmentProducer_DuplicateGeoID(t *testing.T) {
	g, _ := NewModuleGraph()
	id := GeoID{System: 1, Region: 0, Element: 0}

	require.NoError(t, g.AddFragmentProducer(FragmentProducer{GeoID: id}))
	err := g.AddFragmentProducer(FragmentProducer{GeoID: id})

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "geoid", dup.Scope)
}

func TestModuleGraph_ResetModuleConf(t *testing.T) {
	g, _ := NewModuleGraph(
		NewModule("a", "P", MustPayload("old")).WithConnection("out", NewConnection("b.in")),
		NewModule("b", "Q", Payload{}),
	)

	require.NoError(t, g.ResetModuleConf("a", MustPayload("new")))

	m, err := g.GetModule("a")
	require.NoError(t, err)
	assert.Equal(t, `"new"`, m.Conf.String())
	assert.Equal(t, "P", m.Plugin)
	assert.Contains(t, m.Connections, "out")

	assert.ErrorIs(t, g.ResetModuleConf("missing", Payload{}), ErrNotFound)
}

func TestModuleGraph_GetModule_ReturnsCopy(t *testing.T) {
	g, _ := NewModuleGraph(NewModule("a", "P", Payload{}).WithConnection("out", NewConnection("a.in")))

	m, _ := g.GetModule("a")
	m.Connections["extra"] = NewConnection("a.x")

	again, _ := g.GetModule("a")
	assert.NotContains(t, again.Connections, "extra")
}

func TestModuleGraph_Endpoints_Sorted(t *testing.T) {
	g, _ := NewModuleGraph()
	require.NoError(t, g.AddEndpoint(NewEndpoint("zeta", "", DirectionIn)))
	require.NoError(t, g.AddEndpoint(NewEndpoint("alpha", "", DirectionOut)))

	eps := g.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "alpha", eps[0].ExternalName)
	assert.Equal(t, "zeta", eps[1].ExternalName)
}

func TestModuleGraph_FragmentProducers_SortedByGeoID(t *testing.T) {
	g, _ := NewModuleGraph()
	require.NoError(t, g.AddFragmentProducer(FragmentProducer{GeoID: GeoID{System: 1, Region: 1, Element: 0}}))
	require.NoError(t, g.AddFragmentProducer(FragmentProducer{GeoID: GeoID{System: 1, Region: 0, Element: 5}}))

	fps := g.FragmentProducers()
	require.Len(t, fps, 2)
	assert.Equal(t, 0, fps[0].GeoID.Region)
	assert.Equal(t, 1, fps[1].GeoID.Region)
}

// -----------------------------------------------------------------------------
// Validate
// -----------------------------------------------------------------------------

func TestModuleGraph_Validate_UnknownConnectionTarget(t *testing.T) {
	g, _ := NewModuleGraph(
		NewModule("front", "P", Payload{}).WithConnection("out", NewConnection("ghost.in")),
	)

	err := g.Validate("app")

	var ref *UnknownModuleReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "ghost", ref.Target)
	assert.Equal(t, []string{"front"}, ref.Known)
}

func TestModuleGraph_Validate_UnknownEndpointTarget(t *testing.T) {
	g, _ := NewModuleGraph(NewModule("front", "P", Payload{}))
	require.NoError(t, g.AddEndpoint(NewEndpoint("metrics", "ghost.out", DirectionOut)))

	assert.ErrorIs(t, g.Validate("app"), ErrUnknownModuleReference)
}

func TestModuleGraph_Validate_UndeclaredPort(t *testing.T) {
	g, _ := NewModuleGraph(
		NewModule("front", "P", Payload{}).WithConnection("out", NewConnection("back.nope")),
		NewModule("back", "Q", Payload{}).WithPorts("in"),
	)

	err := g.Validate("app")

	var ref *UnknownModuleReferenceError
	require.ErrorAs(t, err, &ref)
	assert.Equal(t, "nope", ref.Port)
}

func TestModuleGraph_Validate_OK(t *testing.T) {
	g, _ := NewModuleGraph(
		NewModule("front", "P", Payload{}).WithConnection("out", NewConnection("back.in")),
		NewModule("back", "Q", Payload{}).WithPorts("in", "out"),
	)
	require.NoError(t, g.AddEndpoint(NewEndpoint("metrics", "back.out", DirectionOut)))
	require.NoError(t, g.AddEndpoint(NewEndpoint("direct", "", DirectionIn)))

	assert.NoError(t, g.Validate("app"))
}
