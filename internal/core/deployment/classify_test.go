package deployment

import (
	"testing"

	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decl(app, name, internal string, dir domain.Direction, topics ...string) EndpointDecl {
	return EndpointDecl{App: app, Endpoint: domain.NewEndpoint(name, internal, dir, topics...)}
}

// testPorts adapts a *domain.PortAllocator to the PortSource interface.
type testPorts struct {
	*domain.PortAllocator
}

func (p testPorts) NextUnassignedPort() (int, error) {
	return p.Next()
}

func newPorts() testPorts {
	return testPorts{domain.NewPortAllocator(domain.DefaultPortRange())}
}

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify_IntraAppSPSC(t *testing.T) {
	decls := []EndpointDecl{
		decl("app", "q", "a.out", domain.DirectionOut),
		decl("app", "q", "b.in", domain.DirectionIn),
	}

	result, err := Classify(decls, newPorts(), "p")
	require.NoError(t, err)

	require.Len(t, result.Queues, 1)
	assert.Empty(t, result.Connections)
	q := result.Queues[0]
	assert.Equal(t, "app", q.App)
	assert.Equal(t, domain.QueueKindSPSC, q.Queue.Kind)
	assert.Equal(t, domain.DefaultQueueCapacity, q.Queue.Capacity)
	assert.Equal(t, []domain.PortRef{{Module: "a", Port: "out"}}, q.Queue.Writers)
	assert.Equal(t, []domain.PortRef{{Module: "b", Port: "in"}}, q.Queue.Readers)
}

func TestClassify_IntraAppMPMCUsesLargestHint(t *testing.T) {
	decls := []EndpointDecl{
		decl("app", "q", "a.out", domain.DirectionOut),
		decl("app", "q", "b.out", domain.DirectionOut),
		decl("app", "q", "c.in", domain.DirectionIn),
	}
	decls[1].Endpoint.SizeHint = 50
	decls[2].Endpoint.SizeHint = 20

	result, err := Classify(decls, newPorts(), "p")
	require.NoError(t, err)

	require.Len(t, result.Queues, 1)
	assert.Equal(t, domain.QueueKindMPMC, result.Queues[0].Queue.Kind)
	assert.Equal(t, 50, result.Queues[0].Queue.Capacity)
}

func TestClassify_TopicsInsideOneAppStayQueue(t *testing.T) {
	decls := []EndpointDecl{
		decl("app", "q", "a.out", domain.DirectionOut, "t"),
		decl("app", "q", "b.in", domain.DirectionIn, "t"),
	}

	result, err := Classify(decls, newPorts(), "p")
	require.NoError(t, err)
	require.Len(t, result.Queues, 1)
	assert.Equal(t, domain.QueueKindSPSC, result.Queues[0].Queue.Kind)
}

func TestClassify_PointToPoint(t *testing.T) {
	ports := newPorts()
	decls := []EndpointDecl{
		decl("x", "metrics", "src.out", domain.DirectionOut),
		decl("y", "metrics", "dst.in", domain.DirectionIn),
	}

	result, err := Classify(decls, ports, "part")
	require.NoError(t, err)

	require.Len(t, result.Connections, 1)
	c := result.Connections[0]
	assert.Equal(t, "metrics", c.Key)
	assert.Equal(t, domain.ServicePointToPoint, c.Type)
	assert.Equal(t, domain.EndpointRef{App: "x", Endpoint: "metrics"}, c.Producer)
	assert.Equal(t, []domain.EndpointRef{{App: "y", Endpoint: "metrics"}}, c.Receivers)
	assert.Equal(t, "part.metrics", c.UID)
	assert.Equal(t, "tcp://{host_x}:12346", c.Address)
	assert.Equal(t, []string{"x"}, c.BindApps())
	assert.Equal(t, []string{"y"}, c.ConnectApps())
	assert.Equal(t, 12346, ports.Cursor())
}

func TestClassify_PointToPointSecondConsumerFails(t *testing.T) {
	decls := []EndpointDecl{
		decl("x", "metrics", "src.out", domain.DirectionOut),
		decl("y", "metrics", "dst.in", domain.DirectionIn),
		decl("z", "metrics", "dst.in", domain.DirectionIn),
	}

	_, err := Classify(decls, newPorts(), "p")

	var unsat *domain.UnsatisfiedConnectionError
	require.ErrorAs(t, err, &unsat)
	assert.Equal(t, "metrics", unsat.Name)
	assert.ErrorIs(t, err, domain.ErrUnsatisfiedConnection)
}

func TestClassify_PointToPointSecondProducerFails(t *testing.T) {
	decls := []EndpointDecl{
		decl("x", "metrics", "src.out", domain.DirectionOut),
		decl("z", "metrics", "src.out", domain.DirectionOut),
		decl("y", "metrics", "dst.in", domain.DirectionIn),
	}

	_, err := Classify(decls, newPorts(), "p")
	assert.ErrorIs(t, err, domain.ErrUnsatisfiedConnection)
}

func TestClassify_PubSubOneProducerManyConsumers(t *testing.T) {
	decls := []EndpointDecl{
		decl("p", "tpsets", "src.out", domain.DirectionOut, "TPSet"),
		decl("c1", "tpsets", "dst.in", domain.DirectionIn),
		decl("c2", "tpsets", "dst.in", domain.DirectionIn, "TPSet"),
	}

	result, err := Classify(decls, newPorts(), "part")
	require.NoError(t, err)

	require.Len(t, result.Connections, 1)
	c := result.Connections[0]
	assert.Equal(t, "tpsets.p", c.Key)
	assert.Equal(t, domain.ServicePubSub, c.Type)
	assert.Equal(t, "tcp://{host_p}:12346", c.Address)
	assert.Equal(t, []string{"TPSet"}, c.Topics)
	assert.Equal(t, []string{"c1", "c2"}, c.ConnectApps())
}

func TestClassify_PubSubManyProducers(t *testing.T) {
	decls := []EndpointDecl{
		decl("p1", "tpsets", "src.out", domain.DirectionOut, "A"),
		decl("p2", "tpsets", "src.out", domain.DirectionOut, "B"),
		decl("c", "tpsets", "dst.in", domain.DirectionIn),
	}

	result, err := Classify(decls, newPorts(), "part")
	require.NoError(t, err)

	require.Len(t, result.Connections, 2)
	assert.Equal(t, "tpsets.p1", result.Connections[0].Key)
	assert.Equal(t, "tpsets.p2", result.Connections[1].Key)
	assert.NotEqual(t, result.Connections[0].Address, result.Connections[1].Address)
	for _, c := range result.Connections {
		assert.Equal(t, []string{"A", "B"}, c.Topics)
		assert.Equal(t, []string{"c"}, c.ConnectApps())
	}
}

func TestClassify_GroupErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []EndpointDecl
	}{
		{"single member", []EndpointDecl{decl("x", "m", "a.out", domain.DirectionOut)}},
		{"no producer", []EndpointDecl{
			decl("x", "m", "a.in", domain.DirectionIn),
			decl("y", "m", "b.in", domain.DirectionIn),
		}},
		{"no consumer", []EndpointDecl{
			decl("x", "m", "a.out", domain.DirectionOut),
			decl("y", "m", "b.out", domain.DirectionOut),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.decls, newPorts(), "p")
			assert.ErrorIs(t, err, domain.ErrUnsatisfiedConnection)
		})
	}
}

func TestClassify_ConflictingMessageTypes(t *testing.T) {
	decls := []EndpointDecl{
		decl("x", "m", "a.out", domain.DirectionOut),
		decl("y", "m", "b.in", domain.DirectionIn),
	}
	decls[0].Endpoint.MsgType = "A"
	decls[1].Endpoint.MsgType = "B"

	_, err := Classify(decls, newPorts(), "p")
	assert.ErrorIs(t, err, domain.ErrUnsatisfiedConnection)
}

func TestClassify_PortsAllocatedInNameOrder(t *testing.T) {
	decls := []EndpointDecl{
		decl("x", "zeta", "a.out", domain.DirectionOut),
		decl("y", "zeta", "b.in", domain.DirectionIn),
		decl("x", "alpha", "a.out2", domain.DirectionOut),
		decl("y", "alpha", "b.in2", domain.DirectionIn),
	}

	result, err := Classify(decls, newPorts(), "p")
	require.NoError(t, err)

	require.Len(t, result.Connections, 2)
	assert.Equal(t, "alpha", result.Connections[0].Key)
	assert.Equal(t, "tcp://{host_x}:12346", result.Connections[0].Address)
	assert.Equal(t, "tcp://{host_x}:12347", result.Connections[1].Address)
}

func TestClassify_PortsExhausted(t *testing.T) {
	ports := domain.NewPortAllocator(domain.PortRange{First: 100, Last: 100})
	decls := []EndpointDecl{
		decl("x", "m", "a.out", domain.DirectionOut),
		decl("y", "m", "b.in", domain.DirectionIn),
	}

	_, err := Classify(decls, testPorts{ports}, "p")
	assert.ErrorIs(t, err, domain.ErrPortsExhausted)
}

// =============================================================================
// ClassifySystem Tests
// =============================================================================

func TestClassifySystem_RecordsConnectionsOnBothApps(t *testing.T) {
	sys := twoAppSystem(t)

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)

	require.Len(t, sys.AppConnections(), 1)
	assert.Len(t, sys.Connections("x"), 1)
	assert.Len(t, sys.Connections("y"), 1)
	assert.Equal(t, sys.Connections("x"), sys.Connections("y"))
	assert.Equal(t, domain.PhaseClassified, sys.Phase())
}

func TestClassifySystem_SkipsSingleEndpoints(t *testing.T) {
	sys := twoAppSystem(t)
	x, _ := sys.App("x")
	require.NoError(t, x.Graph.AddEndpoint(domain.NewEndpoint("lonely", "src.out2", domain.DirectionOut)))

	var sink domain.Collector
	_, err := ClassifySystem(sys, &sink)
	require.NoError(t, err)

	assert.Len(t, sys.AppConnections(), 1)
	var found bool
	for _, d := range sink.Diagnostics() {
		if d.Subject == "lonely" {
			found = true
			assert.Equal(t, domain.SeverityInfo, d.Severity)
		}
	}
	assert.True(t, found)
}

func TestClassifySystem_TwiceFails(t *testing.T) {
	sys := twoAppSystem(t)

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)

	_, err = ClassifySystem(sys, nil)
	assert.ErrorIs(t, err, domain.ErrPhaseOrder)
}
