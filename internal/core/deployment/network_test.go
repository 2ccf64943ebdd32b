package deployment

import (
	"testing"

	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoAppSystem builds x:src --metrics--> y:dst.
func twoAppSystem(t *testing.T) *domain.System {
	t.Helper()

	sys := domain.NewSystem("part", nil)

	xg, err := domain.NewModuleGraph(domain.NewModule("src", "Producer", domain.Payload{}))
	require.NoError(t, err)
	require.NoError(t, xg.AddEndpoint(domain.NewEndpoint("metrics", "src.out", domain.DirectionOut)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("x", "host-x", xg)))

	yg, err := domain.NewModuleGraph(domain.NewModule("dst", "Consumer", domain.Payload{}))
	require.NoError(t, err)
	require.NoError(t, yg.AddEndpoint(domain.NewEndpoint("metrics", "dst.in", domain.DirectionIn)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("y", "host-y", yg)))

	return sys
}

// =============================================================================
// ResolveEndpoint Tests
// =============================================================================

func TestResolveEndpoint(t *testing.T) {
	sys := twoAppSystem(t)
	x, _ := sys.App("x")

	e, err := ResolveEndpoint(x, "metrics", domain.DirectionOut)
	require.NoError(t, err)
	assert.Equal(t, "src.out", e.InternalName.String())

	_, err = ResolveEndpoint(x, "metrics", domain.DirectionIn)
	var unres *domain.UnresolvedEndpointError
	require.ErrorAs(t, err, &unres)
	assert.Equal(t, domain.DirectionOut, unres.Actual)

	_, err = ResolveEndpoint(x, "missing", domain.DirectionOut)
	assert.ErrorIs(t, err, domain.ErrUnresolvedEndpoint)
}

// =============================================================================
// AddNetwork Tests
// =============================================================================

func TestAddNetwork_RequiresClassification(t *testing.T) {
	sys := twoAppSystem(t)

	_, err := AddNetwork(sys, "x", nil)
	assert.ErrorIs(t, err, domain.ErrPhaseOrder)
}

func TestAddNetwork_PointToPointAdapters(t *testing.T) {
	sys := twoAppSystem(t)
	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)

	warnings, err := AddNetwork(sys, "x", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	warnings, err = AddNetwork(sys, "y", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Sender side
	x, _ := sys.App("x")
	sender, err := x.Graph.GetModule("metrics0")
	require.NoError(t, err)
	assert.Equal(t, PluginQueueToNetwork, sender.Plugin)
	assert.Empty(t, sender.Connections)

	var qton QueueToNetworkConf
	require.NoError(t, sender.Conf.Decode(&qton))
	assert.Equal(t, IPMZmqSender, qton.SenderConfig.IPMPluginType)
	assert.Equal(t, "tcp://{host_x}:12346", qton.SenderConfig.Address)
	assert.Equal(t, SerializationMsgpack, qton.SenderConfig.Stype)

	src, _ := x.Graph.GetModule("src")
	require.Contains(t, src.Connections, "out")
	assert.Equal(t, "metrics0.input", src.Connections["out"].To.String())

	// Receiver side
	y, _ := sys.App("y")
	receiver, err := y.Graph.GetModule("y_metrics0")
	require.NoError(t, err)
	assert.Equal(t, PluginNetworkToQueue, receiver.Plugin)
	require.Contains(t, receiver.Connections, "output")
	assert.Equal(t, "dst.in", receiver.Connections["output"].To.String())

	var ntoq NetworkToQueueConf
	require.NoError(t, receiver.Conf.Decode(&ntoq))
	assert.Equal(t, IPMZmqReceiver, ntoq.ReceiverConfig.IPMPluginType)
	assert.Equal(t, "y_metrics0", ntoq.ReceiverConfig.Name)
	assert.Empty(t, ntoq.ReceiverConfig.Subscriptions)
}

func TestAddNetwork_PubSubAdapters(t *testing.T) {
	sys := domain.NewSystem("part", nil)
	pg, _ := domain.NewModuleGraph(domain.NewModule("src", "P", domain.Payload{}))
	require.NoError(t, pg.AddEndpoint(domain.NewEndpoint("tp", "src.out", domain.DirectionOut, "TPSet")))
	require.NoError(t, sys.AddApplication(domain.NewApplication("p", "h", pg)))
	for _, name := range []string{"c1", "c2"} {
		cg, _ := domain.NewModuleGraph(domain.NewModule("dst", "C", domain.Payload{}))
		require.NoError(t, cg.AddEndpoint(domain.NewEndpoint("tp", "dst.in", domain.DirectionIn)))
		require.NoError(t, sys.AddApplication(domain.NewApplication(name, "h", cg)))
	}

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)
	for _, name := range sys.AppNames() {
		_, err := AddNetwork(sys, name, nil)
		require.NoError(t, err)
	}

	p, _ := sys.App("p")
	pub, err := p.Graph.GetModule("tp_p0")
	require.NoError(t, err)
	var qton QueueToNetworkConf
	require.NoError(t, pub.Conf.Decode(&qton))
	assert.Equal(t, IPMZmqPublisher, qton.SenderConfig.IPMPluginType)
	assert.Equal(t, []string{"TPSet"}, qton.SenderConfig.Topics)

	for _, name := range []string{"c1", "c2"} {
		app, _ := sys.App(name)
		sub, err := app.Graph.GetModule(name + "_tp0")
		require.NoError(t, err, name)
		var ntoq NetworkToQueueConf
		require.NoError(t, sub.Conf.Decode(&ntoq))
		assert.Equal(t, IPMZmqSubscriber, ntoq.ReceiverConfig.IPMPluginType)
		assert.Equal(t, []string{"TPSet"}, ntoq.ReceiverConfig.Subscriptions)
		assert.Equal(t, qton.SenderConfig.Address, ntoq.ReceiverConfig.Address)
	}
}

func TestAddNetwork_AdapterNameAvoidsExistingModules(t *testing.T) {
	sys := twoAppSystem(t)
	x, _ := sys.App("x")
	require.NoError(t, x.Graph.AddModule(domain.NewModule("metrics0", "Other", domain.Payload{})))

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)
	_, err = AddNetwork(sys, "x", nil)
	require.NoError(t, err)

	adapter, err := x.Graph.GetModule("metrics1")
	require.NoError(t, err)
	assert.Equal(t, PluginQueueToNetwork, adapter.Plugin)
	other, _ := x.Graph.GetModule("metrics0")
	assert.Equal(t, "Other", other.Plugin)
}

func TestAddNetwork_NoInternalNameNoAdapter(t *testing.T) {
	sys := domain.NewSystem("part", nil)
	xg, _ := domain.NewModuleGraph(domain.NewModule("src", "P", domain.Payload{}))
	require.NoError(t, xg.AddEndpoint(domain.NewEndpoint("direct", "", domain.DirectionOut)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("x", "h", xg)))
	yg, _ := domain.NewModuleGraph(domain.NewModule("dst", "C", domain.Payload{}))
	require.NoError(t, yg.AddEndpoint(domain.NewEndpoint("direct", "", domain.DirectionIn)))
	require.NoError(t, sys.AddApplication(domain.NewApplication("y", "h", yg)))

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)

	warnings, err := AddNetwork(sys, "x", nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	x, _ := sys.App("x")
	assert.Equal(t, []string{"src"}, x.Graph.ModuleNames())
	assert.Len(t, sys.Connections("x"), 1)
}

func TestAddNetwork_DanglingEndpointIsWarning(t *testing.T) {
	sys := twoAppSystem(t)
	x, _ := sys.App("x")
	require.NoError(t, x.Graph.AddEndpoint(domain.NewEndpoint("lonely", "src.aux", domain.DirectionOut)))

	_, err := ClassifySystem(sys, nil)
	require.NoError(t, err)

	var sink domain.Collector
	warnings, err := AddNetwork(sys, "x", &sink)
	require.NoError(t, err)

	require.Len(t, warnings, 1)
	assert.Equal(t, domain.SeverityWarning, warnings[0].Severity)
	assert.Equal(t, "lonely", warnings[0].Subject)
	assert.Equal(t, "x", warnings[0].App)
	assert.Equal(t, warnings, sink.Warnings())
}
