package deployment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Adapter Plugins
// =============================================================================

const (
	PluginQueueToNetwork = "QueueToNetwork"
	PluginNetworkToQueue = "NetworkToQueue"

	IPMZmqSender     = "ZmqSender"
	IPMZmqReceiver   = "ZmqReceiver"
	IPMZmqPublisher  = "ZmqPublisher"
	IPMZmqSubscriber = "ZmqSubscriber"

	// SerializationMsgpack is the wire encoding adapters are configured with.
	SerializationMsgpack = "msgpack"

	adapterInputPort  = "input"
	adapterOutputPort = "output"
)

// QueueToNetworkConf configures a sending adapter.
type QueueToNetworkConf struct {
	MsgType       string       `json:"msg_type"`
	MsgModuleName string       `json:"msg_module_name"`
	SenderConfig  SenderConfig `json:"sender_config"`
}

// SenderConfig is the transport part of QueueToNetworkConf.
type SenderConfig struct {
	IPMPluginType string   `json:"ipm_plugin_type"`
	Address       string   `json:"address"`
	Topics        []string `json:"topics,omitempty"`
	Stype         string   `json:"stype"`
}

// NetworkToQueueConf configures a receiving adapter.
type NetworkToQueueConf struct {
	MsgType        string         `json:"msg_type"`
	MsgModuleName  string         `json:"msg_module_name"`
	ReceiverConfig ReceiverConfig `json:"receiver_config"`
}

// ReceiverConfig is the transport part of NetworkToQueueConf.
type ReceiverConfig struct {
	Name          string   `json:"name"`
	IPMPluginType string   `json:"ipm_plugin_type"`
	Address       string   `json:"address"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// =============================================================================
// Network Synthesis
// =============================================================================

// ResolveEndpoint looks up the external name on app and checks its direction.
func ResolveEndpoint(app *domain.Application, name string, dir domain.Direction) (domain.Endpoint, error) {
	e, ok := app.Graph.Endpoint(name)
	if !ok {
		return domain.Endpoint{}, &domain.UnresolvedEndpointError{App: app.Name, Endpoint: name, Requested: dir}
	}
	if e.Direction != dir {
		return domain.Endpoint{}, &domain.UnresolvedEndpointError{
			App:       app.Name,
			Endpoint:  name,
			Requested: dir,
			Actual:    e.Direction,
		}
	}
	return e, nil
}

// AddNetwork inserts the adapter modules app needs for the classified
// connections of system. For each connection app produces on, a
// QueueToNetwork adapter is added and the producing module port is rewired
// to the adapter input. For each connection app consumes from, a
// NetworkToQueue adapter is added with its output wired to the endpoint's
// internal port. Endpoints with no internal port get no adapter.
//
// Endpoints of app left unconnected afterwards are returned as warnings and
// reported to sink. They do not fail the call.
func AddNetwork(system *domain.System, appName string, sink domain.Sink) ([]domain.Diagnostic, error) {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if err := system.Advance(domain.PhaseSynthesizing); err != nil {
		return nil, err
	}
	app, err := system.App(appName)
	if err != nil {
		return nil, err
	}

	s := &synthesizer{app: app, names: app.Graph.ModuleNames(), sink: sink}
	s.unconnected = make(map[string]bool)
	for _, e := range app.Graph.Endpoints() {
		s.unconnected[e.ExternalName] = true
	}
	for _, q := range system.Queues(appName) {
		delete(s.unconnected, q.Name)
	}

	for _, c := range system.AppConnections() {
		if c.Producer.App == appName {
			if err := s.addSender(c); err != nil {
				return nil, err
			}
		}
		for _, r := range c.Receivers {
			if r.App != appName {
				continue
			}
			if err := s.addReceiver(c, r); err != nil {
				return nil, err
			}
		}
	}

	var warnings []domain.Diagnostic
	for _, name := range slices.Sorted(maps.Keys(s.unconnected)) {
		d := domain.Diagnostic{
			Severity: domain.SeverityWarning,
			Phase:    "network",
			App:      appName,
			Subject:  name,
			Message:  "endpoint is not connected to anything",
		}
		sink.Report(d)
		warnings = append(warnings, d)
	}
	return warnings, nil
}

type synthesizer struct {
	app         *domain.Application
	names       []string
	unconnected map[string]bool
	sink        domain.Sink
}

func (s *synthesizer) addSender(c domain.AppConnection) error {
	delete(s.unconnected, c.Producer.Endpoint)
	e, err := ResolveEndpoint(s.app, c.Producer.Endpoint, domain.DirectionOut)
	if err != nil {
		return err
	}
	if e.InternalName == nil {
		return nil
	}

	ipm := IPMZmqSender
	if c.Type == domain.ServicePubSub {
		ipm = IPMZmqPublisher
	}
	conf, err := domain.NewPayload(QueueToNetworkConf{
		MsgType:       c.MsgType,
		MsgModuleName: c.MsgModule,
		SenderConfig: SenderConfig{
			IPMPluginType: ipm,
			Address:       c.Address,
			Topics:        c.Topics,
			Stype:         SerializationMsgpack,
		},
	})
	if err != nil {
		return err
	}

	name := MakeUniqueName(AdapterBaseName(c.Key), s.names)
	adapter := domain.NewModule(name, PluginQueueToNetwork, conf).WithPorts(adapterInputPort)
	if err := s.add(adapter); err != nil {
		return err
	}

	from := *e.InternalName
	producer, err := s.app.Graph.GetModule(from.Module)
	if err != nil {
		return err
	}
	conn := domain.NewConnection(name + "." + adapterInputPort)
	if prev, ok := producer.Connections[from.Port]; ok {
		conn.QueueKind, conn.QueueCapacity, conn.Toposort = prev.QueueKind, prev.QueueCapacity, prev.Toposort
	}
	if err := s.app.Graph.ReplaceModule(producer.WithConnection(from.Port, conn)); err != nil {
		return err
	}

	s.sink.Report(domain.Diagnostic{
		Severity: domain.SeverityInfo,
		Phase:    "network",
		App:      s.app.Name,
		Subject:  name,
		Message:  fmt.Sprintf("added %s for %s connected to %s", PluginQueueToNetwork, c.Key, from),
	})
	return nil
}

func (s *synthesizer) addReceiver(c domain.AppConnection, r domain.EndpointRef) error {
	delete(s.unconnected, r.Endpoint)
	e, err := ResolveEndpoint(s.app, r.Endpoint, domain.DirectionIn)
	if err != nil {
		return err
	}
	if e.InternalName == nil {
		return nil
	}

	name := MakeUniqueName(AdapterBaseName(r.String()), s.names)
	rc := ReceiverConfig{Name: name, IPMPluginType: IPMZmqReceiver, Address: c.Address}
	if c.Type == domain.ServicePubSub {
		rc.IPMPluginType = IPMZmqSubscriber
		rc.Subscriptions = c.Topics
	}
	conf, err := domain.NewPayload(NetworkToQueueConf{
		MsgType:        c.MsgType,
		MsgModuleName:  c.MsgModule,
		ReceiverConfig: rc,
	})
	if err != nil {
		return err
	}

	to := *e.InternalName
	adapter := domain.NewModule(name, PluginNetworkToQueue, conf).
		WithPorts(adapterOutputPort).
		WithConnection(adapterOutputPort, domain.NewConnection(to.String()))
	if err := s.add(adapter); err != nil {
		return err
	}

	s.sink.Report(domain.Diagnostic{
		Severity: domain.SeverityInfo,
		Phase:    "network",
		App:      s.app.Name,
		Subject:  name,
		Message:  fmt.Sprintf("added %s for %s connected to %s", PluginNetworkToQueue, c.Key, to),
	})
	return nil
}

func (s *synthesizer) add(m domain.Module) error {
	if err := s.app.Graph.AddModule(m); err != nil {
		return err
	}
	s.names = append(s.names, m.Name)
	return nil
}
