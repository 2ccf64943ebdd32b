package deployment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Connection Classification
// =============================================================================

// EndpointDecl is one endpoint together with the application declaring it.
type EndpointDecl struct {
	App      string
	Endpoint domain.Endpoint
}

// Ref returns the "app.endpoint" key of the declaration.
func (d EndpointDecl) Ref() domain.EndpointRef {
	return domain.EndpointRef{App: d.App, Endpoint: d.Endpoint.ExternalName}
}

// PortSource hands out network ports. *domain.System implements it.
type PortSource interface {
	NextUnassignedPort() (int, error)
}

// AppQueue is an in-process queue resolved for one application.
type AppQueue struct {
	App   string
	Queue domain.QueueSpec
}

// Classification is the transport decision for every endpoint group.
type Classification struct {
	Queues      []AppQueue
	Connections []domain.AppConnection
}

// Classify groups decls by external name and decides, per group, between an
// in-process queue, a point-to-point link and publish/subscribe links.
//
// Groups are visited in sorted name order, so ports are allocated in the same
// order on every run. Rules per group:
//  1. fewer than two members, no producer or no consumer is an error
//  2. all members in one application: in-process queue, SPSC for exactly one
//     producer and one consumer, MPMC otherwise, sized by the largest hint
//  3. no topics: point-to-point, bound by the single producer, one consumer
//  4. topics: one publish/subscribe link per producing application, every
//     consumer subscribed to every producer with the union of topics
func Classify(decls []EndpointDecl, ports PortSource, partition string) (*Classification, error) {
	groups := make(map[string][]EndpointDecl)
	for _, d := range decls {
		name := d.Endpoint.ExternalName
		groups[name] = append(groups[name], d)
	}

	result := &Classification{}
	for _, name := range slices.Sorted(maps.Keys(groups)) {
		if err := classifyGroup(result, name, groups[name], ports, partition); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func classifyGroup(result *Classification, name string, members []EndpointDecl, ports PortSource, partition string) error {
	if len(members) < 2 {
		return &domain.UnsatisfiedConnectionError{Name: name, Reason: "only one endpoint declares this name"}
	}

	var producers, consumers []EndpointDecl
	for _, m := range members {
		if m.Endpoint.Direction == domain.DirectionOut {
			producers = append(producers, m)
		} else {
			consumers = append(consumers, m)
		}
	}
	if len(producers) == 0 {
		return &domain.UnsatisfiedConnectionError{Name: name, Reason: "no producing endpoint"}
	}
	if len(consumers) == 0 {
		return &domain.UnsatisfiedConnectionError{Name: name, Reason: "no consuming endpoint"}
	}

	msgType, msgModule, err := messageInfo(name, members)
	if err != nil {
		return err
	}
	feedback := slices.ContainsFunc(members, func(m EndpointDecl) bool { return m.Endpoint.Feedback })

	if app, ok := singleApp(members); ok {
		result.Queues = append(result.Queues, AppQueue{App: app, Queue: groupQueue(name, producers, consumers)})
		return nil
	}

	topics := topicUnion(members)
	receivers := make([]domain.EndpointRef, 0, len(consumers))
	for _, c := range consumers {
		receivers = append(receivers, c.Ref())
	}

	if len(topics) == 0 {
		if len(consumers) > 1 {
			return &domain.UnsatisfiedConnectionError{
				Name:   name,
				Reason: fmt.Sprintf("point-to-point connection has %d consumers, only one is supported", len(consumers)),
			}
		}
		if len(producers) > 1 {
			return &domain.UnsatisfiedConnectionError{
				Name:   name,
				Reason: fmt.Sprintf("point-to-point connection has %d producers, only one is supported", len(producers)),
			}
		}

		producer := producers[0]
		port, err := ports.NextUnassignedPort()
		if err != nil {
			return err
		}
		result.Connections = append(result.Connections, domain.AppConnection{
			Key:       name,
			Name:      name,
			Type:      domain.ServicePointToPoint,
			Producer:  producer.Ref(),
			Receivers: receivers,
			MsgType:   msgType,
			MsgModule: msgModule,
			Feedback:  feedback,
			UID:       ConnectionUID(partition, name),
			Address:   TCPAddress(producer.App, port),
		})
		return nil
	}

	for _, producer := range producers {
		port, err := ports.NextUnassignedPort()
		if err != nil {
			return err
		}
		key := PubSubKey(name, producer.App)
		result.Connections = append(result.Connections, domain.AppConnection{
			Key:       key,
			Name:      name,
			Type:      domain.ServicePubSub,
			Producer:  producer.Ref(),
			Receivers: slices.Clone(receivers),
			MsgType:   msgType,
			MsgModule: msgModule,
			Topics:    slices.Clone(topics),
			Feedback:  feedback,
			UID:       ConnectionUID(partition, key),
			Address:   TCPAddress(producer.App, port),
		})
	}
	return nil
}

func singleApp(members []EndpointDecl) (string, bool) {
	app := members[0].App
	for _, m := range members[1:] {
		if m.App != app {
			return "", false
		}
	}
	return app, true
}

func groupQueue(name string, producers, consumers []EndpointDecl) domain.QueueSpec {
	kind := domain.QueueKindMPMC
	if len(producers) == 1 && len(consumers) == 1 {
		kind = domain.QueueKindSPSC
	}

	capacity := 0
	for _, m := range slices.Concat(producers, consumers) {
		capacity = max(capacity, m.Endpoint.SizeHint)
	}
	if capacity == 0 {
		capacity = domain.DefaultQueueCapacity
	}

	q := domain.QueueSpec{Name: name, Kind: kind, Capacity: capacity}
	for _, p := range producers {
		if p.Endpoint.InternalName != nil {
			q.Writers = append(q.Writers, *p.Endpoint.InternalName)
		}
	}
	for _, c := range consumers {
		if c.Endpoint.InternalName != nil {
			q.Readers = append(q.Readers, *c.Endpoint.InternalName)
		}
	}
	return q
}

func topicUnion(members []EndpointDecl) []string {
	var topics []string
	for _, m := range members {
		topics = append(topics, m.Endpoint.Topics...)
	}
	slices.Sort(topics)
	return slices.Compact(topics)
}

func messageInfo(name string, members []EndpointDecl) (msgType, msgModule string, err error) {
	for _, m := range members {
		if t := m.Endpoint.MsgType; t != "" {
			if msgType != "" && msgType != t {
				return "", "", &domain.UnsatisfiedConnectionError{
					Name:   name,
					Reason: fmt.Sprintf("conflicting message types %q and %q", msgType, t),
				}
			}
			msgType = t
		}
		if msgModule == "" {
			msgModule = m.Endpoint.MsgModule
		}
	}
	return msgType, msgModule, nil
}

// =============================================================================
// System Classification
// =============================================================================

// ClassifySystem classifies every endpoint of system and records the result on
// it: intra-application queues, AppConnections, and a NetworkConnection for
// each application on either side of a link. Names declared by a single
// endpoint are skipped here and surface later as dangling endpoints.
//
// The system must not have been classified before.
func ClassifySystem(system *domain.System, sink domain.Sink) (*Classification, error) {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if system.Phase() != domain.PhaseBuilding {
		return nil, fmt.Errorf("%w: system is already %s", domain.ErrPhaseOrder, system.Phase())
	}

	count := make(map[string]int)
	var decls []EndpointDecl
	for _, app := range system.Apps() {
		for _, e := range app.Graph.Endpoints() {
			decls = append(decls, EndpointDecl{App: app.Name, Endpoint: e})
			count[e.ExternalName]++
		}
	}

	var grouped []EndpointDecl
	for _, d := range decls {
		if count[d.Endpoint.ExternalName] < 2 {
			sink.Report(domain.Diagnostic{
				Severity: domain.SeverityInfo,
				Phase:    "classify",
				App:      d.App,
				Subject:  d.Endpoint.ExternalName,
				Message:  "endpoint has no peer in any application",
			})
			continue
		}
		grouped = append(grouped, d)
	}

	result, err := Classify(grouped, system, system.Partition)
	if err != nil {
		return nil, err
	}

	for _, q := range result.Queues {
		system.AddQueue(q.App, q.Queue)
	}
	for _, c := range result.Connections {
		if err := system.AddAppConnection(c); err != nil {
			return nil, err
		}
		nc := domain.NetworkConnection{UID: c.UID, ServiceType: c.Type, URI: c.Address, Topics: c.Topics}
		apps := append([]string{c.Producer.App}, c.ConnectApps()...)
		for _, app := range sortedUnique(apps) {
			if err := system.AddConnection(app, nc); err != nil {
				return nil, err
			}
		}
		sink.Report(domain.Diagnostic{
			Severity: domain.SeverityInfo,
			Phase:    "classify",
			App:      c.Producer.App,
			Subject:  c.Key,
			Message:  fmt.Sprintf("%s connection bound at %s", c.Type, c.Address),
		})
	}

	if err := system.Advance(domain.PhaseClassified); err != nil {
		return nil, err
	}
	return result, nil
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
