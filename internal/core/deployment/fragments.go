package deployment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Fragment Producers
// =============================================================================

const (
	MsgTypeDataRequest = "dunedaq::dfmessages::DataRequest"
	MsgTypeFragment    = "std::unique_ptr<dunedaq::daqdataformats::Fragment>"

	MsgModuleDataRequest = "DataRequestNQ"
	MsgModuleFragment    = "FragmentNQ"
)

// FragmentWiring says where the dataflow side of fragment producers lives.
type FragmentWiring struct {
	DataflowApp   string         // application collecting fragments
	RequestModule string         // dataflow module sending data requests
	FragmentsIn   domain.PortRef // dataflow port receiving every fragment
}

// AssignFragmentQueueNames gives every producer of the system its deferred
// queue name, data_requests_{n}, numbering producers in GeoID order across
// all applications. It returns the producers with names filled in.
func AssignFragmentQueueNames(system *domain.System) ([]domain.FragmentProducer, error) {
	all, err := system.FragmentProducers()
	if err != nil {
		return nil, err
	}

	ids := slices.SortedFunc(maps.Keys(all), func(a, b domain.GeoID) int { return a.Compare(b) })
	index := make(map[domain.GeoID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	for _, app := range system.Apps() {
		for _, fp := range app.Graph.FragmentProducers() {
			if err := app.Graph.SetFragmentQueueName(fp.GeoID, FragmentQueueName(index[fp.GeoID])); err != nil {
				return nil, err
			}
		}
	}

	out := make([]domain.FragmentProducer, 0, len(ids))
	for _, id := range ids {
		fp := all[id]
		fp.QueueName = FragmentQueueName(index[id])
		out = append(out, fp)
	}
	return out, nil
}

// ConnectFragmentProducers adds the endpoints linking every fragment producer
// outside the dataflow application to the dataflow application:
//
//	producer app:  IN  data_request_<geoid> -> requests_in
//	               OUT fragments_<geoid>    -> fragments_out
//	dataflow app:  OUT data_request_<geoid> -> <request module>.<queue name>
//	               IN  fragments_<geoid>    -> fragments input
//
// The classifier then turns each pair into a point-to-point connection. Data
// requests are feedback links, so producer applications start before the
// dataflow application.
//
// Queue names are assigned first. Nothing is wired when the dataflow
// application is not part of the system.
func ConnectFragmentProducers(system *domain.System, wiring FragmentWiring) error {
	producers, err := AssignFragmentQueueNames(system)
	if err != nil {
		return err
	}
	if wiring.DataflowApp == "" || !slices.Contains(system.AppNames(), wiring.DataflowApp) {
		return nil
	}
	dataflow, err := system.App(wiring.DataflowApp)
	if err != nil {
		return err
	}

	queueNames := make(map[domain.GeoID]string, len(producers))
	for _, fp := range producers {
		queueNames[fp.GeoID] = fp.QueueName
	}

	for _, app := range system.Apps() {
		if app.Name == dataflow.Name {
			continue
		}
		for _, fp := range app.Graph.FragmentProducers() {
			if err := connectProducer(app, dataflow, fp, queueNames[fp.GeoID], wiring); err != nil {
				return err
			}
		}
	}
	return nil
}

func connectProducer(app, dataflow *domain.Application, fp domain.FragmentProducer, queueName string, wiring FragmentWiring) error {
	requests := DataRequestEndpointName(fp.GeoID)
	fragments := FragmentEndpointName(fp.GeoID)

	requestsIn := fp.RequestsIn
	fragmentsOut := fp.FragmentsOut
	add := []struct {
		app *domain.Application
		ep  domain.Endpoint
	}{
		{app, domain.Endpoint{
			ExternalName: requests, InternalName: &requestsIn, Direction: domain.DirectionIn,
			MsgType: MsgTypeDataRequest, MsgModule: MsgModuleDataRequest, Feedback: true,
		}},
		{app, domain.Endpoint{
			ExternalName: fragments, InternalName: &fragmentsOut, Direction: domain.DirectionOut,
			MsgType: MsgTypeFragment, MsgModule: MsgModuleFragment,
		}},
		{dataflow, domain.Endpoint{
			ExternalName: requests, InternalName: optionalRef(wiring.RequestModule, queueName), Direction: domain.DirectionOut,
			MsgType: MsgTypeDataRequest, MsgModule: MsgModuleDataRequest, Feedback: true,
		}},
		{dataflow, domain.Endpoint{
			ExternalName: fragments, InternalName: refOrNil(wiring.FragmentsIn), Direction: domain.DirectionIn,
			MsgType: MsgTypeFragment, MsgModule: MsgModuleFragment,
		}},
	}

	for _, a := range add {
		if err := a.app.Graph.AddEndpoint(a.ep); err != nil {
			return fmt.Errorf("connect fragment producer %s: %w", fp.GeoID.RawString(), err)
		}
	}
	return nil
}

func optionalRef(module, port string) *domain.PortRef {
	if module == "" || port == "" {
		return nil
	}
	return &domain.PortRef{Module: module, Port: port}
}

func refOrNil(ref domain.PortRef) *domain.PortRef {
	if ref.IsZero() {
		return nil
	}
	return &ref
}

// =============================================================================
// Trigger Links
// =============================================================================

// LinkBuilder produces a new conf for a module from its current conf and the
// GeoIDs of every fragment producer.
type LinkBuilder func(current domain.Payload, ids []domain.GeoID) (domain.Payload, error)

// SetTriggerLinks replaces the conf of module in app with one built from all
// GeoIDs of the system, sorted. The module keeps its plugin and connections.
func SetTriggerLinks(system *domain.System, appName, module string, build LinkBuilder) error {
	all, err := system.FragmentProducers()
	if err != nil {
		return err
	}
	app, err := system.App(appName)
	if err != nil {
		return err
	}
	m, err := app.Graph.GetModule(module)
	if err != nil {
		return err
	}

	ids := slices.SortedFunc(maps.Keys(all), func(a, b domain.GeoID) int { return a.Compare(b) })
	conf, err := build(m.Conf, ids)
	if err != nil {
		return fmt.Errorf("build links for %s.%s: %w", appName, module, err)
	}
	return app.Graph.ResetModuleConf(module, conf)
}

// ReplaceLinks is a LinkBuilder that sets the "links" key of an object conf,
// keeping every other key. An unset conf becomes {"links": [...]}.
func ReplaceLinks(current domain.Payload, ids []domain.GeoID) (domain.Payload, error) {
	obj := map[string]any{}
	if !current.IsZero() {
		if err := current.Decode(&obj); err != nil {
			return domain.Payload{}, fmt.Errorf("conf is not an object: %w", err)
		}
		if obj == nil {
			obj = map[string]any{}
		}
	}
	links := make([]domain.GeoID, len(ids))
	copy(links, ids)
	obj["links"] = links
	return domain.NewPayload(obj)
}
