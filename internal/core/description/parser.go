package description

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// Options controls parsing.
type Options struct {
	// Variables fill ${VAR} and ${VAR:-default} placeholders before the YAML
	// is decoded.
	Variables map[string]string

	// Ports overrides the port range of the description when set.
	Ports *domain.PortRange
}

// =============================================================================
// Parser Functions
// =============================================================================

// Parse parses a YAML system description into a Description.
// This is a pure function - no I/O, no side effects.
//
// Example:
//
//	partition: ${PARTITION:-test}
//	applications:
//	  - name: app
//	    host: ${APP_HOST:-localhost}
//	    modules:
//	      - name: front
//	        plugin: Producer
//	        connections:
//	          out: back.in
//	      - name: back
//	        plugin: Consumer
func Parse(content string, opts Options) (*Description, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}

	content = SubstituteVariables(content, opts.Variables)

	var doc document
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}
	if len(doc.Applications) == 0 {
		return nil, NewParseError("applications", "at least one application is required", ErrNoApplications)
	}

	rng := domain.DefaultPortRange()
	if doc.Ports != nil {
		rng = domain.PortRange{First: doc.Ports.First, Last: doc.Ports.Last}
	}
	if opts.Ports != nil {
		rng = *opts.Ports
	}
	if err := validatePortRange(rng); err != nil {
		return nil, err
	}

	system := domain.NewSystem(doc.Partition, domain.NewPortAllocator(rng))
	for i, a := range doc.Applications {
		app, err := convertApplication(fmt.Sprintf("applications[%d]", i), a)
		if err != nil {
			return nil, err
		}
		if err := system.AddApplication(app); err != nil {
			return nil, NewParseError(fmt.Sprintf("applications[%d].name", i), err.Error(), err)
		}
	}

	desc := &Description{System: system}

	if df := doc.Dataflow; df != nil {
		wiring, err := convertDataflow(*df)
		if err != nil {
			return nil, err
		}
		desc.Fragments = &wiring
	}

	if tr := doc.Trigger; tr != nil {
		if tr.App == "" || tr.Module == "" {
			return nil, NewParseError("trigger", "app and module are required", ErrMissingField)
		}
		desc.Trigger = &deployment.TriggerLinks{App: tr.App, Module: tr.Module}
	}

	return desc, nil
}

func validatePortRange(rng domain.PortRange) error {
	if rng.First < 0 || rng.First > 65535 {
		return NewParseError("ports.first", fmt.Sprintf("port %d out of range", rng.First), ErrInvalidValue)
	}
	if rng.Last > 65535 {
		return NewParseError("ports.last", fmt.Sprintf("port %d out of range", rng.Last), ErrInvalidValue)
	}
	if rng.Last != 0 && rng.Last <= rng.First {
		return NewParseError("ports.last", "must be greater than ports.first", ErrInvalidValue)
	}
	return nil
}

// convertApplication converts one application entry
func convertApplication(field string, a applicationDoc) (*domain.Application, error) {
	if a.Name == "" {
		return nil, NewParseError(field+".name", "application name is required", ErrMissingField)
	}

	graph, err := domain.NewModuleGraph()
	if err != nil {
		return nil, err
	}

	for i, m := range a.Modules {
		mfield := fmt.Sprintf("%s.modules[%d]", field, i)
		module, err := convertModule(mfield, m)
		if err != nil {
			return nil, err
		}
		if err := graph.AddModule(module); err != nil {
			return nil, NewParseError(mfield+".name", err.Error(), err)
		}
	}

	for i, e := range a.Endpoints {
		efield := fmt.Sprintf("%s.endpoints[%d]", field, i)
		endpoint, err := convertEndpoint(efield, e)
		if err != nil {
			return nil, err
		}
		if err := graph.AddEndpoint(endpoint); err != nil {
			return nil, NewParseError(efield, err.Error(), err)
		}
	}

	for i, p := range a.FragmentProducers {
		pfield := fmt.Sprintf("%s.fragment_producers[%d]", field, i)
		fp, err := convertProducer(pfield, p)
		if err != nil {
			return nil, err
		}
		if err := graph.AddFragmentProducer(fp); err != nil {
			return nil, NewParseError(pfield+".geoid", err.Error(), err)
		}
	}

	return domain.NewApplication(a.Name, a.Host, graph), nil
}

// convertModule converts one module entry
func convertModule(field string, m moduleDoc) (domain.Module, error) {
	if m.Name == "" {
		return domain.Module{}, NewParseError(field+".name", "module name is required", ErrMissingField)
	}
	if m.Plugin == "" {
		return domain.Module{}, NewParseError(field+".plugin", "module plugin is required", ErrMissingField)
	}

	conf, err := nodePayload(field+".conf", &m.Conf)
	if err != nil {
		return domain.Module{}, err
	}
	module := domain.NewModule(m.Name, m.Plugin, conf)
	if len(m.Ports) > 0 {
		module = module.WithPorts(m.Ports...)
	}

	ports := make([]string, 0, len(m.Connections))
	for port := range m.Connections {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	seen := make(map[string]bool, len(ports))
	for _, key := range ports {
		cfield := field + ".connections." + key
		port, escaped := strings.CutPrefix(key, "!")
		if port == "" {
			return domain.Module{}, NewParseError(cfield, "port name is required", ErrInvalidValue)
		}
		if seen[port] {
			return domain.Module{}, NewParseError(cfield, fmt.Sprintf("port %q is connected twice", port), domain.ErrDuplicateKey)
		}
		seen[port] = true

		conn, err := convertConnection(cfield, m.Connections[key])
		if err != nil {
			return domain.Module{}, err
		}
		if escaped {
			conn.Toposort = false
		}
		module = module.WithConnection(port, conn)
	}

	phases := make([]string, 0, len(m.ExtraCommands))
	for phase := range m.ExtraCommands {
		phases = append(phases, phase)
	}
	slices.Sort(phases)
	for _, phase := range phases {
		node := m.ExtraCommands[phase]
		p, err := nodePayload(field+".extra_commands."+phase, &node)
		if err != nil {
			return domain.Module{}, err
		}
		module = module.WithExtraCommand(phase, p)
	}

	return module, nil
}

// convertConnection converts one connection entry
func convertConnection(field string, c connectionDoc) (domain.Connection, error) {
	target := strings.TrimSpace(c.To)
	toposort := true
	if rest, ok := strings.CutPrefix(target, "!"); ok {
		target = rest
		toposort = false
	}
	if c.Toposort != nil {
		toposort = *c.Toposort
	}

	conn := domain.Connection{
		QueueCapacity: domain.DefaultQueueCapacity,
		QueueName:     c.QueueName,
		Toposort:      toposort,
	}
	if target != "" {
		ref, err := domain.ParsePortRef(target)
		if err != nil {
			return domain.Connection{}, NewParseError(field, err.Error(), err)
		}
		conn.To = &ref
	}

	kind, err := parseQueueKind(c.Queue)
	if err != nil {
		return domain.Connection{}, NewParseError(field+".queue", err.Error(), ErrInvalidValue)
	}
	conn.QueueKind = kind

	if c.Capacity < 0 {
		return domain.Connection{}, NewParseError(field+".capacity", "capacity cannot be negative", ErrInvalidValue)
	}
	if c.Capacity > 0 {
		conn.QueueCapacity = c.Capacity
	}
	return conn, nil
}

func parseQueueKind(s string) (domain.QueueKind, error) {
	switch k := domain.QueueKind(s); k {
	case domain.QueueKindAuto, domain.QueueKindSPSC, domain.QueueKindMPMC, domain.QueueKindDeque:
		return k, nil
	default:
		return "", fmt.Errorf("unknown queue kind %q", s)
	}
}

// convertEndpoint converts one endpoint entry
func convertEndpoint(field string, e endpointDoc) (domain.Endpoint, error) {
	if e.Name == "" {
		return domain.Endpoint{}, NewParseError(field+".name", "endpoint name is required", ErrMissingField)
	}
	dir, err := domain.ParseDirection(e.Direction)
	if err != nil {
		return domain.Endpoint{}, NewParseError(field+".direction", err.Error(), ErrInvalidValue)
	}
	if e.SizeHint < 0 {
		return domain.Endpoint{}, NewParseError(field+".size_hint", "size hint cannot be negative", ErrInvalidValue)
	}

	endpoint := domain.Endpoint{
		ExternalName: e.Name,
		Direction:    dir,
		Topics:       e.Topics,
		SizeHint:     e.SizeHint,
		MsgType:      e.MsgType,
		MsgModule:    e.MsgModule,
		Feedback:     e.Feedback,
	}
	if e.Internal != "" {
		ref, err := domain.ParsePortRef(e.Internal)
		if err != nil {
			return domain.Endpoint{}, NewParseError(field+".internal", err.Error(), err)
		}
		endpoint.InternalName = &ref
	}
	return endpoint, nil
}

// convertProducer converts one fragment producer entry
func convertProducer(field string, p producerDoc) (domain.FragmentProducer, error) {
	if p.GeoID == nil {
		return domain.FragmentProducer{}, NewParseError(field+".geoid", "geoid is required", ErrMissingField)
	}
	requests, err := domain.ParsePortRef(p.RequestsIn)
	if err != nil {
		return domain.FragmentProducer{}, NewParseError(field+".requests_in", err.Error(), err)
	}
	fragments, err := domain.ParsePortRef(p.FragmentsOut)
	if err != nil {
		return domain.FragmentProducer{}, NewParseError(field+".fragments_out", err.Error(), err)
	}
	return domain.FragmentProducer{GeoID: *p.GeoID, RequestsIn: requests, FragmentsOut: fragments}, nil
}

// convertDataflow converts the dataflow section
func convertDataflow(df dataflowDoc) (deployment.FragmentWiring, error) {
	if df.App == "" {
		return deployment.FragmentWiring{}, NewParseError("dataflow.app", "dataflow application is required", ErrMissingField)
	}
	wiring := deployment.FragmentWiring{DataflowApp: df.App, RequestModule: df.RequestModule}
	if df.FragmentsIn != "" {
		ref, err := domain.ParsePortRef(df.FragmentsIn)
		if err != nil {
			return deployment.FragmentWiring{}, NewParseError("dataflow.fragments_in", err.Error(), err)
		}
		wiring.FragmentsIn = ref
	}
	return wiring, nil
}

// =============================================================================
// Payload Conversion
// =============================================================================

// nodePayload converts an arbitrary YAML value to a JSON payload. An absent
// or null node yields an unset payload.
func nodePayload(field string, node *yaml.Node) (domain.Payload, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return domain.Payload{}, nil
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return domain.Payload{}, NewParseError(field, err.Error(), ErrInvalidValue)
	}
	v, err := jsonValue(v)
	if err != nil {
		return domain.Payload{}, NewParseError(field, err.Error(), ErrInvalidValue)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return domain.Payload{}, NewParseError(field, err.Error(), ErrInvalidValue)
	}
	return domain.RawPayload(data)
}

// jsonValue rewrites YAML mappings with non-string keys into string-keyed
// maps so the value can be encoded as JSON.
func jsonValue(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			conv, err := jsonValue(val)
			if err != nil {
				return nil, err
			}
			t[k] = conv
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			conv, err := jsonValue(val)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = conv
		}
		return out, nil
	case []any:
		for i, val := range t {
			conv, err := jsonValue(val)
			if err != nil {
				return nil, err
			}
			t[i] = conv
		}
		return t, nil
	default:
		return v, nil
	}
}
