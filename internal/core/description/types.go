package description

import (
	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Description - Main Output Type
// =============================================================================

// Description is a parsed system description, ready to compile.
type Description struct {
	System *domain.System

	// Fragments and Trigger are nil when the description does not set them.
	Fragments *deployment.FragmentWiring
	Trigger   *deployment.TriggerLinks
}

// CompileOptions returns base with the description's fragment and trigger
// settings applied. Settings already present in base win.
func (d *Description) CompileOptions(base deployment.CompileOptions) deployment.CompileOptions {
	if base.Fragments == nil {
		base.Fragments = d.Fragments
	}
	if base.Trigger == nil {
		base.Trigger = d.Trigger
	}
	return base
}

// =============================================================================
// YAML Document Types
// =============================================================================

type document struct {
	Partition    string           `yaml:"partition"`
	Ports        *portsDoc        `yaml:"ports"`
	Dataflow     *dataflowDoc     `yaml:"dataflow"`
	Trigger      *triggerDoc      `yaml:"trigger"`
	Applications []applicationDoc `yaml:"applications"`
}

type portsDoc struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

type dataflowDoc struct {
	App           string `yaml:"app"`
	RequestModule string `yaml:"request_module"`
	FragmentsIn   string `yaml:"fragments_in"`
}

type triggerDoc struct {
	App    string `yaml:"app"`
	Module string `yaml:"module"`
}

type applicationDoc struct {
	Name              string        `yaml:"name"`
	Host              string        `yaml:"host"`
	Modules           []moduleDoc   `yaml:"modules"`
	Endpoints         []endpointDoc `yaml:"endpoints"`
	FragmentProducers []producerDoc `yaml:"fragment_producers"`
}

type moduleDoc struct {
	Name          string                   `yaml:"name"`
	Plugin        string                   `yaml:"plugin"`
	Conf          yaml.Node                `yaml:"conf"`
	Ports         []string                 `yaml:"ports"`
	Connections   map[string]connectionDoc `yaml:"connections"`
	ExtraCommands map[string]yaml.Node     `yaml:"extra_commands"`
}

// connectionDoc accepts either a target string or a mapping. A "!" in
// front of the port name or the target marks an edge that does not take
// part in ordering; the port is stored without it.
//
//	out: back.in
//	"!ack": front.ack
//	ack: "!front.ack"
//	raw: {to: b.in, queue: FollySPSCQueue, capacity: 10}
type connectionDoc struct {
	To        string `yaml:"to"`
	Queue     string `yaml:"queue"`
	Capacity  int    `yaml:"capacity"`
	QueueName string `yaml:"queue_name"`
	Toposort  *bool  `yaml:"toposort"`
}

func (c *connectionDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.To)
	}
	type plain connectionDoc
	return value.Decode((*plain)(c))
}

type endpointDoc struct {
	Name      string   `yaml:"name"`
	Internal  string   `yaml:"internal"`
	Direction string   `yaml:"direction"`
	Topics    []string `yaml:"topics"`
	SizeHint  int      `yaml:"size_hint"`
	MsgType   string   `yaml:"msg_type"`
	MsgModule string   `yaml:"msg_module"`
	Feedback  bool     `yaml:"feedback"`
}

type producerDoc struct {
	GeoID        *domain.GeoID `yaml:"geoid"`
	RequestsIn   string        `yaml:"requests_in"`
	FragmentsOut string        `yaml:"fragments_out"`
}
