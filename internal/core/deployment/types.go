package deployment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Command Data Types
// =============================================================================

// Queue directions as seen from the module.
const (
	QueueDirInput  = "input"
	QueueDirOutput = "output"
)

// QueueInfo attaches a module port to a queue instance.
type QueueInfo struct {
	Name string `json:"name"`
	Inst string `json:"inst"`
	Dir  string `json:"dir"`
}

// ModuleData is the per-module part of the init command.
type ModuleData struct {
	QInfos []QueueInfo `json:"qinfos"`
}

// ModuleSpec names a module instance, its plugin and its queues.
type ModuleSpec struct {
	Inst   string     `json:"inst"`
	Plugin string     `json:"plugin"`
	Data   ModuleData `json:"data"`
}

// InitData is the payload of the init command.
type InitData struct {
	Queues        []domain.QueueSpec         `json:"queues"`
	Modules       []ModuleSpec               `json:"modules"`
	NWConnections []domain.NetworkConnection `json:"nwconnections"`
}

// AddressedCmd is a command payload for the modules matching Match.
type AddressedCmd struct {
	Match string         `json:"match"`
	Data  domain.Payload `json:"data"`
}

// ModuleCommands is the payload of every non-init command.
type ModuleCommands struct {
	Modules []AddressedCmd `json:"modules"`
}

// StartParams is the default payload of the start command.
type StartParams struct {
	Run                int  `json:"run"`
	DisableDataStorage bool `json:"disable_data_storage"`
}

// =============================================================================
// CommandSet
// =============================================================================

// CommandSet maps lifecycle phase names to payloads, keeping insertion order.
// It encodes as a JSON object with keys in that order.
type CommandSet struct {
	phases []string
	data   map[string]domain.Payload
}

// NewCommandSet creates an empty set.
func NewCommandSet() *CommandSet {
	return &CommandSet{data: make(map[string]domain.Payload)}
}

// Set stores the payload for phase, appending the phase if it is new.
func (c *CommandSet) Set(phase string, p domain.Payload) {
	if c.data == nil {
		c.data = make(map[string]domain.Payload)
	}
	if _, ok := c.data[phase]; !ok {
		c.phases = append(c.phases, phase)
	}
	c.data[phase] = p
}

// Get returns the payload for phase.
func (c *CommandSet) Get(phase string) (domain.Payload, bool) {
	p, ok := c.data[phase]
	return p, ok
}

// Phases returns phase names in insertion order.
func (c *CommandSet) Phases() []string {
	return slices.Clone(c.phases)
}

// Len returns the number of phases.
func (c *CommandSet) Len() int {
	return len(c.phases)
}

// MarshalJSON implements json.Marshaler.
func (c *CommandSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, phase := range c.phases {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(phase)
		if err != nil {
			return nil, err
		}
		val, err := c.data[phase].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping key order.
func (c *CommandSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("command set must be a JSON object")
	}

	*c = CommandSet{data: make(map[string]domain.Payload)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		phase, ok := tok.(string)
		if !ok {
			return fmt.Errorf("command set key must be a string")
		}
		var p domain.Payload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("phase %s: %w", phase, err)
		}
		c.Set(phase, p)
	}
	_, err = dec.Token()
	return err
}

// =============================================================================
// Plan Types
// =============================================================================

// AppPlan is the compiled output for one application.
type AppPlan struct {
	Name        string                     `json:"name"`
	Host        string                     `json:"host"`
	StartOrder  []string                   `json:"start_order"`
	StopOrder   []string                   `json:"stop_order"`
	Commands    *CommandSet                `json:"commands"`
	Connections []domain.NetworkConnection `json:"connections"`
}

// Plan is the compiled output for a whole system.
type Plan struct {
	Partition     string                     `json:"partition"`
	AppStartOrder []string                   `json:"app_start_order"`
	AppStopOrder  []string                   `json:"app_stop_order"`
	Apps          []AppPlan                  `json:"apps"`
	Connections   []domain.NetworkConnection `json:"connections"`
	Warnings      []domain.Diagnostic        `json:"warnings"`
}

// App returns the plan of the named application.
func (p *Plan) App(name string) (AppPlan, bool) {
	for _, a := range p.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return AppPlan{}, false
}

// HasWarnings reports whether compilation produced warnings.
func (p *Plan) HasWarnings() bool {
	return len(p.Warnings) > 0
}

// Phases returns the command phases of the plan, in command order.
func (p *Plan) Phases() []string {
	if len(p.Apps) == 0 || p.Apps[0].Commands == nil {
		return nil
	}
	return p.Apps[0].Commands.Phases()
}

// =============================================================================
// System Commands
// =============================================================================

// AppDataPath is the path, relative to the plan directory and without the
// .json suffix, of one application's command data.
// Pattern: data/{app}_{phase}
func AppDataPath(app, phase string) string {
	return "data/" + app + "_" + phase
}

// SystemCommand is the whole-system data of one phase: where each
// application's data lives and, for start and stop, the application order.
type SystemCommand struct {
	Apps  map[string]string `json:"apps"`
	Order []string          `json:"order,omitempty"`
}

// SystemCommands returns the system command of every phase of the plan.
func (p *Plan) SystemCommands() map[string]SystemCommand {
	out := make(map[string]SystemCommand)
	for _, phase := range p.Phases() {
		cmd := SystemCommand{Apps: make(map[string]string, len(p.Apps))}
		for _, app := range p.Apps {
			cmd.Apps[app.Name] = AppDataPath(app.Name, phase)
		}
		switch phase {
		case PhaseStart:
			cmd.Order = slices.Clone(p.AppStartOrder)
		case PhaseStop:
			cmd.Order = slices.Clone(p.AppStopOrder)
		}
		out[phase] = cmd
	}
	return out
}
