package deployment

import (
	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Phase Table
// =============================================================================

// Lifecycle phase names.
const (
	PhaseInit   = "init"
	PhaseConf   = "conf"
	PhaseStart  = "start"
	PhaseStop   = "stop"
	PhasePause  = "pause"
	PhaseResume = "resume"
	PhaseScrap  = "scrap"
)

// PhaseOrder selects which module order a phase addresses modules in.
type PhaseOrder int

const (
	OrderStart PhaseOrder = iota
	OrderStop
)

// PhaseSpec describes one module-addressed lifecycle phase.
type PhaseSpec struct {
	Name    string
	Order   PhaseOrder
	Default domain.Payload // used unless the module overrides the phase
}

// DefaultPhases returns the standard phase table after init and conf. Start
// carries StartParams; every other phase defaults to an empty payload.
func DefaultPhases(start StartParams) []PhaseSpec {
	return []PhaseSpec{
		{Name: PhaseStart, Order: OrderStart, Default: domain.MustPayload(start)},
		{Name: PhaseStop, Order: OrderStop},
		{Name: PhasePause, Order: OrderStop},
		{Name: PhaseResume, Order: OrderStart},
		{Name: PhaseScrap, Order: OrderStop},
	}
}

// =============================================================================
// Queue Inference
// =============================================================================

// InferQueues derives the queues of an application from its module
// connections and the in-process queues the classifier resolved for it.
//
// A connection gets the queue named QueueInstanceName(from, to), or its
// explicit QueueName. If either end is already attached to a queue, that
// queue is reused instead. Queues left at QueueKindAuto become SPSC when they
// have exactly one writer and one reader, MPMC otherwise.
func InferQueues(modules []domain.Module, resolved []domain.QueueSpec) ([]domain.QueueSpec, map[string][]QueueInfo) {
	b := &queueBuilder{
		index:    make(map[string]int),
		attached: make(map[domain.PortRef]string),
		qinfos:   make(map[string][]QueueInfo),
	}

	for _, q := range resolved {
		b.ensure(q.Name, q.Kind, q.Capacity)
		for _, w := range q.Writers {
			b.attach(w, q.Name, QueueDirOutput)
		}
		for _, r := range q.Readers {
			b.attach(r, q.Name, QueueDirInput)
		}
	}

	for _, m := range modules {
		for _, port := range m.ConnectionNames() {
			c := m.Connections[port]
			if c.To == nil {
				continue
			}
			from := domain.PortRef{Module: m.Name, Port: port}
			to := *c.To

			inst, fromFound := b.attached[from]
			if toInst, ok := b.attached[to]; ok {
				inst = toInst
				if !fromFound {
					b.attach(from, inst, QueueDirOutput)
				}
				continue
			}
			if !fromFound {
				inst = QueueInstanceName(from, to)
				if c.QueueName != "" {
					inst = c.QueueName
				}
				b.ensure(inst, c.QueueKind, c.QueueCapacity)
				b.attach(from, inst, QueueDirOutput)
			}
			b.attach(to, inst, QueueDirInput)
		}
	}

	return b.finish(), b.qinfos
}

type queueBuilder struct {
	queues   []domain.QueueSpec
	index    map[string]int
	attached map[domain.PortRef]string
	qinfos   map[string][]QueueInfo
}

func (b *queueBuilder) ensure(name string, kind domain.QueueKind, capacity int) {
	if _, ok := b.index[name]; ok {
		return
	}
	if capacity <= 0 {
		capacity = domain.DefaultQueueCapacity
	}
	b.index[name] = len(b.queues)
	b.queues = append(b.queues, domain.QueueSpec{Name: name, Kind: kind, Capacity: capacity})
}

func (b *queueBuilder) attach(ref domain.PortRef, inst, dir string) {
	if _, ok := b.attached[ref]; ok {
		return
	}
	b.attached[ref] = inst
	b.qinfos[ref.Module] = append(b.qinfos[ref.Module], QueueInfo{Name: ref.Port, Inst: inst, Dir: dir})

	q := &b.queues[b.index[inst]]
	if dir == QueueDirOutput {
		q.Writers = append(q.Writers, ref)
	} else {
		q.Readers = append(q.Readers, ref)
	}
}

func (b *queueBuilder) finish() []domain.QueueSpec {
	for i := range b.queues {
		q := &b.queues[i]
		if q.Kind != domain.QueueKindAuto {
			continue
		}
		q.Kind = domain.QueueKindMPMC
		if len(q.Writers) == 1 && len(q.Readers) == 1 {
			q.Kind = domain.QueueKindSPSC
		}
	}
	return b.queues
}

// =============================================================================
// Command Assembly
// =============================================================================

// AppCommandParams contains all inputs for building the commands of one
// application.
type AppCommandParams struct {
	Modules     []domain.Module
	Queues      []domain.QueueSpec // resolved by the classifier
	Connections []domain.NetworkConnection
	StartOrder  []string
	StopOrder   []string
	Phases      []PhaseSpec
}

// BuildAppCommands assembles the ordered command set of one application:
//   - init lists queues, modules with their queue infos and the network
//     connections of the application
//   - conf has one entry per module with its conf verbatim
//   - one entry per row of the phase table, addressing modules in start or
//     stop order, with the module's extra command replacing the default
//
// Example:
//
//	cmds, _ := BuildAppCommands(AppCommandParams{
//	    Modules:    app.Graph.Modules(),
//	    StartOrder: []string{"front", "back"},
//	    StopOrder:  []string{"back", "front"},
//	    Phases:     DefaultPhases(StartParams{Run: 1}),
//	})
//	cmds.Phases() // [init conf start stop pause resume scrap]
func BuildAppCommands(params AppCommandParams) (*CommandSet, error) {
	queues, qinfos := InferQueues(params.Modules, params.Queues)

	specs := make([]ModuleSpec, 0, len(params.Modules))
	byName := make(map[string]domain.Module, len(params.Modules))
	for _, m := range params.Modules {
		byName[m.Name] = m
		infos := qinfos[m.Name]
		if infos == nil {
			infos = []QueueInfo{}
		}
		specs = append(specs, ModuleSpec{Inst: m.Name, Plugin: m.Plugin, Data: ModuleData{QInfos: infos}})
	}

	nw := params.Connections
	if nw == nil {
		nw = []domain.NetworkConnection{}
	}
	if queues == nil {
		queues = []domain.QueueSpec{}
	}

	cmds := NewCommandSet()

	initPayload, err := domain.NewPayload(InitData{Queues: queues, Modules: specs, NWConnections: nw})
	if err != nil {
		return nil, err
	}
	cmds.Set(PhaseInit, initPayload)

	conf := ModuleCommands{Modules: make([]AddressedCmd, 0, len(params.Modules))}
	for _, m := range params.Modules {
		conf.Modules = append(conf.Modules, AddressedCmd{Match: m.Name, Data: m.Conf})
	}
	confPayload, err := domain.NewPayload(conf)
	if err != nil {
		return nil, err
	}
	cmds.Set(PhaseConf, confPayload)

	for _, phase := range params.Phases {
		order := params.StartOrder
		if phase.Order == OrderStop {
			order = params.StopOrder
		}

		pc := ModuleCommands{Modules: make([]AddressedCmd, 0, len(order))}
		for _, name := range order {
			data := phase.Default
			if override, ok := byName[name].ExtraCommand(phase.Name); ok {
				data = override
			}
			pc.Modules = append(pc.Modules, AddressedCmd{Match: name, Data: data})
		}
		p, err := domain.NewPayload(pc)
		if err != nil {
			return nil, err
		}
		cmds.Set(phase.Name, p)
	}

	return cmds, nil
}
