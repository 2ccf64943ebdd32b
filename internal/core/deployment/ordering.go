package deployment

import (
	"fmt"
	"slices"
	"strings"

	"github.com/artpar/topoplan/internal/core/domain"
)

// =============================================================================
// Dependency Graph
// =============================================================================

// DependencyGraph is a directed graph of module or application names. An edge
// A -> B means A must start before B.
type DependencyGraph struct {
	Scope string // "module" or "application"
	Owner string

	nodes []string
	index map[string]int
	edges map[string][]string
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph(scope, owner string) *DependencyGraph {
	return &DependencyGraph{
		Scope: scope,
		Owner: owner,
		index: make(map[string]int),
		edges: make(map[string][]string),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *DependencyGraph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge adds from -> to. Both nodes must exist; duplicate edges are ignored.
func (g *DependencyGraph) AddEdge(from, to string) {
	if slices.Contains(g.edges[from], to) {
		return
	}
	g.edges[from] = append(g.edges[from], to)
}

// HasNode reports whether name is a node.
func (g *DependencyGraph) HasNode(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Nodes returns the nodes in insertion order.
func (g *DependencyGraph) Nodes() []string {
	return slices.Clone(g.nodes)
}

// Successors returns the targets of edges leaving name.
func (g *DependencyGraph) Successors(name string) []string {
	return slices.Clone(g.edges[name])
}

// =============================================================================
// Graph Construction
// =============================================================================

// ModuleDependencies builds the module graph of one application. Every
// connection with Toposort set adds an edge from its module to the module
// owning the target port. Connections without a target, or with Toposort
// cleared, only carry data and do not constrain ordering.
//
// Example:
//
//	// front.out -> back.in
//	g, _ := ModuleDependencies("app", modules)
//	g.Successors("front") // ["back"]
func ModuleDependencies(owner string, modules []domain.Module) (*DependencyGraph, error) {
	g := NewDependencyGraph("module", owner)
	for _, m := range modules {
		g.AddNode(m.Name)
	}

	for _, m := range modules {
		for _, port := range m.ConnectionNames() {
			c := m.Connections[port]
			if c.To == nil || !c.Toposort {
				continue
			}
			if !g.HasNode(c.To.Module) {
				return nil, &domain.UnknownModuleReferenceError{
					Owner:  owner,
					From:   fmt.Sprintf("module %s port %s", m.Name, port),
					Target: c.To.Module,
					Known:  g.Nodes(),
				}
			}
			g.AddEdge(m.Name, c.To.Module)
		}
	}
	return g, nil
}

// AppDependencies builds the application graph of a classified system. Each
// producing application gets an edge to every application consuming from it,
// except over feedback connections.
func AppDependencies(system *domain.System) *DependencyGraph {
	g := NewDependencyGraph("application", system.Partition)
	for _, name := range system.AppNames() {
		g.AddNode(name)
	}
	for _, c := range system.AppConnections() {
		if c.Feedback {
			continue
		}
		for _, to := range c.ConnectApps() {
			if to != c.Producer.App {
				g.AddEdge(c.Producer.App, to)
			}
		}
	}
	return g
}

// =============================================================================
// Linearization
// =============================================================================

// Linearize returns a topological order of g using Kahn's algorithm.
//
// The ready set is seeded in node insertion order and successors are released
// in edge insertion order, so the same graph always gives the same order.
// When no order exists a CyclicDependencyError names the nodes that lie on a
// cycle; nodes that are merely upstream or downstream of one are left out.
func Linearize(g *DependencyGraph) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		for _, to := range g.edges[n] {
			inDegree[to]++
		}
	}

	var queue []string
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		result = append(result, n)

		for _, to := range g.edges[n] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(result) < len(g.nodes) {
		return nil, &domain.CyclicDependencyError{
			Scope: g.Scope,
			Owner: g.Owner,
			Nodes: cycleNodes(g, result),
		}
	}
	return result, nil
}

// cycleNodes strips from the unsorted remainder every node that cannot reach
// back into the remainder, leaving only nodes on some cycle.
func cycleNodes(g *DependencyGraph, sorted []string) []string {
	remaining := make(map[string]bool, len(g.nodes)-len(sorted))
	for _, n := range g.nodes {
		remaining[n] = true
	}
	for _, n := range sorted {
		delete(remaining, n)
	}

	for changed := true; changed; {
		changed = false
		for _, n := range g.nodes {
			if !remaining[n] {
				continue
			}
			hasOut := false
			for _, to := range g.edges[n] {
				if remaining[to] {
					hasOut = true
					break
				}
			}
			if !hasOut {
				delete(remaining, n)
				changed = true
			}
		}
	}

	var out []string
	for _, n := range g.nodes {
		if remaining[n] {
			out = append(out, n)
		}
	}
	return out
}

// Reversed returns order back to front.
func Reversed(order []string) []string {
	out := slices.Clone(order)
	slices.Reverse(out)
	return out
}

// ModuleOrder returns the module start order of app and its exact reverse.
func ModuleOrder(app *domain.Application) (start, stop []string, err error) {
	g, err := ModuleDependencies(app.Name, app.Graph.Modules())
	if err != nil {
		return nil, nil, err
	}
	start, err = Linearize(g)
	if err != nil {
		return nil, nil, err
	}
	return start, Reversed(start), nil
}

// AppOrder returns the application start order and its reverse. A start order
// already stored on the system is used as is; otherwise it is computed from
// the classified connections and stored.
func AppOrder(system *domain.System) (start, stop []string, err error) {
	if stored := system.AppStartOrder(); stored != nil {
		if err := system.CheckAppOrder(stored); err != nil {
			return nil, nil, err
		}
		return stored, Reversed(stored), nil
	}
	start, err = Linearize(AppDependencies(system))
	if err != nil {
		return nil, nil, err
	}
	if err := system.SetAppStartOrder(start); err != nil {
		return nil, nil, err
	}
	return start, Reversed(start), nil
}

// =============================================================================
// Graph Export
// =============================================================================

// ExportDOT renders g in Graphviz DOT format.
//
// Example:
//
//	digraph "app" {
//	  "front";
//	  "back";
//	  "front" -> "back";
//	}
func ExportDOT(g *DependencyGraph) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.Owner)
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "  %q;\n", n)
	}
	for _, n := range g.nodes {
		for _, to := range g.edges[n] {
			fmt.Fprintf(&b, "  %q -> %q;\n", n, to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
