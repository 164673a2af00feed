package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/satindergrewal/mixlab/internal/audio"
	"github.com/satindergrewal/mixlab/internal/module"
	"github.com/satindergrewal/mixlab/internal/workspace"
)

// source is a resolved input connection.
type source struct {
	node     *node
	terminal int
}

// node is one live module in the graph.
type node struct {
	id      workspace.ModuleID
	mod     module.Module
	inputs  []module.Terminal
	outputs []module.Terminal

	outBufs [][]audio.Sample // written by the module every tick
	inBufs  [][]audio.Sample // scratch slice handed to RunTick
	srcs    []source         // per input; node is nil when unconnected

	indication module.Indication
}

func newNode(id workspace.ModuleID, mod module.Module, ind module.Indication) *node {
	n := &node{id: id, mod: mod, indication: ind}
	n.reshape()
	return n
}

// reshape refreshes terminals and buffers after the module was created or
// reconfigured. Existing output buffers are kept where possible.
func (n *node) reshape() {
	n.inputs = n.mod.Inputs()
	n.outputs = n.mod.Outputs()

	bufs := make([][]audio.Sample, len(n.outputs))
	copy(bufs, n.outBufs)
	for i := range bufs {
		if bufs[i] == nil {
			bufs[i] = audio.NewBlock()
		}
	}
	n.outBufs = bufs
	n.inBufs = make([][]audio.Sample, len(n.inputs))
	n.srcs = make([]source, len(n.inputs))
}

// graph is the live module graph. It is owned by the engine loop goroutine
// and never touched from anywhere else.
type graph struct {
	nextID workspace.ModuleID
	nodes  map[workspace.ModuleID]*node
	conns  map[workspace.InputRef]workspace.OutputRef
	order  []*node
}

func newGraph(nextID workspace.ModuleID) *graph {
	return &graph{
		nextID: nextID,
		nodes:  make(map[workspace.ModuleID]*node),
		conns:  make(map[workspace.InputRef]workspace.OutputRef),
	}
}

// buildGraph instantiates every module of state. Connections to terminals
// the live modules no longer have are dropped; a cycle is an error.
func buildGraph(ctx context.Context, env module.Env, state workspace.State, logger *slog.Logger) (*graph, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	g := newGraph(state.NextID)
	for _, ms := range state.Modules {
		mod, ind, err := module.Create(ctx, env, ms.Params)
		if err != nil {
			g.close()
			return nil, fmt.Errorf("create module %d (%s): %w", ms.ID, ms.Params.Kind, err)
		}
		g.nodes[ms.ID] = newNode(ms.ID, mod, ind)
	}

	for _, c := range state.Connections {
		if err := g.checkEndpoints(c.From, c.To); err != nil {
			logger.Warn("dropping persisted connection",
				slog.Any("from", c.From), slog.Any("to", c.To), slog.String("err", err.Error()))
			continue
		}
		g.conns[c.To] = c.From
	}

	if err := g.detectCycles(); err != nil {
		g.close()
		return nil, err
	}
	g.rewire()
	return g, nil
}

func (g *graph) close() {
	for _, n := range g.nodes {
		_ = n.mod.Close()
	}
}

// state snapshots the graph.
func (g *graph) state() workspace.State {
	s := workspace.State{
		NextID:      g.nextID,
		Modules:     make([]workspace.ModuleState, 0, len(g.nodes)),
		Connections: make([]workspace.Connection, 0, len(g.conns)),
	}
	for id, n := range g.nodes {
		s.Modules = append(s.Modules, workspace.ModuleState{ID: id, Params: n.mod.Params().Clone()})
	}
	for to, from := range g.conns {
		s.Connections = append(s.Connections, workspace.Connection{From: from, To: to})
	}
	s.Normalize()
	return s
}

func (g *graph) indications() map[workspace.ModuleID]module.Indication {
	out := make(map[workspace.ModuleID]module.Indication, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n.indication
	}
	return out
}

func (g *graph) insert(mod module.Module, ind module.Indication) *node {
	id := g.nextID
	g.nextID++
	n := newNode(id, mod, ind)
	g.nodes[id] = n
	g.rewire()
	return n
}

// remove deletes a node and every connection touching it. The removed
// connections are returned so they can be announced.
func (g *graph) remove(id workspace.ModuleID) (*node, []workspace.Connection, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrNoModule, id)
	}
	var dropped []workspace.Connection
	for to, from := range g.conns {
		if to.Module == id || from.Module == id {
			dropped = append(dropped, workspace.Connection{From: from, To: to})
			delete(g.conns, to)
		}
	}
	delete(g.nodes, id)
	g.rewire()
	return n, sortConnections(dropped), nil
}

// prune drops connections of id whose terminals no longer exist.
func (g *graph) prune(id workspace.ModuleID) []workspace.Connection {
	n := g.nodes[id]
	var dropped []workspace.Connection
	for to, from := range g.conns {
		if (to.Module == id && to.Terminal >= len(n.inputs)) ||
			(from.Module == id && from.Terminal >= len(n.outputs)) {
			dropped = append(dropped, workspace.Connection{From: from, To: to})
			delete(g.conns, to)
		}
	}
	g.rewire()
	return sortConnections(dropped)
}

func (g *graph) checkEndpoints(from workspace.OutputRef, to workspace.InputRef) error {
	src, ok := g.nodes[from.Module]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoModule, from.Module)
	}
	dst, ok := g.nodes[to.Module]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoModule, to.Module)
	}
	if from.Terminal < 0 || from.Terminal >= len(src.outputs) {
		return fmt.Errorf("%w: output %d of module %d", ErrNoTerminal, from.Terminal, from.Module)
	}
	if to.Terminal < 0 || to.Terminal >= len(dst.inputs) {
		return fmt.Errorf("%w: input %d of module %d", ErrNoTerminal, to.Terminal, to.Module)
	}
	if src.outputs[from.Terminal].Type != dst.inputs[to.Terminal].Type {
		return fmt.Errorf("%w: %s -> %s", ErrLineType, src.outputs[from.Terminal].Type, dst.inputs[to.Terminal].Type)
	}
	return nil
}

// connect wires from into to, returning the connection it replaced if the
// input was already in use.
func (g *graph) connect(from workspace.OutputRef, to workspace.InputRef) (*workspace.Connection, error) {
	if err := g.checkEndpoints(from, to); err != nil {
		return nil, err
	}
	if from.Module == to.Module || g.reaches(to.Module, from.Module) {
		return nil, fmt.Errorf("%w: %d -> %d", ErrCycle, from.Module, to.Module)
	}

	var replaced *workspace.Connection
	if old, ok := g.conns[to]; ok {
		replaced = &workspace.Connection{From: old, To: to}
	}
	g.conns[to] = from
	g.rewire()
	return replaced, nil
}

func (g *graph) disconnect(to workspace.InputRef) (workspace.Connection, error) {
	from, ok := g.conns[to]
	if !ok {
		return workspace.Connection{}, fmt.Errorf("%w: %d/%d", ErrNotConnected, to.Module, to.Terminal)
	}
	delete(g.conns, to)
	g.rewire()
	return workspace.Connection{From: from, To: to}, nil
}

// downstream returns the modules fed directly by id, sorted.
func (g *graph) downstream() map[workspace.ModuleID][]workspace.ModuleID {
	adj := make(map[workspace.ModuleID][]workspace.ModuleID, len(g.nodes))
	for to, from := range g.conns {
		adj[from.Module] = append(adj[from.Module], to.Module)
	}
	for id := range adj {
		sort.Slice(adj[id], func(i, j int) bool { return adj[id][i] < adj[id][j] })
	}
	return adj
}

// reaches reports whether target is reachable from start along connections.
func (g *graph) reaches(start, target workspace.ModuleID) bool {
	adj := g.downstream()
	seen := make(map[workspace.ModuleID]bool)
	stack := []workspace.ModuleID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adj[id]...)
	}
	return false
}

// detectCycles runs a depth-first search with temporary and permanent marks.
func (g *graph) detectCycles() error {
	adj := g.downstream()
	permanent := make(map[workspace.ModuleID]bool)
	temporary := make(map[workspace.ModuleID]bool)

	var visit func(id workspace.ModuleID) error
	visit = func(id workspace.ModuleID) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("%w: involving module %d", ErrCycle, id)
		}
		temporary[id] = true
		for _, next := range adj[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range g.sortedIDs() {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (g *graph) sortedIDs() []workspace.ModuleID {
	ids := make([]workspace.ModuleID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// rewire recomputes the execution order (Kahn's algorithm, ties broken by
// id) and resolves every input to its source buffer. It runs after every
// topology change so the tick path does no lookups.
func (g *graph) rewire() {
	indegree := make(map[workspace.ModuleID]int, len(g.nodes))
	for to := range g.conns {
		indegree[to.Module]++
	}
	adj := g.downstream()

	var ready []workspace.ModuleID
	for _, id := range g.sortedIDs() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]*node, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.nodes[id])
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
			}
		}
	}
	g.order = order

	for _, n := range g.nodes {
		for i := range n.srcs {
			n.srcs[i] = source{}
			if from, ok := g.conns[workspace.InputRef{Module: n.id, Terminal: i}]; ok {
				n.srcs[i] = source{node: g.nodes[from.Module], terminal: from.Terminal}
			}
		}
	}
}

func sortConnections(conns []workspace.Connection) []workspace.Connection {
	sort.Slice(conns, func(i, j int) bool {
		a, b := conns[i].To, conns[j].To
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Terminal < b.Terminal
	})
	return conns
}
