package graph

import "fmt"

// Builder declares channels, nodes and edges, then compiles them into an
// immutable Graph.
//
// Builder methods record problems instead of panicking. Problems found while
// declaring (duplicate names, empty ids) are returned immediately and also
// reported again by Compile, together with every structural problem of the
// graph.
//
// Example:
//
//	b := graph.NewBuilder(
//	    graph.Append[string]("aggregate"),
//	)
//	b.AddNode("a", nodeA)
//	b.AddNode("b", nodeB)
//	b.AddEdge(graph.Start, "a")
//	b.AddEdge("a", "b")
//	b.AddEdge("b", graph.End)
//
//	g, err := b.Compile(graph.WithCheckpointer(store.NewMemStore()))
type Builder struct {
	channels *Registry
	nodes    map[string]*nodeDef
	order    []string
	edges    []Edge
	branches []branch
	problems []string
}

// nodeDef is a node declaration.
type nodeDef struct {
	name    string
	node    Node
	sub     *Graph
	ends    []string
	outputs []string
}

// NodeOption configures a node declaration.
type NodeOption func(*nodeDef)

// WithEnds declares the nodes a node may route to with commands (Goto,
// GotoMany, SendTo). The list feeds reachability checks and drawing.
func WithEnds(names ...string) NodeOption {
	return func(d *nodeDef) {
		d.ends = append(d.ends, names...)
	}
}

// NewBuilder creates a Builder with the given channels declared.
func NewBuilder(channels ...ChannelSpec) *Builder {
	b := &Builder{
		channels: NewRegistry(),
		nodes:    make(map[string]*nodeDef),
	}
	for _, spec := range channels {
		_ = b.AddChannel(spec)
	}
	return b
}

// AddChannel declares a channel.
func (b *Builder) AddChannel(spec ChannelSpec) error {
	if err := b.channels.Register(spec); err != nil {
		return b.fail(err.(*CompileError).Problems[0])
	}
	return nil
}

// AddNode registers a node in the workflow graph.
//
// Returns error if:
//   - id is empty or reserved (Start, End)
//   - node is nil
//   - a node with this id already exists
func (b *Builder) AddNode(id string, node Node, opts ...NodeOption) error {
	if node == nil {
		return b.fail("node " + id + " cannot be nil")
	}
	return b.add(&nodeDef{name: id, node: node}, opts)
}

// AddSubgraph mounts a compiled graph as a node.
//
// The subgraph starts from a fresh snapshot seeded with the parent's values
// for channels both graphs declare. Its channels stay local: it affects the
// parent only through commands returned with Next.ToParent. A subgraph
// interrupt suspends the parent run, and the whole subgraph re-runs on resume.
func (b *Builder) AddSubgraph(id string, sub *Graph, opts ...NodeOption) error {
	if sub == nil {
		return b.fail("subgraph " + id + " cannot be nil")
	}
	return b.add(&nodeDef{name: id, sub: sub}, opts)
}

func (b *Builder) add(def *nodeDef, opts []NodeOption) error {
	switch def.name {
	case "":
		return b.fail("node ID cannot be empty")
	case Start, End:
		return b.fail("node ID " + def.name + " is reserved")
	}
	if _, exists := b.nodes[def.name]; exists {
		return b.fail("duplicate node ID: " + def.name)
	}
	for _, opt := range opts {
		opt(def)
	}
	b.nodes[def.name] = def
	b.order = append(b.order, def.name)
	return nil
}

// AddEdge adds an unconditional edge. from may be Start; to may be End.
func (b *Builder) AddEdge(from, to string) error {
	return b.Connect(from, to, nil)
}

// Connect adds an edge traversed only when predicate returns true for the
// post-round snapshot. A nil predicate makes the edge unconditional.
//
// Node existence is validated by Compile, so edges may be declared before
// their nodes.
func (b *Builder) Connect(from, to string, predicate Predicate) error {
	if from == "" || to == "" {
		return b.fail("edge endpoints cannot be empty")
	}
	b.edges = append(b.edges, Edge{From: from, To: to, When: predicate})
	return nil
}

// AddConditionalEdges attaches a router to from. The router runs once per
// round in which from ran, after that round's writes are committed.
func (b *Builder) AddConditionalEdges(from string, router Router, opts ...BranchOption) error {
	if from == "" {
		return b.fail("conditional edge source cannot be empty")
	}
	if router == nil {
		return b.fail("router for " + from + " cannot be nil")
	}
	br := branch{from: from, router: router}
	for _, opt := range opts {
		opt(&br)
	}
	b.branches = append(b.branches, br)
	return nil
}

// StartAt is shorthand for AddEdge(Start, id).
func (b *Builder) StartAt(id string) error {
	return b.AddEdge(Start, id)
}

func (b *Builder) fail(problem string) error {
	b.problems = append(b.problems, problem)
	return &CompileError{Problems: []string{problem}}
}

// Compile validates the declarations and returns an immutable Graph.
//
// Compile reports, all at once:
//   - problems recorded while declaring
//   - edges and routes naming undeclared nodes
//   - a missing entry (no edge or router from Start)
//   - nodes unreachable from Start
//   - reachable nodes with no path to End or to a node without successors
func (b *Builder) Compile(opts ...Option) (*Graph, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, &CompileError{Problems: []string{err.Error()}}
		}
	}

	problems := append([]string(nil), b.problems...)
	problems = append(problems, b.checkEndpoints()...)
	if len(problems) == 0 {
		problems = append(problems, b.checkReachability()...)
	}
	if len(problems) > 0 {
		return nil, &CompileError{Problems: problems}
	}

	return b.build(cfg), nil
}

// checkEndpoints verifies every edge, router and hint names a declared node.
func (b *Builder) checkEndpoints() []string {
	var problems []string
	entry := false
	for _, e := range b.edges {
		switch {
		case e.From == End:
			problems = append(problems, "edge cannot start at "+End)
		case e.From != Start && b.nodes[e.From] == nil:
			problems = append(problems, fmt.Sprintf("edge %s -> %s: unknown source node %s", e.From, e.To, e.From))
		}
		switch {
		case e.To == Start:
			problems = append(problems, "edge cannot end at "+Start)
		case e.To != End && b.nodes[e.To] == nil:
			problems = append(problems, fmt.Sprintf("edge %s -> %s: unknown target node %s", e.From, e.To, e.To))
		}
		if e.From == Start {
			entry = true
		}
	}
	for _, br := range b.branches {
		if br.from == End || (br.from != Start && b.nodes[br.from] == nil) {
			problems = append(problems, "conditional edge from unknown node "+br.from)
		}
		if br.from == Start {
			entry = true
		}
		for _, target := range br.possible() {
			if target != End && b.nodes[target] == nil {
				problems = append(problems, fmt.Sprintf("conditional edge from %s: unknown target node %s", br.from, target))
			}
		}
	}
	for _, name := range b.order {
		def := b.nodes[name]
		for _, end := range def.ends {
			if end != End && b.nodes[end] == nil {
				problems = append(problems, fmt.Sprintf("node %s: unknown route target %s", name, end))
			}
		}
		for _, ch := range def.outputs {
			_, inParent := b.channels.Spec(ch)
			inChild := def.sub != nil && def.sub.channels.specs[ch].reducer != nil
			if !inParent || !inChild {
				problems = append(problems, fmt.Sprintf("node %s: output channel %s must be declared by both graphs", name, ch))
			}
		}
	}
	if !entry {
		problems = append(problems, "graph has no entry point (add an edge from "+Start+")")
	}
	return problems
}

// successors returns the possible successors of a node (or Start) and
// whether the node can finish the run directly.
func (b *Builder) successors(from string) (next []string, terminates bool) {
	hasEdges := false
	for _, e := range b.edges {
		if e.From != from {
			continue
		}
		hasEdges = true
		if e.To == End {
			terminates = true
			continue
		}
		next = append(next, e.To)
	}
	for _, br := range b.branches {
		if br.from != from {
			continue
		}
		hasEdges = true
		possible := br.possible()
		if possible == nil {
			terminates = true
			next = append(next, b.order...)
			continue
		}
		for _, target := range possible {
			if target == End {
				terminates = true
				continue
			}
			next = append(next, target)
		}
	}
	if def := b.nodes[from]; def != nil {
		for _, end := range def.ends {
			if end == End {
				terminates = true
				continue
			}
			next = append(next, end)
		}
	}
	if !hasEdges && from != Start {
		terminates = true
	}
	return next, terminates
}

// checkReachability reports nodes unreachable from Start and reachable nodes
// that can never finish.
func (b *Builder) checkReachability() []string {
	succ := make(map[string][]string, len(b.order)+1)
	done := make(map[string]bool, len(b.order))
	for _, name := range append([]string{Start}, b.order...) {
		next, terminates := b.successors(name)
		succ[name] = next
		if terminates && name != Start {
			done[name] = true
		}
	}

	reached := map[string]bool{Start: true}
	queue := []string{Start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range succ[cur] {
			if !reached[n] {
				reached[n] = true
				queue = append(queue, n)
			}
		}
	}

	// Propagate termination backwards until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, name := range b.order {
			if done[name] {
				continue
			}
			for _, n := range succ[name] {
				if done[n] {
					done[name] = true
					changed = true
					break
				}
			}
		}
	}

	var problems []string
	for _, name := range b.order {
		switch {
		case !reached[name]:
			problems = append(problems, "node "+name+" is unreachable from "+Start)
		case !done[name]:
			problems = append(problems, "node "+name+" has no path to "+End)
		}
	}
	return problems
}

// build resolves names to indices and freezes the declarations.
func (b *Builder) build(cfg graphConfig) *Graph {
	g := &Graph{
		name:     cfg.name,
		cfg:      cfg,
		channels: b.channels,
		index:    make(map[string]int, len(b.order)),
		nodes:    make([]*nodeDef, len(b.order)),
		out:      make([]outgoing, len(b.order)+1),
	}
	for i, name := range b.order {
		g.index[name] = i
		g.nodes[i] = b.nodes[name]
	}
	g.startSlot = len(b.order)

	source := func(name string) int {
		if name == Start {
			return g.startSlot
		}
		return g.index[name]
	}
	for _, e := range b.edges {
		o := &g.out[source(e.From)]
		o.edges = append(o.edges, e)
		o.hasRoutes = true
	}
	for _, br := range b.branches {
		o := &g.out[source(br.from)]
		o.branches = append(o.branches, br)
		o.hasRoutes = true
	}
	return g
}
