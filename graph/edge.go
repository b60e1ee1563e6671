package graph

// Start and End are the virtual entry and exit points of every graph.
// Edges from Start pick the nodes of the first round; an edge or router
// target of End schedules nothing.
const (
	Start = "__start__"
	End   = "__end__"
)

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges define the control flow between nodes. They can be:
// - Unconditional: Always traverse (When = nil).
// - Conditional: Only traverse if predicate returns true (When != nil).
//
// Predicates are evaluated against the snapshot committed at the end of the
// round in which From ran.
type Edge struct {
	// From is the source node ID, or Start.
	From string

	// To is the destination node ID, or End.
	To string

	// When is an optional predicate that determines if this edge should be traversed.
	// If nil, the edge is unconditional (always traverse).
	When Predicate
}

// Predicate is a function that evaluates state to determine if an edge should be traversed.
// Predicates should be pure functions (deterministic, no side effects).
type Predicate func(state State) bool

// Router picks the successors of a node from the post-round snapshot.
//
// Routers registered with AddConditionalEdges run once per round in which
// their source node ran. They may return node names (mapped through an
// optional path map), End, and Sends.
type Router func(state State) Branch

// Branch is the decision returned by a Router.
type Branch struct {
	// Targets lists successor names (or path map keys) in order.
	Targets []string

	// Sends starts one slot per entry with a private input.
	Sends []Send
}

// To returns a Branch routing to the given targets.
func To(targets ...string) Branch {
	return Branch{Targets: targets}
}

// Dispatch returns a Branch that fans out over sends.
func Dispatch(sends ...Send) Branch {
	return Branch{Sends: sends}
}

// BranchOption configures a conditional edge.
type BranchOption func(*branch)

// WithPathMap maps router results to node names. Router results missing from
// the map are used as node names directly.
func WithPathMap(paths map[string]string) BranchOption {
	return func(b *branch) {
		if b.paths == nil {
			b.paths = make(map[string]string, len(paths))
		}
		for k, v := range paths {
			b.paths[k] = v
		}
	}
}

// WithTargets declares the nodes a router may return. The list is used for
// reachability checks and drawing only; it is not enforced at run time.
func WithTargets(names ...string) BranchOption {
	return func(b *branch) {
		b.hints = append(b.hints, names...)
	}
}

// branch is a router attached to a source node.
type branch struct {
	from   string
	router Router
	paths  map[string]string
	hints  []string
}

// resolve maps a router result through the path map.
func (b branch) resolve(target string) string {
	if mapped, ok := b.paths[target]; ok {
		return mapped
	}
	return target
}

// possible lists the declared destinations of the branch, or nil if the
// router may return any node.
func (b branch) possible() []string {
	if len(b.hints) == 0 && len(b.paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(b.hints)+len(b.paths))
	for _, h := range b.hints {
		out = append(out, b.resolve(h))
	}
	for _, v := range b.paths {
		out = append(out, v)
	}
	return out
}
