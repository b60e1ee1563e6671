package graph

import "context"

// Node represents a processing unit in the workflow graph.
// It receives the committed state snapshot, performs computation, and returns
// a NodeResult.
//
// Nodes are the fundamental building blocks of a graph.
// Each node can:
//   - Read channel values from the snapshot
//   - Write channels via Update
//   - Override routing via Route (goto, fan-out, sends, stop)
//   - Suspend the run by returning an InterruptError
//   - Fail the round by returning any other error
//
// Nodes in the same round run concurrently and never observe each other's
// writes; writes become visible in the next round.
type Node interface {
	// Run executes the node's logic with the given context and snapshot.
	Run(ctx context.Context, state State) NodeResult
}

// NodeResult represents the output of a node execution.
//
// It contains all information needed to continue workflow execution:
//   - Update: Channel writes folded in at the end of the round
//   - Route: Command routing in addition to the node's edges
//   - Err: Node-level error (if any)
type NodeResult struct {
	// Update holds the channel writes produced by this node.
	Update Update

	// Route adds routing on top of the node's declared edges.
	// The zero value leaves routing entirely to edges.
	Route Next

	// Err contains any error that occurred during node execution.
	// An InterruptError suspends the run; any other error fails the round.
	Err error
}

// Next is a node's routing command.
//
// It supports these routing modes:
//   - Terminal: Take no successors from this node, not even its edges
//   - Single: Also go to a specific node (To)
//   - Fan-out: Also go to several nodes (Many)
//   - Sends: Also start one slot per Send with a private input
//
// Setting Parent resolves the targets and the Update against the graph that
// mounted the current subgraph instead of the subgraph itself.
type Next struct {
	// To names a single additional node to schedule.
	To string

	// Many names several additional nodes to schedule.
	Many []string

	// Sends schedules one slot per Send.
	Sends []Send

	// Terminal suppresses this node's edges for the round.
	Terminal bool

	// Parent escapes to the enclosing graph.
	Parent bool
}

// Stop returns a Next that schedules nothing after this node.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// GotoMany returns a Next that routes to every listed node in the next round.
func GotoMany(nodeIDs ...string) Next {
	return Next{Many: nodeIDs}
}

// SendTo returns a Next that starts one slot per Send.
func SendTo(sends ...Send) Next {
	return Next{Sends: sends}
}

// ToParent marks the command as targeting the enclosing graph.
func (n Next) ToParent() Next {
	n.Parent = true
	return n
}

// targets lists the goto targets of n in order.
func (n Next) targets() []string {
	out := make([]string, 0, len(n.Many)+1)
	if n.To != "" {
		out = append(out, n.To)
	}
	return append(out, n.Many...)
}

// Send schedules one execution of Node in the next round whose snapshot is
// Input instead of the graph's channels. Sends to the same node are never
// merged, so a router can fan out over a list of items.
type Send struct {
	Node  string
	Input map[string]any
}

// NodeFunc is a function adapter that implements the Node interface.
// It allows using plain functions as nodes without creating custom types.
//
// Example:
//
//	greet := graph.NodeFunc(func(ctx context.Context, s graph.State) graph.NodeResult {
//	    name := graph.Get[string](s, "name")
//	    return graph.NodeResult{Update: graph.Update{"greeting": "hello " + name}}
//	})
type NodeFunc func(ctx context.Context, state State) NodeResult

// Run implements the Node interface for NodeFunc.
func (f NodeFunc) Run(ctx context.Context, state State) NodeResult {
	return f(ctx, state)
}

// NodeError represents an error that occurred during node execution.
// It provides structured error information for better observability and debugging.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
