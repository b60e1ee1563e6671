package demo

import (
	"context"
	"fmt"

	"github.com/dshills/stategraph/graph"
)

func init() {
	register(Demo{
		Name:        "command",
		Description: "subgraph node updates the parent and routes to node_b or node_c with a parent command",
		Input:       graph.Update{},
		Build:       Command,
	})
}

// CommandSettings configures the command demo through RunConfig.Params.
type CommandSettings struct {
	Destination string `json:"destination"`
}

// chooseDestination writes "a" to the parent's foo and routes the parent to
// the configured node.
func chooseDestination(ctx context.Context, _ graph.State) graph.NodeResult {
	settings := CommandSettings{Destination: "node_b"}
	if err := graph.DecodeParams(graph.ConfigFromContext(ctx), &settings); err != nil {
		return graph.NodeResult{Err: err}
	}
	if settings.Destination != "node_b" && settings.Destination != "node_c" {
		return graph.NodeResult{Err: fmt.Errorf("destination must be node_b or node_c, got %q", settings.Destination)}
	}
	return graph.NodeResult{
		Update: graph.Update{"foo": "a"},
		Route:  graph.Goto(settings.Destination).ToParent(),
	}
}

func suffix(tag string) graph.Node {
	return graph.NodeFunc(func(_ context.Context, s graph.State) graph.NodeResult {
		return update(graph.Update{"foo": graph.Get[string](s, "foo") + "|" + tag})
	})
}

// Command builds a parent graph whose only entry is a subgraph. There are no
// edges between the subgraph, node_b and node_c; the subgraph's parent
// command picks the next node.
func Command(opts ...graph.Option) (*graph.Graph, error) {
	sb := graph.NewBuilder(graph.Overwrite[string]("foo", nil))
	_ = sb.AddNode("node_a", graph.NodeFunc(chooseDestination))
	_ = sb.StartAt("node_a")
	sub, err := sb.Compile(graph.WithName("command-subgraph"))
	if err != nil {
		return nil, err
	}

	b := graph.NewBuilder(graph.Overwrite[string]("foo", nil))
	_ = b.AddSubgraph("subgraph", sub, graph.WithEnds("node_b", "node_c"))
	_ = b.AddNode("node_b", suffix("b"))
	_ = b.AddNode("node_c", suffix("c"))
	_ = b.StartAt("subgraph")

	return b.Compile(append([]graph.Option{graph.WithName("command")}, opts...)...)
}
