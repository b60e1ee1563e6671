package demo

import (
	"context"
	"sort"
	"strings"

	"github.com/dshills/stategraph/graph"
)

// ScoredValue is a fan-out result ranked by the sink node.
type ScoredValue struct {
	NodeName string `json:"node_name"`
	Score    int    `json:"score"`
}

func init() {
	register(Demo{
		Name:        "branching",
		Description: "router picks b+c or c+d; the sink ranks their scored writes",
		Input:       graph.Update{"which": "bc"},
		Build:       Branching,
	})
}

// reduceFanouts appends scored values. An empty write clears the channel.
func reduceFanouts(current []ScoredValue, updates [][]ScoredValue) []ScoredValue {
	out := append([]ScoredValue{}, current...)
	for _, u := range updates {
		if len(u) == 0 {
			out = []ScoredValue{}
			continue
		}
		out = append(out, u...)
	}
	return out
}

func scored(name string, score int) graph.Node {
	return graph.NodeFunc(func(context.Context, graph.State) graph.NodeResult {
		return update(graph.Update{"fanout_values": []ScoredValue{{NodeName: name, Score: score}}})
	})
}

// routeCDorBC sends the run to c and d when "which" is "cd" (quotes ignored),
// and to b and c otherwise.
func routeCDorBC(s graph.State) graph.Branch {
	which := strings.NewReplacer(`"`, "", "'", "").Replace(graph.Get[string](s, "which"))
	if which == "cd" {
		return graph.To("c", "d")
	}
	return graph.To("b", "c")
}

// Branching builds the conditional fan-out graph:
//
//	start -> a -> (b, c | c, d) -> e -> end
func Branching(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		graph.Append[string]("aggregate"),
		graph.Overwrite("which", graph.Default("")),
		graph.Reduce("fanout_values", reduceFanouts, func() []ScoredValue { return []ScoredValue{} }),
	)

	_ = b.AddNode("a", graph.NodeFunc(func(context.Context, graph.State) graph.NodeResult {
		return update(graph.Update{"aggregate": "Node A"})
	}))
	_ = b.AddNode("b", scored("Node B", 1))
	_ = b.AddNode("c", scored("Node C", 2))
	_ = b.AddNode("d", scored("Node D", 3))
	_ = b.AddNode("e", graph.NodeFunc(func(_ context.Context, s graph.State) graph.NodeResult {
		values := graph.Get[[]ScoredValue](s, "fanout_values")
		sort.SliceStable(values, func(i, j int) bool { return values[i].Score > values[j].Score })
		ranked := make([]string, 0, len(values)+1)
		for _, v := range values {
			ranked = append(ranked, v.NodeName)
		}
		ranked = append(ranked, "Node E")
		return update(graph.Update{
			"aggregate":     ranked,
			"fanout_values": []ScoredValue{},
		})
	}))

	_ = b.StartAt("a")
	_ = b.AddConditionalEdges("a", routeCDorBC, graph.WithTargets("b", "c", "d"))
	_ = b.AddEdge("b", "e")
	_ = b.AddEdge("c", "e")
	_ = b.AddEdge("d", "e")
	_ = b.AddEdge("e", graph.End)

	return b.Compile(append([]graph.Option{graph.WithName("branching")}, opts...)...)
}
