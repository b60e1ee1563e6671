package demo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dshills/stategraph/graph"
)

func init() {
	register(Demo{
		Name:        "recursion-limit",
		Description: "counting loop that ends at max_count unless the recursion limit stops it first",
		Input:       graph.Update{"max_count": 10},
		Build:       RecursionLimit,
	})
}

func sum(current int, updates []int) int {
	for _, u := range updates {
		current += u
	}
	return current
}

func mississippi(_ context.Context, s graph.State) graph.NodeResult {
	count := graph.Get[int](s, "count")
	return update(graph.Update{
		"aggregate": fmt.Sprintf("%d Mississippi", count+1),
		"count":     1,
	})
}

func pennsylvania(_ context.Context, s graph.State) graph.NodeResult {
	count := graph.Get[int](s, "count")
	thirds := strconv.FormatFloat(float64(count+1)/3, 'f', -1, 64)
	return update(graph.Update{"aggregate": thirds + " Pennsylvania"})
}

// loopRouter ends the run once count reaches max_count and continues to next
// otherwise.
func loopRouter(next ...string) graph.Router {
	return func(s graph.State) graph.Branch {
		if graph.Get[int](s, "count") >= graph.Get[int](s, "max_count") {
			return graph.To(graph.End)
		}
		return graph.To(next...)
	}
}

// RecursionLimit builds a three-node counting cycle; the third round of each
// cycle also runs count_penn alongside count_mod3.
func RecursionLimit(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		graph.Append[string]("aggregate"),
		graph.Overwrite[int]("max_count", nil),
		graph.Reduce("count", sum, graph.Default(0)),
	)

	_ = b.AddNode("count_mod1", graph.NodeFunc(mississippi))
	_ = b.AddNode("count_mod2", graph.NodeFunc(mississippi))
	_ = b.AddNode("count_mod3", graph.NodeFunc(mississippi))
	_ = b.AddNode("count_penn", graph.NodeFunc(pennsylvania))

	_ = b.StartAt("count_mod1")
	_ = b.AddConditionalEdges("count_mod1", loopRouter("count_mod2"), graph.WithTargets("count_mod2", graph.End))
	_ = b.AddConditionalEdges("count_mod2", loopRouter("count_mod3", "count_penn"),
		graph.WithTargets("count_mod3", "count_penn", graph.End))
	_ = b.AddConditionalEdges("count_mod3", loopRouter("count_mod1"), graph.WithTargets("count_mod1", graph.End))
	_ = b.AddConditionalEdges("count_penn", loopRouter("count_mod1"), graph.WithTargets("count_mod1", graph.End))

	return b.Compile(append([]graph.Option{graph.WithName("recursion-limit")}, opts...)...)
}
