package demo

import (
	"context"

	"github.com/dshills/stategraph/graph"
)

func init() {
	register(Demo{
		Name:        "parallelization",
		Description: "three writers start together from the entry; the aggregator combines them",
		Input:       graph.Update{"topic": "cats"},
		Build:       Parallelization,
	})
}

func writer(channel, form string) graph.Node {
	return graph.NodeFunc(func(_ context.Context, s graph.State) graph.NodeResult {
		return update(graph.Update{channel: "A " + form + " about " + graph.Get[string](s, "topic") + "."})
	})
}

func aggregate(_ context.Context, s graph.State) graph.NodeResult {
	combined := "Here's a story, joke, and poem about " + graph.Get[string](s, "topic") + "!\n\n" +
		"STORY:\n" + graph.Get[string](s, "story") + "\n\n" +
		"JOKE:\n" + graph.Get[string](s, "joke") + "\n\n" +
		"POEM:\n" + graph.Get[string](s, "poem")
	return update(graph.Update{"combined_output": combined})
}

// Parallelization builds a graph with three entry edges joined by one
// aggregator.
func Parallelization(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		graph.Overwrite[string]("topic", nil),
		graph.Overwrite[string]("joke", nil),
		graph.Overwrite[string]("story", nil),
		graph.Overwrite[string]("poem", nil),
		graph.Overwrite[string]("combined_output", nil),
	)

	_ = b.AddNode("write_joke", writer("joke", "joke"))
	_ = b.AddNode("write_story", writer("story", "story"))
	_ = b.AddNode("write_poem", writer("poem", "poem"))
	_ = b.AddNode("aggregator", graph.NodeFunc(aggregate))

	for _, name := range []string{"write_joke", "write_story", "write_poem"} {
		_ = b.AddEdge(graph.Start, name)
		_ = b.AddEdge(name, "aggregator")
	}
	_ = b.AddEdge("aggregator", graph.End)

	return b.Compile(append([]graph.Option{graph.WithName("parallelization")}, opts...)...)
}
