package demo

import (
	"context"
	"fmt"

	"github.com/dshills/stategraph/graph"
)

func init() {
	register(Demo{
		Name:        "map-reduce",
		Description: "one Send per subject writes a joke; the judge picks the best",
		Input:       graph.Update{"topic": "animals"},
		Build:       MapReduce,
	})
}

// JokeSettings configures the map-reduce demo through RunConfig.Params.
type JokeSettings struct {
	MaxSubjects int `json:"max_subjects"`
}

func jokeSettings(ctx context.Context) (JokeSettings, error) {
	settings := JokeSettings{MaxSubjects: 3}
	if err := graph.DecodeParams(graph.ConfigFromContext(ctx), &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func generateTopics(ctx context.Context, s graph.State) graph.NodeResult {
	settings, err := jokeSettings(ctx)
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	topic := graph.Get[string](s, "topic")
	candidates := []string{
		"tiny " + topic,
		topic + " at night",
		"retired " + topic,
		topic + " in space",
	}
	if settings.MaxSubjects < len(candidates) {
		candidates = candidates[:settings.MaxSubjects]
	}
	return update(graph.Update{"subjects": candidates})
}

func generateJoke(_ context.Context, s graph.State) graph.NodeResult {
	subject, ok, err := graph.Lookup[string](s, "subject")
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	if !ok {
		return graph.NodeResult{Err: fmt.Errorf("generate_joke: no subject in input")}
	}
	return update(graph.Update{"jokes": fmt.Sprintf("Why did the %s cross the road? To get to the other punchline.", subject)})
}

// bestJoke picks the longest joke; ties go to the earliest.
func bestJoke(_ context.Context, s graph.State) graph.NodeResult {
	best := ""
	for _, j := range graph.Get[[]string](s, "jokes") {
		if len(j) > len(best) {
			best = j
		}
	}
	return update(graph.Update{"best_selected_joke": best})
}

func continueToJokes(s graph.State) graph.Branch {
	subjects := graph.Get[[]string](s, "subjects")
	sends := make([]graph.Send, 0, len(subjects))
	for _, subject := range subjects {
		sends = append(sends, graph.Send{Node: "generate_joke", Input: map[string]any{"subject": subject}})
	}
	return graph.Dispatch(sends...)
}

// MapReduce builds the fan-out/fan-in graph:
//
//	start -> generate_topics -> Send(generate_joke)* -> best_joke -> end
func MapReduce(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		graph.Overwrite[string]("topic", nil),
		graph.Overwrite[[]string]("subjects", nil),
		graph.Append[string]("jokes"),
		graph.Overwrite[string]("best_selected_joke", nil),
	)

	_ = b.AddNode("generate_topics", graph.NodeFunc(generateTopics))
	_ = b.AddNode("generate_joke", graph.NodeFunc(generateJoke))
	_ = b.AddNode("best_joke", graph.NodeFunc(bestJoke))

	_ = b.StartAt("generate_topics")
	_ = b.AddConditionalEdges("generate_topics", continueToJokes, graph.WithTargets("generate_joke"))
	_ = b.AddEdge("generate_joke", "best_joke")
	_ = b.AddEdge("best_joke", graph.End)

	return b.Compile(append([]graph.Option{graph.WithName("map-reduce")}, opts...)...)
}
