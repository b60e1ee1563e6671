package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/stategraph/graph"
)

// Section is one planned part of a report.
type Section struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func init() {
	register(Demo{
		Name:        "orchestrator-worker",
		Description: "planner fans sections out to workers; the synthesizer joins them",
		Input:       graph.Update{"topic": "checkpointing"},
		Build:       OrchestratorWorker,
	})
}

func orchestrate(_ context.Context, s graph.State) graph.NodeResult {
	topic := graph.Get[string](s, "topic")
	return update(graph.Update{"sections": []Section{
		{Name: "Introduction", Description: "What " + topic + " is and why it matters."},
		{Name: "Design", Description: "How " + topic + " works in practice."},
		{Name: "Conclusion", Description: "Trade-offs of " + topic + "."},
	}})
}

func writeSection(_ context.Context, s graph.State) graph.NodeResult {
	section, ok, err := graph.Lookup[Section](s, "section")
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	if !ok {
		return graph.NodeResult{Err: fmt.Errorf("write_section: no section in input")}
	}
	return update(graph.Update{"completed_sections": "## " + section.Name + "\n\n" + section.Description})
}

func synthesize(_ context.Context, s graph.State) graph.NodeResult {
	done := graph.Get[[]string](s, "completed_sections")
	return update(graph.Update{"final_report": strings.Join(done, "\n\n---\n\n")})
}

func assignWorkers(s graph.State) graph.Branch {
	sections := graph.Get[[]Section](s, "sections")
	sends := make([]graph.Send, 0, len(sections))
	for _, sec := range sections {
		sends = append(sends, graph.Send{Node: "write_section", Input: map[string]any{"section": sec}})
	}
	return graph.Dispatch(sends...)
}

// OrchestratorWorker builds the planner/worker graph:
//
//	start -> orchestrator -> Send(write_section)* -> synthesizer -> end
func OrchestratorWorker(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		graph.Overwrite[string]("topic", nil),
		graph.Overwrite[[]Section]("sections", nil),
		graph.Append[string]("completed_sections"),
		graph.Overwrite[string]("final_report", nil),
	)

	_ = b.AddNode("orchestrator", graph.NodeFunc(orchestrate))
	_ = b.AddNode("write_section", graph.NodeFunc(writeSection))
	_ = b.AddNode("synthesizer", graph.NodeFunc(synthesize))

	_ = b.StartAt("orchestrator")
	_ = b.AddConditionalEdges("orchestrator", assignWorkers, graph.WithTargets("write_section"))
	_ = b.AddEdge("write_section", "synthesizer")
	_ = b.AddEdge("synthesizer", graph.End)

	return b.Compile(append([]graph.Option{graph.WithName("orchestrator-worker")}, opts...)...)
}
