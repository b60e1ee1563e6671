package demo

import (
	"context"
	"strings"

	"github.com/dshills/stategraph/graph"
)

// ToolCall asks the tools node to run a lookup.
type ToolCall struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

func init() {
	register(Demo{
		Name:        "chat",
		Description: "multi-turn agent loop between call_model and tools; reuse --thread to continue",
		Input:       graph.Update{"messages": User("search checkpointing")},
		Build:       Chat,
	})
}

// callModel answers the latest turn. A user turn starting with "search "
// becomes a tool call; a tool result is summarized; anything else is echoed.
func callModel(_ context.Context, s graph.State) graph.NodeResult {
	msgs := graph.Get[[]Message](s, "messages")
	if len(msgs) == 0 {
		return update(graph.Update{"messages": Assistant("How can I help?")})
	}
	last := msgs[len(msgs)-1]
	switch {
	case last.Role == "tool":
		return update(graph.Update{"messages": Assistant("Here is what I found: " + last.Content)})
	case strings.HasPrefix(strings.ToLower(last.Content), "search "):
		call := &ToolCall{Name: "search", Query: strings.TrimSpace(last.Content[len("search "):])}
		return update(graph.Update{"messages": Message{Role: "assistant", ToolCall: call}})
	default:
		return update(graph.Update{"messages": Assistant("You said: " + last.Content)})
	}
}

func runTools(_ context.Context, s graph.State) graph.NodeResult {
	msgs := graph.Get[[]Message](s, "messages")
	call := msgs[len(msgs)-1].ToolCall
	if call == nil {
		return graph.NodeResult{}
	}
	return update(graph.Update{"messages": Message{Role: "tool", Content: "3 results for " + call.Query}})
}

func routeModelOutput(s graph.State) graph.Branch {
	msgs := graph.Get[[]Message](s, "messages")
	if len(msgs) > 0 && msgs[len(msgs)-1].ToolCall != nil {
		return graph.To("tools")
	}
	return graph.To(graph.End)
}

// Chat builds the agent loop used for multi-turn threads. Invoking a
// finished thread again appends the new turn and restarts from call_model.
func Chat(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(messagesChannel("messages"))

	_ = b.AddNode("call_model", graph.NodeFunc(callModel))
	_ = b.AddNode("tools", graph.NodeFunc(runTools))

	_ = b.StartAt("call_model")
	_ = b.AddConditionalEdges("call_model", routeModelOutput, graph.WithTargets("tools", graph.End))
	_ = b.AddEdge("tools", "call_model")

	return b.Compile(append([]graph.Option{graph.WithName("chat")}, opts...)...)
}
