package demo

import (
	"context"
	"strings"

	"github.com/dshills/stategraph/graph"
)

// Message is one chat turn. ID is assigned when the message is first merged
// into a history; writing a message with an existing ID replaces that turn.
type Message struct {
	ID       string    `json:"id,omitempty"`
	Role     string    `json:"role"`
	Content  string    `json:"content"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// User and Assistant build chat turns.
func User(content string) Message      { return Message{Role: "user", Content: content} }
func Assistant(content string) Message { return Message{Role: "assistant", Content: content} }

// RefundApproved is the reply written once a refund is authorized.
const RefundApproved = "Refund approved!"

func init() {
	register(Demo{
		Name:        "customer-support",
		Description: "triage routes to billing or technical; refunds wait for human authorization",
		Input:       graph.Update{"messages": User("I was charged twice, I want a refund")},
		Build:       CustomerSupport,
	})
}

// SupportSettings configures the customer support demo through
// RunConfig.Params.
type SupportSettings struct {
	UserID            string   `json:"user_id"`
	BillingKeywords   []string `json:"billing_keywords"`
	TechnicalKeywords []string `json:"technical_keywords"`
	RefundKeywords    []string `json:"refund_keywords"`
}

func supportSettings(ctx context.Context) (SupportSettings, error) {
	settings := SupportSettings{
		UserID:            "defaultUser",
		BillingKeywords:   []string{"bill", "charge", "refund", "invoice"},
		TechnicalKeywords: []string{"error", "crash", "broken", "bug"},
		RefundKeywords:    []string{"refund", "money back"},
	}
	if err := graph.DecodeParams(graph.ConfigFromContext(ctx), &settings); err != nil {
		return settings, err
	}
	return settings, nil
}

func lastUserMessage(s graph.State) string {
	msgs := graph.Get[[]Message](s, "messages")
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return strings.ToLower(msgs[i].Content)
		}
	}
	return ""
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func initialSupport(ctx context.Context, s graph.State) graph.NodeResult {
	settings, err := supportSettings(ctx)
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	text := lastUserMessage(s)
	next := "conversation"
	switch {
	case containsAny(text, settings.BillingKeywords):
		next = "billing"
	case containsAny(text, settings.TechnicalKeywords):
		next = "technical"
	}
	return update(graph.Update{
		"messages":  Assistant("Hi " + settings.UserID + ", let me look into that."),
		"next_node": next,
	})
}

func technicalSupport(context.Context, graph.State) graph.NodeResult {
	return update(graph.Update{"messages": Assistant("Please restart the app and send us the error log.")})
}

func billingSupport(ctx context.Context, s graph.State) graph.NodeResult {
	settings, err := supportSettings(ctx)
	if err != nil {
		return graph.NodeResult{Err: err}
	}
	next := "refuse"
	if containsAny(lastUserMessage(s), settings.RefundKeywords) {
		next = "accept"
	}
	return update(graph.Update{
		"messages":  Assistant("I can see the duplicate charge on your account."),
		"next_node": next,
	})
}

func refundTool(_ context.Context, s graph.State) graph.NodeResult {
	if !graph.Get[bool](s, "authorized_refund") {
		return graph.NodeResult{Err: graph.Interrupt("Human authorization required.")}
	}
	return update(graph.Update{"messages": Assistant(RefundApproved)})
}

func routeInitialSupport(s graph.State) graph.Branch {
	next := graph.Get[string](s, "next_node")
	switch {
	case strings.Contains(next, "billing"):
		return graph.To("billing")
	case strings.Contains(next, "technical"):
		return graph.To("technical")
	default:
		return graph.To("conversation")
	}
}

func routeBillingSupport(s graph.State) graph.Branch {
	if strings.Contains(graph.Get[string](s, "next_node"), "accept") {
		return graph.To("accept")
	}
	return graph.To("refuse")
}

// CustomerSupport builds the support graph. refund_tool interrupts until
// "authorized_refund" is set, typically with Graph.UpdateState, so the graph
// needs a checkpointer to be resumed.
//
//	start -> initial_support -> billing_support -> refund_tool -> end
//	                         \-> technical_support -> end
func CustomerSupport(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder(
		messagesChannel("messages"),
		graph.Overwrite[string]("next_node", nil),
		graph.Overwrite("authorized_refund", graph.Default(false)),
	)

	_ = b.AddNode("initial_support", graph.NodeFunc(initialSupport))
	_ = b.AddNode("technical_support", graph.NodeFunc(technicalSupport))
	_ = b.AddNode("billing_support", graph.NodeFunc(billingSupport))
	_ = b.AddNode("refund_tool", graph.NodeFunc(refundTool))

	_ = b.StartAt("initial_support")
	_ = b.AddConditionalEdges("initial_support", routeInitialSupport, graph.WithPathMap(map[string]string{
		"technical":    "technical_support",
		"billing":      "billing_support",
		"conversation": graph.End,
	}))
	_ = b.AddConditionalEdges("billing_support", routeBillingSupport, graph.WithPathMap(map[string]string{
		"accept": "refund_tool",
		"refuse": graph.End,
	}))
	_ = b.AddEdge("refund_tool", graph.End)
	_ = b.AddEdge("technical_support", graph.End)

	return b.Compile(append([]graph.Option{graph.WithName("customer-support")}, opts...)...)
}
