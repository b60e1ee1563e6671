package demo

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/stategraph/graph"
	"github.com/dshills/stategraph/graph/store"
)

func build(t *testing.T, fn func(...graph.Option) (*graph.Graph, error), opts ...graph.Option) *graph.Graph {
	t.Helper()
	g, err := fn(opts...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func invoke(t *testing.T, g *graph.Graph, input graph.Update, cfg graph.RunConfig) *graph.Result {
	t.Helper()
	res, err := g.Invoke(context.Background(), input, cfg)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	return res
}

func lastMessage(res *graph.Result) Message {
	msgs := graph.Get[[]Message](res.State, "messages")
	if len(msgs) == 0 {
		return Message{}
	}
	return msgs[len(msgs)-1]
}

// TestRegistry verifies every demo is registered, compiles and runs with its
// default input.
func TestRegistry(t *testing.T) {
	want := []string{
		"branching", "chat", "command", "customer-support",
		"map-reduce", "orchestrator-worker", "parallelization", "recursion-limit",
	}
	if got := Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	for _, d := range All() {
		t.Run(d.Name, func(t *testing.T) {
			if d.Description == "" {
				t.Error("missing description")
			}
			g := build(t, d.Build, graph.WithCheckpointer(store.NewMemStore()))
			if g.Name() != d.Name {
				t.Errorf("Name() = %q", g.Name())
			}
			if !strings.Contains(g.Mermaid(), "graph TD;") {
				t.Error("Mermaid output missing header")
			}
			invoke(t, g, d.Input, graph.RunConfig{ThreadID: "default-" + d.Name})
		})
	}

	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup of unknown demo succeeded")
	}
}

// TestBranching verifies the router choice and the ranked fan-in.
func TestBranching(t *testing.T) {
	g := build(t, Branching)

	tests := []struct {
		which string
		want  []string
	}{
		{"bc", []string{"Node A", "Node C", "Node B", "Node E"}},
		{"cd", []string{"Node A", "Node D", "Node C", "Node E"}},
		{`"cd"`, []string{"Node A", "Node D", "Node C", "Node E"}},
		{"", []string{"Node A", "Node C", "Node B", "Node E"}},
	}
	for _, tt := range tests {
		t.Run(tt.which, func(t *testing.T) {
			res := invoke(t, g, graph.Update{"which": tt.which}, graph.RunConfig{})
			if got := graph.Get[[]string](res.State, "aggregate"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("aggregate = %v, want %v", got, tt.want)
			}
			if got := graph.Get[[]ScoredValue](res.State, "fanout_values"); len(got) != 0 {
				t.Errorf("fanout_values = %v, want cleared", got)
			}
			if res.Step != 3 {
				t.Errorf("Step = %d, want 3", res.Step)
			}
		})
	}
}

// TestReduceFanouts verifies an empty write clears the channel.
func TestReduceFanouts(t *testing.T) {
	cur := []ScoredValue{{NodeName: "x", Score: 1}}
	got := reduceFanouts(cur, [][]ScoredValue{{{NodeName: "y", Score: 2}}, {}, {{NodeName: "z", Score: 3}}})
	want := []ScoredValue{{NodeName: "z", Score: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("reduceFanouts = %v, want %v", got, want)
	}
	if len(cur) != 1 {
		t.Error("reduceFanouts modified its input")
	}
}

// TestMapReduce verifies one joke per subject and the judge's pick.
func TestMapReduce(t *testing.T) {
	g := build(t, MapReduce)

	res := invoke(t, g, graph.Update{"topic": "animals"}, graph.RunConfig{})
	jokes := graph.Get[[]string](res.State, "jokes")
	if len(jokes) != 3 {
		t.Fatalf("jokes = %v, want 3", jokes)
	}
	for i, subject := range []string{"tiny animals", "animals at night", "retired animals"} {
		if !strings.Contains(jokes[i], subject) {
			t.Errorf("jokes[%d] = %q, want subject %q", i, jokes[i], subject)
		}
	}
	if got := graph.Get[string](res.State, "best_selected_joke"); got != jokes[1] {
		t.Errorf("best_selected_joke = %q, want %q", got, jokes[1])
	}
	if res.Step != 3 {
		t.Errorf("Step = %d, want 3", res.Step)
	}

	res = invoke(t, g, graph.Update{"topic": "cats"}, graph.RunConfig{Params: map[string]any{"max_subjects": "2"}})
	if got := graph.Get[[]string](res.State, "jokes"); len(got) != 2 {
		t.Errorf("jokes with max_subjects=2: %v", got)
	}
}

// TestOrchestratorWorker verifies sections are written in plan order and
// joined.
func TestOrchestratorWorker(t *testing.T) {
	g := build(t, OrchestratorWorker, graph.WithCheckpointer(store.NewMemStore()))

	res := invoke(t, g, graph.Update{"topic": "caching"}, graph.RunConfig{ThreadID: "report"})
	done := graph.Get[[]string](res.State, "completed_sections")
	if len(done) != 3 {
		t.Fatalf("completed_sections = %v", done)
	}
	report := graph.Get[string](res.State, "final_report")
	if report != strings.Join(done, "\n\n---\n\n") {
		t.Errorf("final_report = %q", report)
	}
	for i, name := range []string{"## Introduction", "## Design", "## Conclusion"} {
		if !strings.HasPrefix(done[i], name) {
			t.Errorf("section %d = %q, want prefix %q", i, done[i], name)
		}
	}
}

// TestCustomerSupport_Refund verifies the refund waits for authorization and
// completes after UpdateState.
func TestCustomerSupport_Refund(t *testing.T) {
	ctx := context.Background()
	g := build(t, CustomerSupport, graph.WithCheckpointer(store.NewMemStore()))
	cfg := graph.RunConfig{ThreadID: "refund-1"}

	res := invoke(t, g, graph.Update{"messages": User("I was charged twice, I want a refund")}, cfg)
	if !res.Interrupted {
		t.Fatal("expected interrupt")
	}
	if res.Interrupt.Node != "refund_tool" || res.Interrupt.Message != "Human authorization required." {
		t.Errorf("Interrupt = %+v", res.Interrupt)
	}
	if res.Step != 2 {
		t.Errorf("Step = %d, want 2", res.Step)
	}

	// Resuming without authorization interrupts again.
	res = invoke(t, g, nil, cfg)
	if !res.Interrupted {
		t.Fatal("expected second interrupt")
	}

	snap, err := g.UpdateState(ctx, "refund-1", graph.Update{"authorized_refund": true})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if !reflect.DeepEqual(snap.Next, []string{"refund_tool"}) {
		t.Errorf("Next = %v", snap.Next)
	}

	res = invoke(t, g, nil, cfg)
	if res.Interrupted {
		t.Fatal("unexpected interrupt after authorization")
	}
	if got := lastMessage(res); got.Role != "assistant" || got.Content != RefundApproved {
		t.Errorf("last message = %+v", got)
	}
	if res.Step != 3 {
		t.Errorf("Step = %d, want 3", res.Step)
	}
}

// TestCustomerSupport_Routes verifies the triage paths that do not refund.
func TestCustomerSupport_Routes(t *testing.T) {
	g := build(t, CustomerSupport)

	tests := []struct {
		name  string
		text  string
		steps int
		last  string
	}{
		{"technical", "The app crashed with an error", 2, "Please restart the app and send us the error log."},
		{"billing refused", "I have a question about my bill", 2, "I can see the duplicate charge on your account."},
		{"conversation", "hello there", 1, "Hi defaultUser, let me look into that."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, g, graph.Update{"messages": User(tt.text)}, graph.RunConfig{})
			if res.Interrupted {
				t.Fatal("unexpected interrupt")
			}
			if res.Step != tt.steps {
				t.Errorf("Step = %d, want %d", res.Step, tt.steps)
			}
			if got := lastMessage(res).Content; got != tt.last {
				t.Errorf("last message = %q, want %q", got, tt.last)
			}
		})
	}

	res := invoke(t, g, graph.Update{"messages": User("hello")}, graph.RunConfig{Params: map[string]any{"user_id": "ada"}})
	if got := lastMessage(res).Content; got != "Hi ada, let me look into that." {
		t.Errorf("greeting = %q", got)
	}
}

// TestRecursionLimit verifies the counting loop and the limit error.
func TestRecursionLimit(t *testing.T) {
	ctx := context.Background()
	g := build(t, RecursionLimit, graph.WithCheckpointer(store.NewMemStore()))

	res := invoke(t, g, graph.Update{"max_count": 10}, graph.RunConfig{ThreadID: "full"})
	agg := graph.Get[[]string](res.State, "aggregate")
	if len(agg) != 13 {
		t.Fatalf("aggregate has %d entries: %v", len(agg), agg)
	}
	if agg[2] != "3 Mississippi" || agg[3] != "1 Pennsylvania" || agg[len(agg)-1] != "10 Mississippi" {
		t.Errorf("aggregate = %v", agg)
	}
	if got := graph.Get[int](res.State, "count"); got != 10 {
		t.Errorf("count = %d, want 10", got)
	}
	if res.Step != 10 {
		t.Errorf("Step = %d, want 10", res.Step)
	}

	_, err := g.Invoke(ctx, graph.Update{"max_count": 10}, graph.RunConfig{ThreadID: "limited", RecursionLimit: 4})
	var rle *graph.RecursionLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RecursionLimitError", err)
	}
	if !errors.Is(err, graph.ErrRecursionLimit) || rle.Limit != 4 {
		t.Errorf("err = %#v", rle)
	}

	snap, err := g.GetState(ctx, "limited")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := graph.Get[int](snap.State, "count"); got != 4 {
		t.Errorf("count at limit = %d, want 4", got)
	}

	res = invoke(t, g, nil, graph.RunConfig{ThreadID: "limited"})
	if got := graph.Get[int](res.State, "count"); got != 10 {
		t.Errorf("count after resume = %d, want 10", got)
	}
	if res.Step != 10 {
		t.Errorf("Step after resume = %d, want 10", res.Step)
	}
}

// TestCommand verifies the subgraph's parent command picks the destination.
func TestCommand(t *testing.T) {
	g := build(t, Command)

	res := invoke(t, g, nil, graph.RunConfig{})
	if got := graph.Get[string](res.State, "foo"); got != "a|b" {
		t.Errorf("foo = %q, want a|b", got)
	}
	if res.Step != 2 {
		t.Errorf("Step = %d, want 2", res.Step)
	}

	res = invoke(t, g, nil, graph.RunConfig{Params: map[string]any{"destination": "node_c"}})
	if got := graph.Get[string](res.State, "foo"); got != "a|c" {
		t.Errorf("foo = %q, want a|c", got)
	}

	_, err := g.Invoke(context.Background(), nil, graph.RunConfig{Params: map[string]any{"destination": "node_x"}})
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) {
		t.Fatalf("err = %v, want NodeError", err)
	}
}

// TestParallelization verifies the three entry nodes run in one round.
func TestParallelization(t *testing.T) {
	g := build(t, Parallelization)

	res := invoke(t, g, graph.Update{"topic": "cats"}, graph.RunConfig{})
	want := "Here's a story, joke, and poem about cats!\n\n" +
		"STORY:\nA story about cats.\n\n" +
		"JOKE:\nA joke about cats.\n\n" +
		"POEM:\nA poem about cats."
	if got := graph.Get[string](res.State, "combined_output"); got != want {
		t.Errorf("combined_output = %q", got)
	}
	if res.Step != 2 {
		t.Errorf("Step = %d, want 2", res.Step)
	}
}

// TestChat_MultiTurn verifies a finished thread restarts from the entry with
// its history and step counter intact.
func TestChat_MultiTurn(t *testing.T) {
	g := build(t, Chat, graph.WithCheckpointer(store.NewMemStore()))
	cfg := graph.RunConfig{ThreadID: "chat-1"}

	res := invoke(t, g, graph.Update{"messages": User("search checkpointing")}, cfg)
	if got := lastMessage(res).Content; got != "Here is what I found: 3 results for checkpointing" {
		t.Errorf("first answer = %q", got)
	}
	if res.Step != 3 {
		t.Errorf("Step = %d, want 3", res.Step)
	}

	res = invoke(t, g, graph.Update{"messages": User("thanks")}, cfg)
	if got := lastMessage(res).Content; got != "You said: thanks" {
		t.Errorf("second answer = %q", got)
	}
	if res.Step != 4 {
		t.Errorf("Step = %d, want 4", res.Step)
	}
	if got := graph.Get[[]Message](res.State, "messages"); len(got) != 6 {
		t.Errorf("messages = %d, want 6", len(got))
	}
}

// TestMergeMessages verifies turns are appended with IDs and a turn written
// with a known ID replaces the original in place.
func TestMergeMessages(t *testing.T) {
	merged, err := mergeMessages([]Message{}, []any{User("hi"), []Message{Assistant("hello")}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	msgs := merged.([]Message)
	if len(msgs) != 2 || msgs[0].ID == "" || msgs[1].ID == "" || msgs[0].ID == msgs[1].ID {
		t.Fatalf("messages = %+v", msgs)
	}

	edited := Assistant("hello again")
	edited.ID = msgs[1].ID
	merged, err = mergeMessages(msgs, []any{edited, User("bye")})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := merged.([]Message)
	if len(got) != 3 {
		t.Fatalf("messages = %+v, want 3", got)
	}
	if got[1].ID != edited.ID || got[1].Content != "hello again" {
		t.Errorf("replaced turn = %+v", got[1])
	}
	if got[2].Content != "bye" {
		t.Errorf("appended turn = %+v", got[2])
	}
	if msgs[1].Content != "hello" {
		t.Error("merge modified the current history")
	}

	// Generic JSON shapes, as restored from a checkpoint.
	restored := []any{map[string]any{"id": "m1", "role": "user", "content": "hi"}}
	merged, err = mergeMessages(restored, []any{map[string]any{"id": "m1", "role": "user", "content": "hi, edited"}})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := merged.([]Message); len(got) != 1 || got[0].Content != "hi, edited" {
		t.Errorf("messages = %+v", got)
	}

	if _, err := mergeMessages(nil, []any{42}); err == nil {
		t.Error("expected an error for a non-message write")
	}
}
