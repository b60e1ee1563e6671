package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/stategraph/graph/emit"
	"github.com/dshills/stategraph/graph/store"
)

// TestSubgraph_EscapeToParent verifies a parent command routes and writes in
// the enclosing graph.
func TestSubgraph_EscapeToParent(t *testing.T) {
	cb := NewBuilder(Append[string]("steps"))
	_ = cb.AddNode("decide", NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{
			Update: Update{"result": "from child"},
			Route:  Goto("finish").ToParent(),
		}
	}))
	_ = cb.AddNode("unreached", NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{Update: Update{"steps": "unreached"}}
	}))
	_ = cb.StartAt("decide")
	_ = cb.AddEdge("decide", "unreached")
	child := mustCompile(t, cb, WithName("child"))

	pb := NewBuilder(Overwrite[string]("result", nil), Append[string]("visited"))
	_ = pb.AddSubgraph("sub", child, WithEnds("finish"))
	_ = pb.AddNode("finish", visit("finish"))
	_ = pb.StartAt("sub")
	_ = pb.AddEdge("finish", End)
	g := mustCompile(t, pb, WithName("parent"))

	res, err := g.Invoke(context.Background(), nil, RunConfig{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := Get[string](res.State, "result"); got != "from child" {
		t.Errorf("result = %q", got)
	}
	if got := visited(res); !reflect.DeepEqual(got, []string{"finish"}) {
		t.Errorf("visited = %v", got)
	}
	if res.Step != 2 {
		t.Errorf("Step = %d, want 2", res.Step)
	}
}

// TestSubgraph_SeedAndOutputs verifies shared channels seed the child and
// declared outputs flow back.
func TestSubgraph_SeedAndOutputs(t *testing.T) {
	cb := NewBuilder(
		Overwrite[string]("topic", nil),
		Overwrite[string]("summary", nil),
		Append[string]("scratch"),
	)
	_ = cb.AddNode("draft", NodeFunc(func(_ context.Context, s State) NodeResult {
		return NodeResult{Update: Update{"scratch": "notes on " + Get[string](s, "topic")}}
	}))
	_ = cb.AddNode("summarize", NodeFunc(func(_ context.Context, s State) NodeResult {
		notes := Get[[]string](s, "scratch")
		return NodeResult{Update: Update{"summary": "summary of " + notes[0]}}
	}))
	_ = cb.StartAt("draft")
	_ = cb.AddEdge("draft", "summarize")
	_ = cb.AddEdge("summarize", End)
	child := mustCompile(t, cb)

	pb := NewBuilder(Overwrite[string]("topic", nil), Overwrite[string]("summary", nil))
	_ = pb.AddSubgraph("research", child, WithOutputs("summary"))
	_ = pb.StartAt("research")
	_ = pb.AddEdge("research", End)
	g := mustCompile(t, pb)

	res, err := g.Invoke(context.Background(), Update{"topic": "go"}, RunConfig{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := Get[string](res.State, "summary"); got != "summary of notes on go" {
		t.Errorf("summary = %q", got)
	}
	if res.State.Has("scratch") {
		t.Error("child-only channel leaked into parent")
	}
	if res.Step != 1 {
		t.Errorf("Step = %d, want 1", res.Step)
	}
}

// TestSubgraph_AppendOutputs verifies a list channel shared with the child
// gains only the items the child appended.
func TestSubgraph_AppendOutputs(t *testing.T) {
	cb := NewBuilder(Append[string]("log"))
	_ = cb.AddNode("note", NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{Update: Update{"log": "y"}}
	}))
	_ = cb.StartAt("note")
	_ = cb.AddEdge("note", End)
	child := mustCompile(t, cb)

	pb := NewBuilder(Append[string]("log"))
	_ = pb.AddSubgraph("sub", child, WithOutputs("log"))
	_ = pb.StartAt("sub")
	_ = pb.AddEdge("sub", End)
	g := mustCompile(t, pb)

	res, err := g.Invoke(context.Background(), Update{"log": "x"}, RunConfig{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got, want := Get[[]string](res.State, "log"), []string{"x", "y"}; !reflect.DeepEqual(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}

	// A child that appends nothing leaves the parent list alone.
	qb := NewBuilder(Append[string]("log"))
	_ = qb.AddNode("noop", NodeFunc(func(context.Context, State) NodeResult { return NodeResult{} }))
	_ = qb.StartAt("noop")
	_ = qb.AddEdge("noop", End)
	quiet := mustCompile(t, qb)

	pb = NewBuilder(Append[string]("log"))
	_ = pb.AddSubgraph("sub", quiet, WithOutputs("log"))
	_ = pb.StartAt("sub")
	_ = pb.AddEdge("sub", End)
	g = mustCompile(t, pb)

	res, err = g.Invoke(context.Background(), Update{"log": []string{"a", "b"}}, RunConfig{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got, want := Get[[]string](res.State, "log"), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("log = %v, want %v", got, want)
	}
}

// TestSubgraph_InterruptReportedOnce verifies a child interrupt is counted and
// emitted by the parent only.
func TestSubgraph_InterruptReportedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(reg)
	buf := emit.NewBufferedEmitter()

	cb := NewBuilder()
	_ = cb.AddNode("gate", NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{Err: Interrupt("need approval")}
	}))
	_ = cb.StartAt("gate")
	child := mustCompile(t, cb, WithEmitter(buf), WithMetrics(metrics))

	pb := NewBuilder()
	_ = pb.AddSubgraph("review", child)
	_ = pb.StartAt("review")
	g := mustCompile(t, pb, WithEmitter(buf), WithMetrics(metrics), WithCheckpointer(store.NewMemStore()))

	res, err := g.Invoke(context.Background(), nil, RunConfig{ThreadID: "doc-9"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Interrupted {
		t.Fatal("expected interrupt")
	}

	interrupts := 0
	for _, thread := range buf.Threads() {
		interrupts += len(buf.Select(thread, emit.Filter{Msg: emit.Interrupt}))
	}
	if interrupts != 1 {
		t.Errorf("interrupt events = %d, want 1", interrupts)
	}
	if got := buf.Nodes("doc-9", emit.Interrupt); len(got) != 1 || got[0] != "review" {
		t.Errorf("parent interrupt nodes = %v", got)
	}
	if got := buf.Select("doc-9/review", emit.Filter{Msg: emit.RunComplete}); len(got) != 1 || got[0].Meta["interrupted"] != true {
		t.Errorf("child run end = %+v", got)
	}
	if got := counterTotal(t, reg, "stategraph_interrupts_total"); got != 1 {
		t.Errorf("interrupts_total = %v, want 1", got)
	}
}

// TestSubgraph_Interrupt verifies a child interrupt suspends the parent and
// the child re-runs on resume.
func TestSubgraph_Interrupt(t *testing.T) {
	ctx := context.Background()
	cb := NewBuilder(Overwrite[bool]("approved", Default(false)), Overwrite[string]("status", nil))
	_ = cb.AddNode("gate", NodeFunc(func(_ context.Context, s State) NodeResult {
		if !Get[bool](s, "approved") {
			return NodeResult{Err: Interrupt("need approval")}
		}
		return NodeResult{Update: Update{"status": "approved"}}
	}))
	_ = cb.StartAt("gate")
	child := mustCompile(t, cb)

	pb := NewBuilder(Overwrite[bool]("approved", Default(false)), Overwrite[string]("status", nil))
	_ = pb.AddSubgraph("review", child, WithOutputs("status"))
	_ = pb.StartAt("review")
	g := mustCompile(t, pb, WithCheckpointer(store.NewMemStore()))

	cfg := RunConfig{ThreadID: "doc-7"}
	res, err := g.Invoke(ctx, nil, cfg)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Interrupted || res.Interrupt.Node != "review" || res.Interrupt.Message != "need approval" {
		t.Fatalf("expected interrupt at review, got %+v", res.Interrupt)
	}

	res, err = g.Invoke(ctx, Update{"approved": true}, cfg)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Interrupted {
		t.Fatal("unexpected interrupt after approval")
	}
	if got := Get[string](res.State, "status"); got != "approved" {
		t.Errorf("status = %q", got)
	}
}

// TestSubgraph_ChildError verifies child failures fail the parent round.
func TestSubgraph_ChildError(t *testing.T) {
	cb := NewBuilder()
	_ = cb.AddNode("bad", NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{Route: Goto("ghost")}
	}))
	_ = cb.StartAt("bad")
	child := mustCompile(t, cb)

	pb := NewBuilder()
	_ = pb.AddSubgraph("sub", child)
	_ = pb.StartAt("sub")
	g := mustCompile(t, pb)

	_, err := g.Invoke(context.Background(), nil, RunConfig{})
	var re *RoutingError
	if !errors.As(err, &re) || re.Target != "ghost" {
		t.Errorf("expected RoutingError for ghost, got %v", err)
	}
}
