package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dshills/stategraph/graph/store"
)

// latestOnly is a checkpointer that keeps no history.
type latestOnly struct {
	inner *store.MemStore
}

func (l latestOnly) Save(ctx context.Context, cp store.Checkpoint) error {
	return l.inner.Save(ctx, cp)
}
func (l latestOnly) Load(ctx context.Context, id string) (store.Checkpoint, error) {
	return l.inner.Load(ctx, id)
}

// failingStore fails every save.
type failingStore struct{}

func (failingStore) Save(context.Context, store.Checkpoint) error { return errors.New("disk full") }
func (failingStore) Load(context.Context, string) (store.Checkpoint, error) {
	return store.Checkpoint{}, store.ErrNotFound
}

func linearGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	b := NewBuilder(Append[string]("visited"))
	_ = b.AddNode("a", visit("a"))
	_ = b.AddNode("b", visit("b"))
	_ = b.AddNode("c", visit("c"))
	_ = b.StartAt("a")
	_ = b.AddEdge("a", "b")
	_ = b.AddEdge("b", "c")
	_ = b.AddEdge("c", End)
	return mustCompile(t, b, opts...)
}

// TestGetState verifies snapshot lookup errors and contents.
func TestGetState(t *testing.T) {
	ctx := context.Background()

	_, err := linearGraph(t).GetState(ctx, "x")
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "NO_CHECKPOINTER" {
		t.Errorf("expected NO_CHECKPOINTER, got %v", err)
	}

	g := linearGraph(t, WithCheckpointer(store.NewMemStore()))
	if _, err := g.GetState(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := g.Invoke(ctx, nil, RunConfig{ThreadID: "t1"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	snap, err := g.GetState(ctx, "t1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if snap.ThreadID != "t1" || snap.Step != 3 || len(snap.Next) != 0 || snap.Interrupted {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := Get[[]string](snap.State, "visited"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("visited = %v", got)
	}
}

// TestHistory verifies every committed round is listed newest first.
func TestHistory(t *testing.T) {
	ctx := context.Background()
	g := linearGraph(t, WithCheckpointer(store.NewMemStore()))
	if _, err := g.Invoke(ctx, nil, RunConfig{ThreadID: "h"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	history, err := g.History(ctx, "h", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d entries, want 3", len(history))
	}
	wantNext := [][]string{nil, {"c"}, {"b"}}
	for i, snap := range history {
		if snap.Step != 3-i {
			t.Errorf("entry %d step = %d", i, snap.Step)
		}
		if !reflect.DeepEqual(snap.Next, wantNext[i]) {
			t.Errorf("entry %d next = %v, want %v", i, snap.Next, wantNext[i])
		}
	}

	limited, err := g.History(ctx, "h", 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("limited history = %d entries, err %v", len(limited), err)
	}

	g2 := linearGraph(t, WithCheckpointer(latestOnly{inner: store.NewMemStore()}))
	_, err = g2.History(ctx, "h", 0)
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "UNSUPPORTED" {
		t.Errorf("expected UNSUPPORTED, got %v", err)
	}
}

// TestUpdateState verifies external writes go through reducers and keep the
// suspended frontier.
func TestUpdateState(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(Overwrite[bool]("authorized", Default(false)), Append[string]("messages"))
	_ = b.AddNode("refund", NodeFunc(func(_ context.Context, s State) NodeResult {
		if !Get[bool](s, "authorized") {
			return NodeResult{Err: Interrupt("approve refund?")}
		}
		return NodeResult{Update: Update{"messages": "Refund approved!"}}
	}))
	_ = b.StartAt("refund")
	g := mustCompile(t, b, WithCheckpointer(store.NewMemStore()))

	cfg := RunConfig{ThreadID: "ticket-9"}
	res, err := g.Invoke(ctx, nil, cfg)
	if err != nil || !res.Interrupted {
		t.Fatalf("expected interrupt, got %v %v", res, err)
	}

	snap, err := g.UpdateState(ctx, "ticket-9", Update{"authorized": true, "messages": "agent approved"})
	if err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if !snap.Interrupted || !reflect.DeepEqual(snap.Next, []string{"refund"}) || snap.Step != 0 {
		t.Errorf("snapshot after update = %+v", snap)
	}
	if !Get[bool](snap.State, "authorized") {
		t.Error("authorized not updated")
	}

	res, err = g.Invoke(ctx, nil, cfg)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	want := []string{"agent approved", "Refund approved!"}
	if got := Get[[]string](res.State, "messages"); !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	if _, err := g.UpdateState(ctx, "ticket-9", Update{"ghost": 1}); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}

	fresh, err := g.UpdateState(ctx, "new-thread", Update{"messages": "hello"})
	if err != nil {
		t.Fatalf("UpdateState new thread: %v", err)
	}
	if fresh.Step != 0 || !reflect.DeepEqual(Get[[]string](fresh.State, "messages"), []string{"hello"}) {
		t.Errorf("fresh snapshot = %+v", fresh)
	}

	if _, err := linearGraph(t).UpdateState(ctx, "x", nil); err == nil {
		t.Error("expected error without checkpointer")
	}
}

// TestInvoke_StoreFailure verifies checkpoint failures are engine errors.
func TestInvoke_StoreFailure(t *testing.T) {
	g := linearGraph(t, WithCheckpointer(failingStore{}))
	_, err := g.Invoke(context.Background(), nil, RunConfig{ThreadID: "t"})
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "STORE_ERROR" {
		t.Fatalf("expected STORE_ERROR, got %v", err)
	}
	if ee.Unwrap() == nil || ee.Unwrap().Error() != "disk full" {
		t.Errorf("cause = %v", ee.Unwrap())
	}
}

// TestInvoke_SavesWhenStartRoutesToEnd verifies input is checkpointed even
// when no round runs.
func TestInvoke_SavesWhenStartRoutesToEnd(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(Overwrite[string]("x", nil), Overwrite[bool]("skip", Default(false)), Append[string]("visited"))
	_ = b.AddNode("work", visit("work"))
	_ = b.AddConditionalEdges(Start, func(s State) Branch {
		if Get[bool](s, "skip") {
			return To(End)
		}
		return To("work")
	}, WithTargets("work"))
	_ = b.AddEdge("work", End)
	g := mustCompile(t, b, WithCheckpointer(store.NewMemStore()))

	res, err := g.Invoke(ctx, Update{"x": "hi", "skip": true}, RunConfig{ThreadID: "t"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Step != 0 {
		t.Errorf("Step = %d, want 0", res.Step)
	}

	snap, err := g.GetState(ctx, "t")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got := Get[string](snap.State, "x"); got != "hi" {
		t.Errorf("x = %q, want hi", got)
	}
	if len(snap.Next) != 0 {
		t.Errorf("Next = %v, want none", snap.Next)
	}
}
