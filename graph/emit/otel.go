package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns the event stream of a run into a span tree:
//
//	run <graph>                 one per invocation
//	└── round <step>            one per round, carries the frontier
//	    └── <node>              one per slot, NodeStart to NodeEnd
//
// Interrupts and checkpoint saves become span events on the open round.
// A run span ends on RunComplete, RunFailed or Interrupt. Events that arrive
// outside an open run, and event names it does not know, are recorded as
// instant spans.
//
// Runs are tracked per thread and graph, so a subgraph invoked by a node gets
// its own run span.
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	g, _ := b.Compile(graph.WithEmitter(emit.NewOTelEmitter(tp.Tracer("stategraph"))))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[runKey]*runSpans
}

type runKey struct {
	thread string
	graph  string
}

type runSpans struct {
	ctx      context.Context
	run      trace.Span
	roundCtx context.Context
	round    trace.Span
	// nodes holds open slot spans per node. Sends can start the same node
	// several times in one round; ends are matched first in, first out.
	nodes map[string][]trace.Span
}

// NewOTelEmitter returns an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer, runs: make(map[runKey]*runSpans)}
}

// Emit records event. It is safe for concurrent use.
func (o *OTelEmitter) Emit(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := runKey{thread: event.ThreadID, graph: graphName(event)}
	switch event.Msg {
	case RoundStart:
		rs := o.open(key, event)
		rs.endRound()
		rs.roundCtx, rs.round = o.tracer.Start(rs.ctx, fmt.Sprintf("round %d", event.Step),
			trace.WithAttributes(attribute.Int("stategraph.step", event.Step)))
		if frontier, ok := event.Meta["frontier"].([]string); ok {
			rs.round.SetAttributes(attribute.StringSlice("stategraph.frontier", frontier))
		}

	case NodeStart:
		rs := o.open(key, event)
		parent := rs.ctx
		if rs.round != nil {
			parent = rs.roundCtx
		}
		_, span := o.tracer.Start(parent, event.NodeID, trace.WithAttributes(
			attribute.String("stategraph.node", event.NodeID),
			attribute.Int("stategraph.step", event.Step),
		))
		rs.nodes[event.NodeID] = append(rs.nodes[event.NodeID], span)

	case NodeEnd, NodeError:
		span := o.popNode(key, event.NodeID)
		if span == nil {
			o.instant(event)
			return
		}
		setMeta(span, event.Meta)
		if event.Msg == NodeError {
			markError(span, event.Meta)
		}
		span.End()

	case Interrupt:
		rs := o.runs[key]
		if rs == nil {
			o.instant(event)
			return
		}
		target := rs.run
		if rs.round != nil {
			target = rs.round
		}
		target.AddEvent(Interrupt, trace.WithAttributes(
			attribute.String("stategraph.node", event.NodeID),
			attribute.String("stategraph.message", fmt.Sprint(event.Meta["message"])),
		))
		rs.run.SetAttributes(attribute.Bool("stategraph.interrupted", true))
		o.close(key)

	case CheckpointSaved:
		rs := o.runs[key]
		if rs == nil {
			o.instant(event)
			return
		}
		target := rs.run
		if rs.round != nil {
			target = rs.round
		}
		target.AddEvent(CheckpointSaved, trace.WithAttributes(attribute.Int("stategraph.step", event.Step)))

	case RunComplete, RunFailed:
		rs := o.runs[key]
		if rs == nil {
			o.instant(event)
			return
		}
		rs.run.SetAttributes(attribute.Int("stategraph.step", event.Step))
		if event.Msg == RunFailed {
			if rs.round != nil {
				markError(rs.round, event.Meta)
			}
			markError(rs.run, event.Meta)
		}
		o.close(key)

	default:
		o.instant(event)
	}
}

// open returns the spans of the run key, starting the run span if needed.
func (o *OTelEmitter) open(key runKey, event Event) *runSpans {
	if rs, ok := o.runs[key]; ok {
		return rs
	}
	ctx, span := o.tracer.Start(context.Background(), "run "+key.graph, trace.WithAttributes(
		attribute.String("stategraph.thread_id", key.thread),
		attribute.String("stategraph.graph", key.graph),
	))
	rs := &runSpans{ctx: ctx, run: span, nodes: make(map[string][]trace.Span)}
	o.runs[key] = rs
	return rs
}

func (o *OTelEmitter) popNode(key runKey, node string) trace.Span {
	rs := o.runs[key]
	if rs == nil || len(rs.nodes[node]) == 0 {
		return nil
	}
	span := rs.nodes[node][0]
	rs.nodes[node] = rs.nodes[node][1:]
	return span
}

// close ends every open span of the run key.
func (o *OTelEmitter) close(key runKey) {
	rs := o.runs[key]
	if rs == nil {
		return
	}
	for _, spans := range rs.nodes {
		for _, span := range spans {
			span.End()
		}
	}
	rs.endRound()
	rs.run.End()
	delete(o.runs, key)
}

func (rs *runSpans) endRound() {
	if rs.round != nil {
		rs.round.End()
		rs.round = nil
		rs.roundCtx = nil
	}
}

// instant records event as a span that starts and ends immediately.
func (o *OTelEmitter) instant(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg, trace.WithAttributes(
		attribute.String("stategraph.thread_id", event.ThreadID),
		attribute.Int("stategraph.step", event.Step),
	))
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("stategraph.node", event.NodeID))
	}
	setMeta(span, event.Meta)
	if event.IsError() {
		markError(span, event.Meta)
	}
	span.End()
}

func graphName(event Event) string {
	if name, ok := event.Meta["graph"].(string); ok {
		return name
	}
	return ""
}

// setMeta copies meta onto span under the "stategraph." prefix.
func setMeta(span trace.Span, meta map[string]interface{}) {
	for k, v := range meta {
		key := "stategraph." + k
		switch v := v.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(key, v))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprint(v)))
		}
	}
}

func markError(span trace.Span, meta map[string]interface{}) {
	msg := "failed"
	if v, ok := meta["error"]; ok {
		msg = fmt.Sprint(v)
	}
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
}
