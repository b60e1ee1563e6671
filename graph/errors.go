// Package graph provides the core graph execution engine for stategraph.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCompile is matched by every CompileError via errors.Is.
var ErrCompile = errors.New("graph compilation failed")

// ErrRecursionLimit is matched by every RecursionLimitError via errors.Is.
var ErrRecursionLimit = errors.New("recursion limit reached")

// ErrRouting is matched by every RoutingError via errors.Is.
var ErrRouting = errors.New("invalid routing target")

// ErrChannelNotFound is matched by every ChannelNotFoundError via errors.Is.
var ErrChannelNotFound = errors.New("channel not found")

// ErrInterrupted is matched by every InterruptError via errors.Is.
var ErrInterrupted = errors.New("interrupted")

// CompileError reports structural problems found while compiling a graph.
// Every problem found is listed, not only the first.
type CompileError struct {
	Problems []string
}

func (e *CompileError) Error() string {
	return "compile: " + strings.Join(e.Problems, "; ")
}

// Is reports ErrCompile as a match.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}

// ChannelNotFoundError is raised when a node writes a channel the graph does
// not declare.
type ChannelNotFoundError struct {
	Channel string
	Node    string
}

func (e *ChannelNotFoundError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("node %s wrote undeclared channel %q", e.Node, e.Channel)
	}
	return fmt.Sprintf("undeclared channel %q", e.Channel)
}

// Is reports ErrChannelNotFound as a match.
func (e *ChannelNotFoundError) Is(target error) bool {
	return target == ErrChannelNotFound
}

// ChannelTypeError is raised when a channel receives a value its reducer
// cannot accept.
type ChannelTypeError struct {
	Channel string
	Want    string
	Got     string
}

func (e *ChannelTypeError) Error() string {
	return fmt.Sprintf("channel %q: want %s, got %s", e.Channel, e.Want, e.Got)
}

// RoutingError is raised when a router, edge or command names a target that
// does not resolve to a node, or when a command escapes past the top-level
// graph.
type RoutingError struct {
	From    string
	Target  string
	Message string
}

func (e *RoutingError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown node " + e.Target
	}
	if e.From != "" {
		return "routing from " + e.From + ": " + msg
	}
	return "routing: " + msg
}

// Is reports ErrRouting as a match.
func (e *RoutingError) Is(target error) bool {
	return target == ErrRouting
}

// RecursionLimitError is raised when an invocation would start more rounds
// than its recursion limit allows. The thread's last checkpoint keeps the
// pending frontier, so the run can be resumed with a higher limit.
type RecursionLimitError struct {
	Limit int
	Step  int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached at step %d without hitting a stop condition", e.Limit, e.Step)
}

// Is reports ErrRecursionLimit as a match.
func (e *RecursionLimitError) Is(target error) bool {
	return target == ErrRecursionLimit
}

// InterruptError suspends a run. Nodes return it (usually via Interrupt) to
// hand control back to the caller; the run resumes when the thread is invoked
// again.
type InterruptError struct {
	Node    string
	Message string
}

func (e *InterruptError) Error() string {
	if e.Node != "" {
		return "interrupted at " + e.Node + ": " + e.Message
	}
	return "interrupted: " + e.Message
}

// Is reports ErrInterrupted as a match.
func (e *InterruptError) Is(target error) bool {
	return target == ErrInterrupted
}

// Interrupt returns an error that suspends the run at the calling node.
func Interrupt(message string) error {
	return &InterruptError{Message: message}
}

// EngineError represents a configuration or infrastructure failure, such as a
// missing thread id or a checkpointer that could not save.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}
