// ABOUTME: Agent collaborator contract consumed by the router and REST handlers
// ABOUTME: Defines chat requests, streamed chunks, and the status surface

package agent

import (
	"context"
	"errors"
	"time"
)

// ErrBusy indicates the agent rejected a request because it is already at
// capacity for the session.
var ErrBusy = errors.New("agent busy")

// ChunkType discriminates streamed response chunks.
type ChunkType string

const (
	ChunkThinking   ChunkType = "thinking"
	ChunkText       ChunkType = "text"
	ChunkToolCall   ChunkType = "tool_call"
	ChunkToolResult ChunkType = "tool_result"
	ChunkDone       ChunkType = "done"
	ChunkError      ChunkType = "error"
)

// Turn is one prior exchange supplied as conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat turn handed to the agent loop.
type Request struct {
	SessionKey string
	Message    string
	History    []Turn
	Thinking   bool
}

// ToolCall records a tool invocation surfaced during a turn.
type ToolCall struct {
	Name       string `json:"name"`
	Arguments  string `json:"arguments,omitempty"`
	Output     string `json:"output,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Result is the final output of a non-streaming turn.
type Result struct {
	Text      string     `json:"response"`
	Thinking  string     `json:"thinking_content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Chunk is one element of a streamed response. The stream for a request ends
// with exactly one chunk where Done is true; an error mid-stream is reported
// through a final ChunkError chunk with Done set.
type Chunk struct {
	Type      ChunkType `json:"type"`
	Delta     string    `json:"delta,omitempty"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	Error     string    `json:"error,omitempty"`
	Done      bool      `json:"done"`
	FinalText string    `json:"-"`
}

// Status describes the agent's readiness and counters.
type Status struct {
	State         string        `json:"status"`
	Model         string        `json:"model,omitempty"`
	Uptime        time.Duration `json:"-"`
	UptimeSeconds int64         `json:"uptime"`
	TotalRequests int64         `json:"total_requests"`
}

// Agent is the external agent-loop collaborator. Implementations may fail or
// be partially unimplemented; callers convert failures at the facade boundary.
type Agent interface {
	// Process runs one turn to completion and returns the final result.
	Process(ctx context.Context, req *Request) (*Result, error)
	// Stream runs one turn, emitting chunks on the returned channel. The
	// channel is closed after the terminal Done chunk.
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	// Status reports readiness and counters.
	Status(ctx context.Context) (*Status, error)
}
