// ABOUTME: Local echo agent used when no external agent loop is configured
// ABOUTME: Streams word-by-word so transports exercise real chunk sequences

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// LocalAgent is a self-contained Agent that answers without any external
// provider. It echoes the message back with light markdown, which keeps the
// gateway operational (and testable end to end) before a real loop is wired.
type LocalAgent struct {
	name     string
	started  time.Time
	requests atomic.Int64
}

// NewLocalAgent creates a local echo agent.
func NewLocalAgent(name string) *LocalAgent {
	if name == "" {
		name = "local-echo"
	}
	return &LocalAgent{name: name, started: time.Now()}
}

func (a *LocalAgent) respond(req *Request) string {
	return fmt.Sprintf("**%s** received your message:\n\n> %s\n\n(%d prior messages in session %q)",
		a.name, req.Message, len(req.History), req.SessionKey)
}

// Process runs one turn synchronously.
func (a *LocalAgent) Process(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.requests.Add(1)

	result := &Result{Text: a.respond(req)}
	if req.Thinking {
		result.Thinking = fmt.Sprintf("Echoing %d characters back to session %q.",
			len(req.Message), req.SessionKey)
	}
	return result, nil
}

// Stream runs one turn, emitting the reply word by word. The channel always
// terminates with a Done chunk, carrying the error if the context is
// cancelled mid-stream.
func (a *LocalAgent) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	a.requests.Add(1)
	out := make(chan *Chunk, 16)

	go func() {
		defer close(out)

		if req.Thinking {
			out <- &Chunk{Type: ChunkThinking, Delta: "Composing echo reply."}
		}

		text := a.respond(req)
		var sent strings.Builder
		for _, word := range strings.SplitAfter(text, " ") {
			select {
			case <-ctx.Done():
				out <- &Chunk{Type: ChunkError, Error: ctx.Err().Error(), Done: true}
				return
			case out <- &Chunk{Type: ChunkText, Delta: word}:
				sent.WriteString(word)
			}
		}

		out <- &Chunk{Type: ChunkDone, Done: true, FinalText: sent.String()}
	}()

	return out, nil
}

// Status reports readiness and request counters.
func (a *LocalAgent) Status(ctx context.Context) (*Status, error) {
	uptime := time.Since(a.started)
	return &Status{
		State:         "ready",
		Model:         a.name,
		Uptime:        uptime,
		UptimeSeconds: int64(uptime.Seconds()),
		TotalRequests: a.requests.Load(),
	}, nil
}
