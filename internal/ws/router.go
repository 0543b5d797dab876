// ABOUTME: Message router dispatching WebSocket requests to component handlers
// ABOUTME: Guarantees every request gets a terminal response, even on failure

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ladle-sh/ladle/internal/agent"
	"github.com/ladle-sh/ladle/internal/dedupe"
	"github.com/ladle-sh/ladle/internal/session"
	"github.com/ladle-sh/ladle/internal/skills"
	"github.com/ladle-sh/ladle/internal/tools"
)

// Server events pushed to subscribed connections.
const (
	EventThinking      = "agent.thinking"
	EventToolCall      = "agent.tool_call"
	EventToolResult    = "agent.tool_result"
	EventStreaming     = "agent.streaming"
	EventComplete      = "agent.complete"
	EventAgentError    = "agent.error"
	EventSessionUpdate = "session.updated"
	EventMemoryUpdate  = "memory.updated"
	EventHeartbeat     = "connection.heartbeat"
	EventEstablished   = "connection.established"
)

// RouterConfig carries the router's operational limits.
type RouterConfig struct {
	// RequestTimeout bounds non-streaming agent work.
	RequestTimeout time.Duration
	// MaxMessageLength bounds chat message size in bytes.
	MaxMessageLength int
}

// Router parses raw frames, dispatches method calls, and correlates replies
// by request id. Requests on one connection are handled concurrently; clients
// correlate strictly by id.
type Router struct {
	manager  *Manager
	sessions *session.Registry
	agent    agent.Agent
	tools    *tools.Registry
	skills   *skills.Manager
	cfg      RouterConfig
	logger   *slog.Logger

	handlers map[string]handlerFunc

	// replays suppresses retried frames carrying an id already handled on
	// the same connection.
	replays *dedupe.Cache

	// inflight holds cancel funcs for running chat requests, keyed by
	// connection id then request id, so agent.cancel can reach them.
	inflightMu sync.Mutex
	inflight   map[string]map[string]context.CancelFunc

	wg sync.WaitGroup
}

type handlerFunc func(ctx context.Context, conn *Conn, req *Request)

// NewRouter wires the dispatch table.
func NewRouter(manager *Manager, sessions *session.Registry, ag agent.Agent, toolReg *tools.Registry, skillMgr *skills.Manager, cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	r := &Router{
		manager:  manager,
		sessions: sessions,
		agent:    ag,
		tools:    toolReg,
		skills:   skillMgr,
		cfg:      cfg,
		logger:   logger.With("component", "router"),
		inflight: make(map[string]map[string]context.CancelFunc),
		replays:  dedupe.New(time.Minute, 10_000),
	}
	r.handlers = map[string]handlerFunc{
		"agent.chat":     r.handleChat,
		"agent.cancel":   r.handleCancel,
		"agent.status":   r.handleStatus,
		"session.switch": r.handleSessionSwitch,
		"session.list":   r.handleSessionList,
		"session.clear":  r.handleSessionClear,
		"session.export": r.handleSessionExport,
		"session.import": r.handleSessionImport,
		"subscribe":      r.handleSubscribe,
		"unsubscribe":    r.handleUnsubscribe,
	}
	return r
}

// Handle processes one raw frame from a connection. Pings are answered
// inline; requests run on their own goroutine so a slow agent call never
// blocks other requests on the same connection.
func (r *Router) Handle(ctx context.Context, conn *Conn, raw []byte) {
	parsed, errMsg, err := ParseMessage(raw)
	if err != nil {
		// No id was extractable; drop and log.
		r.logger.Debug("dropping malformed message",
			"connection_id", conn.ID, "error", err)
		return
	}
	if errMsg != nil {
		r.manager.Send(conn.ID, errMsg)
		return
	}

	if parsed.Ping != nil {
		r.manager.Send(conn.ID, parsed.Ping)
		return
	}

	req := parsed.Request
	if req.ID != "" && r.replays.Seen(conn.ID+":"+req.ID) {
		r.logger.Debug("rejecting replayed request",
			"connection_id", conn.ID, "request_id", req.ID)
		// Answer rather than drop: if the first response was lost the
		// client would otherwise wait on this id forever.
		r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "duplicate request id"))
		return
	}

	handler, ok := r.handlers[req.Method]
	if !ok {
		r.manager.Send(conn.ID, NewError(req.ID, CodeMethodNotFound,
			fmt.Sprintf("unknown method: %s", req.Method)))
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			// A handler fault answers this request only; it must never
			// take down the connection.
			if rec := recover(); rec != nil {
				r.logger.Error("handler panic",
					"method", req.Method, "connection_id", conn.ID, "panic", rec)
				r.manager.Send(conn.ID, NewError(req.ID, CodeInternalError, "internal error"))
			}
		}()
		handler(ctx, conn, req)
	}()
}

// Wait blocks until all in-flight handlers return. Used during shutdown.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Close drains in-flight handlers and stops the replay cache sweeper.
func (r *Router) Close() {
	r.wg.Wait()
	r.replays.Close()
}

// ConnectionClosed drops cancellation bookkeeping for a closed connection.
func (r *Router) ConnectionClosed(connID string) {
	r.inflightMu.Lock()
	for _, cancel := range r.inflight[connID] {
		cancel()
	}
	delete(r.inflight, connID)
	r.inflightMu.Unlock()
}

func (r *Router) trackInflight(connID, reqID string, cancel context.CancelFunc) {
	r.inflightMu.Lock()
	if r.inflight[connID] == nil {
		r.inflight[connID] = make(map[string]context.CancelFunc)
	}
	r.inflight[connID][reqID] = cancel
	r.inflightMu.Unlock()
}

func (r *Router) untrackInflight(connID, reqID string) {
	r.inflightMu.Lock()
	if set := r.inflight[connID]; set != nil {
		delete(set, reqID)
		if len(set) == 0 {
			delete(r.inflight, connID)
		}
	}
	r.inflightMu.Unlock()
}

// errorCode maps component errors to wire error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidKey):
		return CodeValidationError
	case errors.Is(err, session.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, session.ErrAlreadyExists):
		return CodeValidationError
	case errors.Is(err, agent.ErrBusy):
		return CodeAgentBusy
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternalError
	}
}

type chatParams struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key"`
	Stream     bool   `json:"stream"`
	Thinking   bool   `json:"thinking"`
}

func (r *Router) handleChat(ctx context.Context, conn *Conn, req *Request) {
	var params chatParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "invalid params"))
			return
		}
	}
	if params.Message == "" {
		r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "message is required"))
		return
	}
	if r.cfg.MaxMessageLength > 0 && len(params.Message) > r.cfg.MaxMessageLength {
		r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError,
			fmt.Sprintf("message exceeds %d bytes", r.cfg.MaxMessageLength)))
		return
	}

	sessionKey := params.SessionKey
	if sessionKey == "" {
		sessionKey = conn.SessionKey()
	}
	if _, err := r.sessions.GetOrCreate(ctx, sessionKey); err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}

	history, err := r.sessions.History(ctx, sessionKey)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), "failed to load history"))
		return
	}
	if err := r.sessions.AppendMessage(ctx, sessionKey, session.RoleUser, params.Message); err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), "failed to record message"))
		return
	}

	agentReq := &agent.Request{
		SessionKey: sessionKey,
		Message:    params.Message,
		History:    historyTurns(history),
		Thinking:   params.Thinking,
	}

	r.manager.Send(conn.ID, NewEvent(EventThinking, map[string]any{"status": "processing"}))

	if params.Stream {
		r.streamChat(ctx, conn, req, sessionKey, agentReq)
		return
	}
	r.syncChat(ctx, conn, req, sessionKey, agentReq)
}

func (r *Router) syncChat(ctx context.Context, conn *Conn, req *Request, sessionKey string, agentReq *agent.Request) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	r.trackInflight(conn.ID, req.ID, cancel)
	defer func() {
		cancel()
		r.untrackInflight(conn.ID, req.ID)
	}()

	result, err := r.agent.Process(callCtx, agentReq)
	if err != nil {
		code := CodeAgentError
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		} else if errors.Is(err, agent.ErrBusy) {
			code = CodeAgentBusy
		}
		r.manager.Send(conn.ID, NewError(req.ID, code, err.Error()))
		r.manager.BroadcastEvent(EventAgentError, map[string]any{
			"session_key": sessionKey, "error": code,
		})
		return
	}

	if err := r.sessions.AppendMessage(ctx, sessionKey, session.RoleAssistant, result.Text); err != nil {
		r.logger.Error("failed to record assistant message",
			"session_key", sessionKey, "error", err)
	}

	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{
		"content":          result.Text,
		"session_key":      sessionKey,
		"thinking_content": result.Thinking,
		"tool_calls":       result.ToolCalls,
	}))
	r.manager.BroadcastEvent(EventComplete, map[string]any{"session_key": sessionKey})
}

// streamChat relays agent chunks as Stream messages. It always emits exactly
// one terminal chunk with done=true, carrying the error payload if the stream
// failed partway.
func (r *Router) streamChat(ctx context.Context, conn *Conn, req *Request, sessionKey string, agentReq *agent.Request) {
	callCtx, cancel := context.WithCancel(ctx)
	r.trackInflight(conn.ID, req.ID, cancel)
	defer func() {
		cancel()
		r.untrackInflight(conn.ID, req.ID)
	}()

	chunks, err := r.agent.Stream(callCtx, agentReq)
	if err != nil {
		r.manager.Send(conn.ID, NewStreamChunk(req.ID, map[string]any{
			"type": "error", "error": err.Error(),
		}, true))
		return
	}

	var finalText string
	terminalSent := false
	for chunk := range chunks {
		if chunk.Done {
			if chunk.Type == agent.ChunkError {
				r.manager.Send(conn.ID, NewStreamChunk(req.ID, chunk, true))
				r.manager.BroadcastEvent(EventAgentError, map[string]any{
					"session_key": sessionKey, "error": chunk.Error,
				})
			} else {
				finalText = chunk.FinalText
				r.manager.Send(conn.ID, NewStreamChunk(req.ID, chunk, true))
			}
			terminalSent = true
			break
		}
		r.manager.Send(conn.ID, NewStreamChunk(req.ID, chunk, false))
	}

	if !terminalSent {
		// The agent closed its channel without a terminal chunk; never
		// leave a request dangling.
		r.manager.Send(conn.ID, NewStreamChunk(req.ID, map[string]any{
			"type": "error", "error": "stream ended unexpectedly",
		}, true))
		return
	}

	if finalText != "" {
		if err := r.sessions.AppendMessage(ctx, sessionKey, session.RoleAssistant, finalText); err != nil {
			r.logger.Error("failed to record assistant message",
				"session_key", sessionKey, "error", err)
		}
		r.manager.BroadcastEvent(EventComplete, map[string]any{"session_key": sessionKey})
	}
}

func (r *Router) handleCancel(ctx context.Context, conn *Conn, req *Request) {
	var params struct {
		RequestID string `json:"request_id"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "invalid params"))
			return
		}
	}

	cancelled := false
	r.inflightMu.Lock()
	if set := r.inflight[conn.ID]; set != nil {
		if params.RequestID != "" {
			if cancel, ok := set[params.RequestID]; ok {
				cancel()
				cancelled = true
			}
		} else {
			for _, cancel := range set {
				cancel()
				cancelled = true
			}
		}
	}
	r.inflightMu.Unlock()

	// Cancellation is advisory: nothing in flight is a no-op success.
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"cancelled": cancelled}))
}

func (r *Router) handleStatus(ctx context.Context, conn *Conn, req *Request) {
	status, err := r.agent.Status(ctx)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, CodeAgentError, err.Error()))
		return
	}

	sessions, err := r.sessions.List(ctx)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}

	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{
		"status":         status.State,
		"uptime":         status.UptimeSeconds,
		"total_requests": status.TotalRequests,
		"stats": map[string]any{
			"active_connections": r.manager.ConnectionCount(),
			"active_sessions":    len(sessions),
			"tools_available":    len(r.tools.List()),
			"skills_loaded":      len(r.skills.List()),
		},
	}))
}

func (r *Router) handleSessionSwitch(ctx context.Context, conn *Conn, req *Request) {
	var params struct {
		SessionKey string `json:"session_key"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "invalid params"))
			return
		}
	}
	if params.SessionKey == "" {
		params.SessionKey = "default"
	}

	if _, err := r.sessions.GetOrCreate(ctx, params.SessionKey); err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}

	conn.SetSessionKey(params.SessionKey)
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{
		"session_key": params.SessionKey,
		"switched":    true,
	}))
	r.manager.BroadcastEvent(EventSessionUpdate, map[string]any{
		"session_key": params.SessionKey,
	})
}

func (r *Router) handleSessionList(ctx context.Context, conn *Conn, req *Request) {
	infos, err := r.sessions.List(ctx)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"sessions": infos}))
}

func (r *Router) handleSessionClear(ctx context.Context, conn *Conn, req *Request) {
	var params struct {
		SessionKey string `json:"session_key"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "invalid params"))
			return
		}
	}
	if params.SessionKey == "" {
		params.SessionKey = conn.SessionKey()
	}

	removed, err := r.sessions.Clear(ctx, params.SessionKey)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}

	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{
		"cleared":          true,
		"messages_removed": removed,
	}))
	r.manager.BroadcastEvent(EventSessionUpdate, map[string]any{
		"session_key": params.SessionKey,
	})
}

func (r *Router) handleSessionExport(ctx context.Context, conn *Conn, req *Request) {
	var params struct {
		SessionKey string `json:"session_key"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "invalid params"))
			return
		}
	}
	if params.SessionKey == "" {
		params.SessionKey = conn.SessionKey()
	}

	export, err := r.sessions.ExportSession(ctx, params.SessionKey)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"session": export}))
}

func (r *Router) handleSessionImport(ctx context.Context, conn *Conn, req *Request) {
	var params struct {
		Session *session.Export `json:"session"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Session == nil {
		r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "session payload is required"))
		return
	}

	info, err := r.sessions.ImportSession(ctx, params.Session)
	if err != nil {
		r.manager.Send(conn.ID, NewError(req.ID, errorCode(err), err.Error()))
		return
	}
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"imported": true, "session": info}))
}

func (r *Router) handleSubscribe(ctx context.Context, conn *Conn, req *Request) {
	events, ok := r.parseEvents(conn, req)
	if !ok {
		return
	}
	r.manager.Subscribe(conn.ID, events)
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"subscribed": events}))
}

func (r *Router) handleUnsubscribe(ctx context.Context, conn *Conn, req *Request) {
	events, ok := r.parseEvents(conn, req)
	if !ok {
		return
	}
	r.manager.Unsubscribe(conn.ID, events)
	r.manager.Send(conn.ID, NewResponse(req.ID, map[string]any{"unsubscribed": events}))
}

func (r *Router) parseEvents(conn *Conn, req *Request) ([]string, bool) {
	var params struct {
		Events []string `json:"events"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Events) == 0 {
		r.manager.Send(conn.ID, NewError(req.ID, CodeValidationError, "events list is required"))
		return nil, false
	}
	return params.Events, true
}

func historyTurns(messages []session.Message) []agent.Turn {
	turns := make([]agent.Turn, len(messages))
	for i, m := range messages {
		turns[i] = agent.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}
