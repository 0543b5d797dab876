// ABOUTME: REST handlers for the /v1 API surface
// ABOUTME: Auth, agent chat, tasks, sessions, tools, skills, memory, and config

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ladle-sh/ladle/internal/agent"
	"github.com/ladle-sh/ladle/internal/auth"
	"github.com/ladle-sh/ladle/internal/session"
	"github.com/ladle-sh/ladle/internal/skills"
	"github.com/ladle-sh/ladle/internal/task"
	"github.com/ladle-sh/ladle/internal/tools"
	"github.com/ladle-sh/ladle/internal/ws"
)

// contextWithTimeout bounds a request context when a timeout is configured.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), d)
}

// decodeJSON reads a request body into dst, rejecting bodies over 1 MiB.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(dst)
}

// --- auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid request body")
		return
	}

	var subject string
	var scopes []string
	switch {
	case req.APIKey != "":
		authCtx, err := g.authn.AuthenticateAPIKey(req.APIKey)
		if err != nil {
			g.metrics.requestsFailed.Add(1)
			writeError(w, meta, ws.CodeAuthInvalid, "invalid credentials")
			return
		}
		subject = authCtx.UserID
		scopes = authCtx.Scopes
	case req.UserID != "" && req.Password != "":
		if !auth.VerifyPassword(req.UserID, req.Password, g.config.Auth.Users) {
			g.metrics.requestsFailed.Add(1)
			writeError(w, meta, ws.CodeAuthInvalid, "invalid credentials")
			return
		}
		subject = req.UserID
	default:
		writeError(w, meta, ws.CodeValidationError, "api_key or user_id and password are required")
		return
	}

	access, refresh, err := g.tokens.Issue(subject, g.config.Agent.DefaultSessionKey, scopes)
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to issue tokens")
		return
	}

	writeData(w, meta, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    int(auth.AccessTokenTTL.Seconds()),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, meta, ws.CodeValidationError, "refresh_token is required")
		return
	}

	access, err := g.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		g.metrics.requestsFailed.Add(1)
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			writeError(w, meta, ws.CodeAuthExpired, "refresh token expired")
		default:
			writeError(w, meta, ws.CodeAuthInvalid, "invalid refresh token")
		}
		return
	}

	writeData(w, meta, http.StatusOK, map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(auth.AccessTokenTTL.Seconds()),
	})
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, meta, ws.CodeValidationError, "refresh_token is required")
		return
	}

	if err := g.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		writeError(w, meta, ws.CodeAuthInvalid, "invalid refresh token")
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"revoked": true})
}

func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	authCtx := auth.MustFromContext(r.Context())
	writeData(w, meta, http.StatusOK, map[string]any{
		"user_id":     authCtx.UserID,
		"session_key": authCtx.SessionKey,
		"scopes":      authCtx.Scopes,
		"auth_method": string(authCtx.Method),
	})
}

// --- agent ---

type chatRequest struct {
	Message    string `json:"message"`
	SessionKey string `json:"session_key"`
	Stream     bool   `json:"stream"`
	Thinking   bool   `json:"thinking"`
}

// prepareChat validates the request body, resolves the session, and builds
// the agent request with history. Returns false after writing an error.
func (g *Gateway) prepareChat(w http.ResponseWriter, r *http.Request, meta requestMeta) (*chatRequest, *agent.Request, bool) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid request body")
		return nil, nil, false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, meta, ws.CodeValidationError, "message is required")
		return nil, nil, false
	}
	if max := g.config.Agent.MaxMessageLength; max > 0 && len(req.Message) > max {
		writeError(w, meta, ws.CodeValidationError, fmt.Sprintf("message exceeds maximum length of %d", max))
		return nil, nil, false
	}

	if req.SessionKey == "" {
		authCtx := auth.FromContext(r.Context())
		if authCtx != nil && authCtx.SessionKey != "" {
			req.SessionKey = authCtx.SessionKey
		} else {
			req.SessionKey = g.config.Agent.DefaultSessionKey
		}
	}

	if _, err := g.sessions.GetOrCreate(r.Context(), req.SessionKey); err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return nil, nil, false
	}

	history, err := g.sessions.History(r.Context(), req.SessionKey)
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to load history")
		return nil, nil, false
	}

	if err := g.sessions.AppendMessage(r.Context(), req.SessionKey, session.RoleUser, req.Message); err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to record message")
		return nil, nil, false
	}

	agentReq := &agent.Request{
		SessionKey: req.SessionKey,
		Message:    req.Message,
		Thinking:   req.Thinking,
	}
	for _, m := range history {
		agentReq.History = append(agentReq.History, agent.Turn{Role: m.Role, Content: m.Content})
	}
	return &req, agentReq, true
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	g.metrics.chatRequests.Add(1)

	req, agentReq, ok := g.prepareChat(w, r, meta)
	if !ok {
		return
	}

	if req.Stream {
		g.streamChatSSE(w, r, req, agentReq)
		return
	}

	ctx, cancel := contextWithTimeout(r, g.config.Agent.RequestTimeout)
	defer cancel()

	result, err := g.agent.Process(ctx, agentReq)
	if err != nil {
		g.metrics.requestsFailed.Add(1)
		writeError(w, meta, agentErrorCode(err), err.Error())
		return
	}

	if err := g.sessions.AppendMessage(r.Context(), req.SessionKey, session.RoleAssistant, result.Text); err != nil {
		g.logger.Warn("failed to record assistant message", "session", req.SessionKey, "error", err)
	}

	writeData(w, meta, http.StatusOK, map[string]any{
		"response":         result.Text,
		"session_key":      req.SessionKey,
		"thinking_content": result.Thinking,
		"tool_calls":       result.ToolCalls,
	})
}

// streamChatSSE relays agent chunks as server-sent events. The stream always
// ends with a [DONE] sentinel, even when the agent errors mid-stream.
func (g *Gateway) streamChatSSE(w http.ResponseWriter, r *http.Request, req *chatRequest, agentReq *agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, beginRequest(), ws.CodeInternalError, "streaming not supported")
		return
	}

	ctx, cancel := contextWithTimeout(r, g.config.Agent.RequestTimeout)
	defer cancel()

	chunks, err := g.agent.Stream(ctx, agentReq)
	if err != nil {
		g.metrics.requestsFailed.Add(1)
		writeError(w, beginRequest(), agentErrorCode(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var finalText string
	for chunk := range chunks {
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		if chunk.Done && chunk.FinalText != "" {
			finalText = chunk.FinalText
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	if finalText != "" {
		if err := g.sessions.AppendMessage(r.Context(), req.SessionKey, session.RoleAssistant, finalText); err != nil {
			g.logger.Warn("failed to record assistant message", "session", req.SessionKey, "error", err)
		}
	}
}

func (g *Gateway) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	g.metrics.chatRequests.Add(1)
	g.metrics.tasksSubmitted.Add(1)

	req, agentReq, ok := g.prepareChat(w, r, meta)
	if !ok {
		return
	}

	// The task outlives this request, so it runs on a background context
	// bounded only by the agent timeout.
	sessionKey := req.SessionKey
	timeout := g.config.Agent.RequestTimeout
	id := g.tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		report(0.1)
		result, err := g.agent.Process(ctx, agentReq)
		if err != nil {
			return nil, err
		}
		report(0.9)
		if err := g.sessions.AppendMessage(ctx, sessionKey, session.RoleAssistant, result.Text); err != nil {
			g.logger.Warn("failed to record assistant message", "session", sessionKey, "error", err)
		}
		return json.Marshal(map[string]any{
			"response":         result.Text,
			"session_key":      sessionKey,
			"thinking_content": result.Thinking,
		})
	})

	writeData(w, meta, http.StatusAccepted, map[string]any{
		"task_id": id,
		"status":  string(task.StatusPending),
	})
}

func (g *Gateway) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	snap, err := g.tracker.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, meta, ws.CodeNotFound, "task not found")
		return
	}
	writeData(w, meta, http.StatusOK, snap)
}

func (g *Gateway) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	id := r.PathValue("id")
	if err := g.tracker.Cancel(id); err != nil {
		switch {
		case errors.Is(err, task.ErrNotFound):
			writeError(w, meta, ws.CodeNotFound, "task not found")
		case errors.Is(err, task.ErrConflict):
			writeError(w, meta, ws.CodeConflict, "task already finished")
		default:
			writeError(w, meta, ws.CodeInternalError, err.Error())
		}
		return
	}
	snap, _ := g.tracker.Status(id)
	writeData(w, meta, http.StatusOK, snap)
}

func (g *Gateway) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	status, err := g.agent.Status(r.Context())
	if err != nil {
		writeError(w, meta, ws.CodeAgentError, err.Error())
		return
	}
	sessions, _ := g.sessions.List(r.Context())
	writeData(w, meta, http.StatusOK, map[string]any{
		"agent": status,
		"stats": map[string]any{
			"active_connections": g.connections.ConnectionCount(),
			"active_sessions":    len(sessions),
			"tools_available":    len(g.tools.List()),
			"skills_loaded":      len(g.skills.List()),
		},
	})
}

// --- sessions ---

// sessionErrorCode maps session registry errors to wire codes.
func (g *Gateway) sessionErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidKey):
		return ws.CodeValidationError
	case errors.Is(err, session.ErrNotFound):
		return ws.CodeNotFound
	case errors.Is(err, session.ErrAlreadyExists):
		return ws.CodeConflict
	default:
		return ws.CodeInternalError
	}
}

func (g *Gateway) handleSessionList(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	infos, err := g.sessions.List(r.Context())
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to list sessions")
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"sessions": infos, "count": len(infos)})
}

func (g *Gateway) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Key == "" {
		writeError(w, meta, ws.CodeValidationError, "key is required")
		return
	}

	info, err := g.sessions.Create(r.Context(), req.Key)
	if err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}
	writeData(w, meta, http.StatusCreated, info)
}

func (g *Gateway) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	key := r.PathValue("key")

	info, err := g.sessions.Get(r.Context(), key)
	if err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}

	history, err := g.sessions.History(r.Context(), key)
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to load history")
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"session": info, "messages": history})
}

func (g *Gateway) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	key := r.PathValue("key")
	if err := g.sessions.Delete(r.Context(), key); err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"deleted": key})
}

func (g *Gateway) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	key := r.PathValue("key")
	removed, err := g.sessions.Clear(r.Context(), key)
	if err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"session_key": key, "messages_removed": removed})
}

func (g *Gateway) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	export, err := g.sessions.ExportSession(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, export)
}

func (g *Gateway) handleSessionImport(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var export session.Export
	if err := decodeJSON(r, &export); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid export payload")
		return
	}

	info, err := g.sessions.ImportSession(r.Context(), &export)
	if err != nil {
		writeError(w, meta, g.sessionErrorCode(err), err.Error())
		return
	}
	writeData(w, meta, http.StatusCreated, info)
}

// --- tools ---

func (g *Gateway) handleToolList(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	defs := g.tools.List()
	writeData(w, meta, http.StatusOK, map[string]any{"tools": defs, "count": len(defs)})
}

func (g *Gateway) handleToolSchema(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	def, err := g.tools.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, meta, ws.CodeNotFound, "tool not found")
		return
	}
	writeData(w, meta, http.StatusOK, def)
}

func (g *Gateway) handleToolExecute(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	authCtx := auth.MustFromContext(r.Context())
	if !authCtx.HasScope("agent:write") {
		writeError(w, meta, ws.CodeForbidden, "agent:write scope required")
		return
	}

	var req struct {
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid request body")
		return
	}

	result, err := g.tools.Execute(r.Context(), r.PathValue("name"), req.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrNotFound) {
			writeError(w, meta, ws.CodeNotFound, "tool not found")
			return
		}
		writeError(w, meta, ws.CodeInternalError, err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, result)
}

// --- skills ---

func (g *Gateway) handleSkillList(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	list := g.skills.List()

	type skillView struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Version     string   `json:"version"`
		Tags        []string `json:"tags,omitempty"`
		Active      bool     `json:"active"`
	}
	views := make([]skillView, 0, len(list))
	for _, s := range list {
		views = append(views, skillView{
			Name:        s.Metadata.Name,
			Description: s.Metadata.Description,
			Version:     s.Metadata.Version,
			Tags:        s.Metadata.Tags,
			Active:      g.skills.IsActive(s.Metadata.Name),
		})
	}
	writeData(w, meta, http.StatusOK, map[string]any{"skills": views, "count": len(views)})
}

func (g *Gateway) handleSkillActivate(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	skill, err := g.skills.Activate(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, skills.ErrNotFound) {
			writeError(w, meta, ws.CodeNotFound, "skill not found")
			return
		}
		writeError(w, meta, ws.CodeInternalError, err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"name": skill.Metadata.Name, "active": true})
}

func (g *Gateway) handleSkillDeactivate(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	wasActive, err := g.skills.Deactivate(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, skills.ErrNotFound) {
			writeError(w, meta, ws.CodeNotFound, "skill not found")
			return
		}
		writeError(w, meta, ws.CodeInternalError, err.Error())
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"name": r.PathValue("name"), "was_active": wasActive})
}

// --- memory ---

func (g *Gateway) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var req struct {
		Content string   `json:"content"`
		Tags    []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid request body")
		return
	}

	entry, err := g.memory.Add(r.Context(), req.Content, req.Tags)
	if err != nil {
		writeError(w, meta, ws.CodeValidationError, err.Error())
		return
	}

	g.connections.BroadcastEvent(ws.EventMemoryUpdate, map[string]any{"id": entry.ID})
	writeData(w, meta, http.StatusCreated, entry)
}

func (g *Gateway) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	entries, err := g.memory.Search(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("tag"), limit)
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "search failed")
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (g *Gateway) handleMemoryContext(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	entries, err := g.memory.Context(r.Context(), limit)
	if err != nil {
		writeError(w, meta, ws.CodeInternalError, "failed to load context")
		return
	}
	writeData(w, meta, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// --- config ---

// configView is the sanitized configuration exposed over the API. Secrets
// never leave the process.
type configView struct {
	Server struct {
		HTTPAddr string `json:"http_addr"`
	} `json:"server"`
	Agent struct {
		DefaultSessionKey string `json:"default_session_key"`
		MaxMessageLength  int    `json:"max_message_length"`
		RequestTimeout    string `json:"request_timeout"`
	} `json:"agent"`
	Skills struct {
		Paths []string `json:"paths"`
	} `json:"skills"`
	RateLimit struct {
		Enabled          bool `json:"enabled"`
		AuthPerMinute    int  `json:"auth_per_minute"`
		ChatPerMinute    int  `json:"chat_per_minute"`
		GeneralPerMinute int  `json:"general_per_minute"`
	} `json:"rate_limit"`
}

func (g *Gateway) currentConfigView() configView {
	var v configView
	v.Server.HTTPAddr = g.config.Server.HTTPAddr
	v.Agent.DefaultSessionKey = g.config.Agent.DefaultSessionKey
	v.Agent.MaxMessageLength = g.config.Agent.MaxMessageLength
	v.Agent.RequestTimeout = g.config.Agent.RequestTimeout.String()
	v.Skills.Paths = g.config.Skills.Paths
	v.RateLimit.Enabled = g.config.RateLimit.Enabled
	v.RateLimit.AuthPerMinute = g.config.RateLimit.AuthPerMinute
	v.RateLimit.ChatPerMinute = g.config.RateLimit.ChatPerMinute
	v.RateLimit.GeneralPerMinute = g.config.RateLimit.GeneralPerMinute
	return v
}

func (g *Gateway) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()
	writeData(w, meta, http.StatusOK, g.currentConfigView())
}

// handleConfigPatch updates the small set of runtime-tunable settings.
// Server address, database path, and auth material require a restart.
func (g *Gateway) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	meta := beginRequest()

	var patch struct {
		Agent *struct {
			DefaultSessionKey *string `json:"default_session_key"`
			MaxMessageLength  *int    `json:"max_message_length"`
		} `json:"agent"`
	}
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, meta, ws.CodeValidationError, "invalid request body")
		return
	}

	if patch.Agent != nil {
		if patch.Agent.DefaultSessionKey != nil {
			if err := session.ValidateKey(*patch.Agent.DefaultSessionKey); err != nil {
				writeError(w, meta, ws.CodeValidationError, "invalid default session key")
				return
			}
			g.config.Agent.DefaultSessionKey = *patch.Agent.DefaultSessionKey
		}
		if patch.Agent.MaxMessageLength != nil {
			if *patch.Agent.MaxMessageLength <= 0 {
				writeError(w, meta, ws.CodeValidationError, "max_message_length must be positive")
				return
			}
			g.config.Agent.MaxMessageLength = *patch.Agent.MaxMessageLength
		}
	}
	writeData(w, meta, http.StatusOK, g.currentConfigView())
}

// agentErrorCode maps agent failures to wire codes.
func agentErrorCode(err error) string {
	switch {
	case errors.Is(err, agent.ErrBusy):
		return ws.CodeAgentBusy
	case errors.Is(err, context.DeadlineExceeded):
		return ws.CodeTimeout
	default:
		return ws.CodeAgentError
	}
}
