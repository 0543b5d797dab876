// ABOUTME: HTTP-level tests for the /v1 REST surface and WebSocket endpoint
// ABOUTME: Exercises auth flows, chat, tasks, sessions, tools, memory, and limits

package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladle-sh/ladle/internal/auth"
	"github.com/ladle-sh/ladle/internal/config"
	"github.com/ladle-sh/ladle/internal/task"
	wsproto "github.com/ladle-sh/ladle/internal/ws"
)

const testPassword = "hunter2-hunter2"

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "ladle.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.RateLimit.Enabled = false

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	cfg.Auth.Users = map[string]string{"alice": hash}

	apiKey, keyHash, err := auth.GenerateAPIKey("test")
	require.NoError(t, err)
	cfg.Auth.APIKeys = map[string]string{keyHash: "key-user"}

	return cfg, apiKey
}

func newTestGateway(t *testing.T) (*Gateway, string) {
	t.Helper()

	cfg, apiKey := testConfig(t)
	g, err := New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown() })
	return g, apiKey
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *wsproto.Error  `json:"error"`
	Meta    Meta            `json:"meta"`
}

func doJSON(t *testing.T, g *Gateway, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func login(t *testing.T, g *Gateway) (access, refresh string) {
	t.Helper()

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"user_id":  "alice",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.AccessToken, data.RefreshToken
}

func TestGateway_Login_Success(t *testing.T) {
	g, _ := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"user_id":  "alice",
		"password": testPassword,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.True(t, strings.HasPrefix(env.Meta.RequestID, "req_"))
	assert.Contains(t, string(env.Data), "access_token")
	assert.Contains(t, string(env.Data), "refresh_token")
}

func TestGateway_Login_WrongPassword(t *testing.T) {
	g, _ := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"user_id":  "alice",
		"password": "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeAuthInvalid, env.Error.Code)
}

func TestGateway_Login_WithAPIKey(t *testing.T) {
	g, apiKey := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"api_key": apiKey,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	var data struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.AccessToken)

	// The issued token works as a bearer credential.
	rec, _ = doJSON(t, g, http.MethodGet, "/v1/auth/verify", data.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "key-user")
}

func TestGateway_Login_InvalidAPIKey(t *testing.T) {
	g, _ := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"api_key": "sk_live_invalid",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeAuthInvalid, env.Error.Code)
}

func TestGateway_Login_NoCredentials(t *testing.T) {
	g, _ := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeValidationError, env.Error.Code)
}

func TestGateway_RefreshAndLogout(t *testing.T) {
	g, _ := newTestGateway(t)
	_, refresh := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "access_token")

	access, _ := login(t, g)
	rec, _ = doJSON(t, g, http.MethodPost, "/v1/auth/logout", access, map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, g, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
}

func TestGateway_Verify_WithAPIKey(t *testing.T) {
	g, apiKey := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/verify", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "key-user")
	assert.Contains(t, rec.Body.String(), "api_key")
}

func TestGateway_Auth_MissingCredentials(t *testing.T) {
	g, _ := newTestGateway(t)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/sessions", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeAuthRequired, env.Error.Code)
}

func TestGateway_Auth_InvalidAPIKey(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "sk_live_invalid")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), wsproto.CodeAuthInvalid)
}

func TestGateway_Chat_Sync(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/agent/chat", access, map[string]any{
		"message": "hello there",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var data struct {
		Response   string `json:"response"`
		SessionKey string `json:"session_key"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Response)
	assert.Equal(t, "default", data.SessionKey)
}

func TestGateway_Chat_EmptyMessage(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/agent/chat", access, map[string]any{
		"message": "   ",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeValidationError, env.Error.Code)
}

func TestGateway_Chat_InvalidSessionKey(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/agent/chat", access, map[string]any{
		"message":     "hi",
		"session_key": "my session!",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeValidationError, env.Error.Code)
}

func TestGateway_Chat_SSEStream(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	body := bytes.NewBufferString(`{"message":"stream me please","stream":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/agent/chat", body)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))
}

func TestGateway_TaskLifecycle(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/agent/chat/async", access, map[string]any{
		"message": "work on this",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	require.NotEmpty(t, submitted.TaskID)
	assert.Equal(t, string(task.StatusPending), submitted.Status)

	deadline := time.Now().Add(5 * time.Second)
	var snap struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress"`
	}
	for {
		rec, env = doJSON(t, g, http.MethodGet, "/v1/agent/tasks/"+submitted.TaskID, access, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(env.Data, &snap))
		if snap.Status == string(task.StatusCompleted) {
			break
		}
		require.True(t, time.Now().Before(deadline), "task never completed, status %s", snap.Status)
		time.Sleep(10 * time.Millisecond)
	}

	// Cancelling a finished task conflicts.
	rec, env = doJSON(t, g, http.MethodPost, "/v1/agent/tasks/"+submitted.TaskID+"/cancel", access, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeConflict, env.Error.Code)
}

func TestGateway_TaskStatus_NotFound(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/agent/tasks/nope", access, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeNotFound, env.Error.Code)
}

func TestGateway_AgentStatus(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/agent/status", access, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "tools_available")
	assert.Contains(t, string(env.Data), "active_connections")
}

func TestGateway_Sessions_CRUD(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, _ := doJSON(t, g, http.MethodPost, "/v1/sessions", access, map[string]string{"key": "research"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/sessions", access, map[string]string{"key": "research"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeConflict, env.Error.Code)

	rec, env = doJSON(t, g, http.MethodGet, "/v1/sessions/research", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "research")

	rec, env = doJSON(t, g, http.MethodPost, "/v1/sessions/research/clear", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "messages_removed")

	rec, _ = doJSON(t, g, http.MethodDelete, "/v1/sessions/research", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, g, http.MethodGet, "/v1/sessions/research", access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeNotFound, env.Error.Code)
}

func TestGateway_Sessions_InvalidKey(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/sessions", access, map[string]string{"key": "my session!"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, wsproto.CodeValidationError, env.Error.Code)
}

func TestGateway_Sessions_ExportImport(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	_, _ = doJSON(t, g, http.MethodPost, "/v1/agent/chat", access, map[string]any{
		"message":     "remember this",
		"session_key": "archive",
	})

	rec, env := doJSON(t, g, http.MethodGet, "/v1/sessions/archive/export", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var export map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &export))
	export["key"] = "restored"

	rec, env = doJSON(t, g, http.MethodPost, "/v1/sessions/import", access, export)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, string(env.Data), "restored")
}

func TestGateway_Tools(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/tools", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "echo")

	rec, env = doJSON(t, g, http.MethodGet, "/v1/tools/echo/schema", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "parameters")

	rec, env = doJSON(t, g, http.MethodPost, "/v1/tools/echo/execute", access, map[string]any{
		"arguments": map[string]string{"text": "ping"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "ping")

	rec, env = doJSON(t, g, http.MethodGet, "/v1/tools/missing/schema", access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
}

func TestGateway_Skills_NotFound(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/skills", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"count":0`)

	rec, env = doJSON(t, g, http.MethodPost, "/v1/skills/nope/activate", access, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
}

func TestGateway_Memory(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodPost, "/v1/memory", access, map[string]any{
		"content": "prefers concise answers",
		"tags":    []string{"style"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = doJSON(t, g, http.MethodGet, "/v1/memory/search?q=concise", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "concise")

	rec, env = doJSON(t, g, http.MethodGet, "/v1/memory/context?limit=5", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"count":1`)

	rec, env = doJSON(t, g, http.MethodPost, "/v1/memory", access, map[string]any{"content": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
}

func TestGateway_Config(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	rec, env := doJSON(t, g, http.MethodGet, "/v1/config", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, string(env.Data), "test-secret")
	assert.Contains(t, string(env.Data), "default_session_key")

	rec, env = doJSON(t, g, http.MethodPatch, "/v1/config", access, map[string]any{
		"agent": map[string]any{"max_message_length": 2000},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"max_message_length":2000`)

	rec, env = doJSON(t, g, http.MethodPatch, "/v1/config", access, map[string]any{
		"agent": map[string]any{"max_message_length": -1},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ladle_requests_total")
}

func TestGateway_RateLimit_Login(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.AuthPerMinute = 2

	g, err := New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown() })

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec, _ = doJSON(t, g, http.MethodPost, "/v1/auth/login", "", map[string]string{
			"user_id":  "alice",
			"password": testPassword,
		})
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), wsproto.CodeRateLimited)
}

func wsURL(serverURL, query string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/v1/ws" + query
}

func TestGateway_WebSocket_AuthFailure(t *testing.T) {
	g, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	sock, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "?token=garbage"), nil)
	require.NoError(t, err)
	defer sock.Close()

	_, _, err = sock.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, closeAuthFailed, closeErr.Code)
}

func TestGateway_WebSocket_ChatRoundTrip(t *testing.T) {
	g, _ := newTestGateway(t)
	access, _ := login(t, g)

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	sock, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "?token="+access), nil)
	require.NoError(t, err)
	defer sock.Close()

	sock.SetReadDeadline(time.Now().Add(5 * time.Second))

	var established struct {
		Type  string `json:"type"`
		Event string `json:"event"`
		Data  struct {
			ConnectionID string `json:"connection_id"`
			SessionKey   string `json:"session_key"`
		} `json:"data"`
	}
	require.NoError(t, sock.ReadJSON(&established))
	assert.Equal(t, wsproto.EventEstablished, established.Event)
	assert.NotEmpty(t, established.Data.ConnectionID)

	req := `{"type":"request","id":"r1","method":"agent.chat","params":{"message":"hello socket"}}`
	require.NoError(t, sock.WriteMessage(websocket.TextMessage, []byte(req)))

	// The response arrives among server events; read until the correlated
	// message shows up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no response before deadline")

		var msg struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		require.NoError(t, sock.ReadJSON(&msg))
		if msg.ID == "r1" {
			assert.Equal(t, wsproto.TypeResponse, msg.Type)
			return
		}
	}
}
