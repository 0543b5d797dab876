// ABOUTME: Gateway facade composing auth, sessions, tasks, tools, skills, and memory
// ABOUTME: Serves the /v1 REST surface and the WebSocket endpoint over one HTTP server

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ladle-sh/ladle/internal/agent"
	"github.com/ladle-sh/ladle/internal/auth"
	"github.com/ladle-sh/ladle/internal/config"
	"github.com/ladle-sh/ladle/internal/memory"
	"github.com/ladle-sh/ladle/internal/ratelimit"
	"github.com/ladle-sh/ladle/internal/session"
	"github.com/ladle-sh/ladle/internal/skills"
	"github.com/ladle-sh/ladle/internal/store"
	"github.com/ladle-sh/ladle/internal/task"
	"github.com/ladle-sh/ladle/internal/tools"
	"github.com/ladle-sh/ladle/internal/ws"
)

// Gateway orchestrates the ladle-gateway server components and owns the
// HTTP server lifecycle.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store       store.Store
	tokens      *auth.TokenService
	authn       *auth.Authenticator
	sessions    *session.Registry
	tracker     *task.Tracker
	agent       agent.Agent
	tools       *tools.Registry
	skills      *skills.Manager
	memory      *memory.Service
	connections *ws.Manager
	router      *ws.Router

	authLimiter    *ratelimit.Limiter
	chatLimiter    *ratelimit.Limiter
	generalLimiter *ratelimit.Limiter

	metrics    *metrics
	httpServer *http.Server
}

// New wires a gateway from configuration. The agent loop may be nil, in
// which case the local echo agent is used.
func New(cfg *config.Config, ag agent.Agent, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), st)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	if ag == nil {
		ag = agent.NewLocalAgent("ladle-local")
	}

	toolReg := tools.NewRegistry(logger)
	if err := tools.RegisterNative(toolReg); err != nil {
		st.Close()
		return nil, fmt.Errorf("registering native tools: %w", err)
	}

	loader := skills.NewLoader(cfg.Skills.Paths, logger)
	skillMgr := skills.NewManager(loader.LoadAll(), logger)

	sessions := session.NewRegistry(st, logger)
	connections := ws.NewManager(logger)
	router := ws.NewRouter(connections, sessions, ag, toolReg, skillMgr, ws.RouterConfig{
		RequestTimeout:   cfg.Agent.RequestTimeout,
		MaxMessageLength: cfg.Agent.MaxMessageLength,
	}, logger)

	g := &Gateway{
		config:      cfg,
		logger:      logger,
		store:       st,
		tokens:      tokens,
		authn:       auth.NewAuthenticator(tokens, cfg.Auth.APIKeys),
		sessions:    sessions,
		tracker:     task.NewTracker(logger),
		agent:       ag,
		tools:       toolReg,
		skills:      skillMgr,
		memory:      memory.NewService(st, logger),
		connections: connections,
		router:      router,
		metrics:     newMetrics(),
	}

	if cfg.RateLimit.Enabled {
		g.authLimiter = ratelimit.New(ratelimit.PerMinute(cfg.RateLimit.AuthPerMinute))
		g.chatLimiter = ratelimit.New(ratelimit.PerMinute(cfg.RateLimit.ChatPerMinute))
		g.generalLimiter = ratelimit.New(ratelimit.PerMinute(cfg.RateLimit.GeneralPerMinute))
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler exposes the HTTP handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// routes builds the full endpoint table.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /ready", g.handleReady)
	mux.HandleFunc("GET /metrics", g.handleMetrics)

	// Auth endpoints; login and refresh are public, logout and verify need
	// credentials.
	mux.HandleFunc("POST /v1/auth/login", g.limited(g.authLimiter, g.handleLogin))
	mux.HandleFunc("POST /v1/auth/refresh", g.limited(g.authLimiter, g.handleRefresh))
	mux.HandleFunc("POST /v1/auth/logout", g.authed(g.handleLogout))
	mux.HandleFunc("GET /v1/auth/verify", g.authed(g.handleVerify))

	// Agent endpoints.
	mux.HandleFunc("POST /v1/agent/chat", g.authed(g.limitedAuthed(g.chatLimiter, g.handleChat)))
	mux.HandleFunc("POST /v1/agent/chat/async", g.authed(g.limitedAuthed(g.chatLimiter, g.handleChatAsync)))
	mux.HandleFunc("GET /v1/agent/tasks/{id}", g.authed(g.handleTaskStatus))
	mux.HandleFunc("POST /v1/agent/tasks/{id}/cancel", g.authed(g.handleTaskCancel))
	mux.HandleFunc("GET /v1/agent/status", g.authed(g.handleAgentStatus))

	// Session endpoints.
	mux.HandleFunc("GET /v1/sessions", g.authed(g.handleSessionList))
	mux.HandleFunc("POST /v1/sessions", g.authed(g.handleSessionCreate))
	mux.HandleFunc("GET /v1/sessions/{key}", g.authed(g.handleSessionGet))
	mux.HandleFunc("DELETE /v1/sessions/{key}", g.authed(g.handleSessionDelete))
	mux.HandleFunc("POST /v1/sessions/{key}/clear", g.authed(g.handleSessionClear))
	mux.HandleFunc("GET /v1/sessions/{key}/export", g.authed(g.handleSessionExport))
	mux.HandleFunc("POST /v1/sessions/import", g.authed(g.handleSessionImport))

	// Tool endpoints.
	mux.HandleFunc("GET /v1/tools", g.authed(g.handleToolList))
	mux.HandleFunc("GET /v1/tools/{name}/schema", g.authed(g.handleToolSchema))
	mux.HandleFunc("POST /v1/tools/{name}/execute", g.authed(g.handleToolExecute))

	// Skill endpoints.
	mux.HandleFunc("GET /v1/skills", g.authed(g.handleSkillList))
	mux.HandleFunc("POST /v1/skills/{name}/activate", g.authed(g.handleSkillActivate))
	mux.HandleFunc("POST /v1/skills/{name}/deactivate", g.authed(g.handleSkillDeactivate))

	// Memory endpoints.
	mux.HandleFunc("GET /v1/memory/search", g.authed(g.handleMemorySearch))
	mux.HandleFunc("POST /v1/memory", g.authed(g.handleMemoryAdd))
	mux.HandleFunc("GET /v1/memory/context", g.authed(g.handleMemoryContext))

	// Config endpoints.
	mux.HandleFunc("GET /v1/config", g.authed(g.handleConfigGet))
	mux.HandleFunc("PATCH /v1/config", g.authed(g.handleConfigPatch))

	// WebSocket endpoint; auth happens inside via query parameters.
	mux.HandleFunc("GET /v1/ws", g.handleWebSocket)

	return g.counted(mux)
}

// counted wraps the mux with request counting.
func (g *Gateway) counted(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.metrics.requestsTotal.Add(1)
		next.ServeHTTP(w, r)
	})
}

// authed requires valid credentials and attaches the AuthContext.
func (g *Gateway) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta := beginRequest()
		authCtx, err := g.authn.Authenticate(r)
		if err != nil {
			g.metrics.requestsFailed.Add(1)
			code, msg := authErrorCode(err)
			writeError(w, meta, code, msg)
			return
		}
		next(w, r.WithContext(auth.WithAuth(r.Context(), authCtx)))
	}
}

// authErrorCode maps authentication failures to the wire taxonomy without
// leaking detail beyond the category the client needs.
func authErrorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, auth.ErrNoCredentials):
		return ws.CodeAuthRequired, "authentication required"
	case errors.Is(err, auth.ErrExpiredToken):
		return ws.CodeAuthExpired, "token expired"
	default:
		return ws.CodeAuthInvalid, "invalid credentials"
	}
}

// limited applies a rate limit keyed by client IP. Used on public endpoints.
func (g *Gateway) limited(limiter *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil {
			if ok, retryAfter := limiter.Allow(ratelimit.ClientKey(r, "")); !ok {
				g.metrics.requestsFailed.Add(1)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
				writeError(w, beginRequest(), ws.CodeRateLimited, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

// limitedAuthed applies a rate limit keyed by the authenticated user.
// Must run after authed.
func (g *Gateway) limitedAuthed(limiter *ratelimit.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil {
			authCtx := auth.FromContext(r.Context())
			userID := ""
			if authCtx != nil {
				userID = authCtx.UserID
			}
			if ok, retryAfter := limiter.Allow(ratelimit.ClientKey(r, userID)); !ok {
				g.metrics.requestsFailed.Add(1)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
				writeError(w, beginRequest(), ws.CodeRateLimited, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return g.Shutdown()
	}
}

// Shutdown stops the server, drains in-flight work, and closes the store.
func (g *Gateway) Shutdown() error {
	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.connections.CloseAll()
	g.router.Close()
	g.tracker.Wait()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}
	return errors.Join(errs...)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int64(time.Since(g.metrics.started).Seconds()))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers; the agent collaborator may still be
	// degraded, which the status endpoint reports separately.
	if _, err := g.sessions.List(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"unavailable"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ready"}`)
}
