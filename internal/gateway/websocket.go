// ABOUTME: WebSocket endpoint handling upgrade, query-parameter auth, and the read loop
// ABOUTME: Bridges gorilla connections into the connection manager and message router

package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ladle-sh/ladle/internal/auth"
	"github.com/ladle-sh/ladle/internal/ws"
)

const (
	// closeAuthFailed is sent before closing a socket that failed
	// query-parameter authentication.
	closeAuthFailed = 4001

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	// heartbeatPeriod paces application-level heartbeat events, which
	// clients behind proxies that strip control frames can observe.
	heartbeatPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriter adapts a gorilla connection to the manager's Writer interface.
// gorilla permits one concurrent writer, so writes are serialized here.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// authenticateWS resolves credentials from query parameters. Browsers cannot
// set headers on WebSocket upgrades, so the token rides the URL.
func (g *Gateway) authenticateWS(r *http.Request) (*auth.AuthContext, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return g.authn.AuthenticateToken(token)
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return g.authn.AuthenticateAPIKey(key)
	}
	return nil, auth.ErrNoCredentials
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authCtx, authErr := g.authenticateWS(r)

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Auth failures are reported over the socket with a dedicated close
	// code so clients can distinguish them from transport errors.
	if authErr != nil {
		g.logger.Debug("websocket auth failed", "remote", r.RemoteAddr, "error", authErr)
		msg := websocket.FormatCloseMessage(closeAuthFailed, "Authentication failed")
		_ = sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		_ = sock.Close()
		return
	}

	g.metrics.wsConnects.Add(1)

	sessionKey := authCtx.SessionKey
	if sessionKey == "" {
		sessionKey = g.config.Agent.DefaultSessionKey
	}

	conn := g.connections.Connect(authCtx.UserID, sessionKey, &wsWriter{conn: sock})
	defer func() {
		g.router.ConnectionClosed(conn.ID)
		g.connections.Disconnect(conn.ID)
	}()

	g.connections.Send(conn.ID, ws.NewEvent(ws.EventEstablished, map[string]any{
		"connection_id": conn.ID,
		"session_key":   sessionKey,
	}))

	sock.SetReadLimit(1 << 20)
	sock.SetReadDeadline(time.Now().Add(wsPongWait))
	sock.SetPongHandler(func(string) error {
		sock.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go g.keepAlive(sock, conn.ID, done)

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("websocket read error", "connection_id", conn.ID, "error", err)
			}
			return
		}
		g.router.Handle(r.Context(), conn, data)
	}
}

// keepAlive sends protocol pings and application heartbeat events until the
// connection's read loop exits.
func (g *Gateway) keepAlive(sock *websocket.Conn, connID string, done <-chan struct{}) {
	pingTicker := time.NewTicker(wsPingPeriod)
	heartbeatTicker := time.NewTicker(heartbeatPeriod)
	defer pingTicker.Stop()
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := sock.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = sock.Close()
				return
			}
		case <-heartbeatTicker.C:
			g.connections.Send(connID, ws.NewEvent(ws.EventHeartbeat, map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}))
		}
	}
}
