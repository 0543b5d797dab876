// ABOUTME: Process metrics counters exposed on the unauthenticated /metrics endpoint
// ABOUTME: Plain text counters; no external metrics pipeline is assumed

package gateway

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// metrics holds cheap atomic counters updated on every request.
type metrics struct {
	started        time.Time
	requestsTotal  atomic.Int64
	requestsFailed atomic.Int64
	chatRequests   atomic.Int64
	wsConnects     atomic.Int64
	tasksSubmitted atomic.Int64
}

func newMetrics() *metrics {
	return &metrics{started: time.Now()}
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ladle_uptime_seconds %d\n", int64(time.Since(g.metrics.started).Seconds()))
	fmt.Fprintf(w, "ladle_requests_total %d\n", g.metrics.requestsTotal.Load())
	fmt.Fprintf(w, "ladle_requests_failed_total %d\n", g.metrics.requestsFailed.Load())
	fmt.Fprintf(w, "ladle_chat_requests_total %d\n", g.metrics.chatRequests.Load())
	fmt.Fprintf(w, "ladle_ws_connections_total %d\n", g.metrics.wsConnects.Load())
	fmt.Fprintf(w, "ladle_ws_connections_active %d\n", g.connections.ConnectionCount())
	fmt.Fprintf(w, "ladle_tasks_submitted_total %d\n", g.metrics.tasksSubmitted.Load())
}
