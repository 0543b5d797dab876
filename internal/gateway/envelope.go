// ABOUTME: Standard response envelope for all REST endpoints
// ABOUTME: Wraps success/data/error with request id, timestamp, and duration meta

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ladle-sh/ladle/internal/ws"
)

// Meta carries per-request bookkeeping in every envelope.
type Meta struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
}

// Envelope is the standard response shape for every REST endpoint.
type Envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ws.Error `json:"error,omitempty"`
	Meta    Meta      `json:"meta"`
}

// newRequestID generates a short request correlation id.
func newRequestID() string {
	return "req_" + uuid.New().String()[:12]
}

// statusForCode maps wire error codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case ws.CodeAuthRequired, ws.CodeAuthInvalid, ws.CodeAuthExpired:
		return http.StatusUnauthorized
	case ws.CodeForbidden:
		return http.StatusForbidden
	case ws.CodeNotFound:
		return http.StatusNotFound
	case ws.CodeValidationError:
		return http.StatusUnprocessableEntity
	case ws.CodeRateLimited:
		return http.StatusTooManyRequests
	case ws.CodeAgentBusy, ws.CodeConflict:
		return http.StatusConflict
	case ws.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// requestMeta tracks timing for one request's envelope.
type requestMeta struct {
	id    string
	start time.Time
}

func beginRequest() requestMeta {
	return requestMeta{id: newRequestID(), start: time.Now()}
}

func (m requestMeta) build() Meta {
	return Meta{
		RequestID:  m.id,
		Timestamp:  time.Now().UTC(),
		DurationMS: time.Since(m.start).Milliseconds(),
	}
}

// writeData writes a success envelope.
func writeData(w http.ResponseWriter, meta requestMeta, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", meta.id)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: true,
		Data:    data,
		Meta:    meta.build(),
	})
}

// writeError writes an error envelope with the HTTP status derived from the code.
func writeError(w http.ResponseWriter, meta requestMeta, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", meta.id)
	w.WriteHeader(statusForCode(code))
	_ = json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error:   &ws.Error{Code: code, Message: message},
		Meta:    meta.build(),
	})
}
