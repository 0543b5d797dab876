// ABOUTME: Wire message types for the WebSocket protocol
// ABOUTME: Requests, responses, errors, events, stream chunks, and ping/pong

package ws

import (
	"encoding/json"
	"fmt"
)

// Message type discriminators.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeError    = "error"
	TypeEvent    = "event"
	TypeStream   = "stream"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Error codes shared by the WebSocket protocol and the REST envelope.
const (
	CodeAuthRequired    = "AUTH_REQUIRED"
	CodeAuthInvalid     = "AUTH_INVALID"
	CodeAuthExpired     = "AUTH_EXPIRED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeValidationError = "VALIDATION_ERROR"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeAgentBusy       = "AGENT_BUSY"
	CodeAgentError      = "AGENT_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
)

// Error is the wire error object carried by error messages and envelopes.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	HelpURL string `json:"help_url,omitempty"`
}

// Request is a client-to-server method call.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a request with a result, sharing its id.
type Response struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// ErrorMessage answers a request with an error, sharing its id when one was
// extractable.
type ErrorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error *Error `json:"error"`
}

// Event is a server push carrying no id; events are not acknowledged.
type Event struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StreamChunk is one element of a streamed response. The chunk sequence for a
// request id always ends with exactly one chunk where Done is true.
type StreamChunk struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Chunk any    `json:"chunk,omitempty"`
	Done  bool   `json:"done"`
}

// Pong answers a client ping, echoing its timestamp.
type Pong struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewResponse builds a response for the given request id.
func NewResponse(id string, result any) *Response {
	return &Response{Type: TypeResponse, ID: id, Result: result}
}

// NewError builds an error message correlated to the given request id.
func NewError(id, code, message string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, ID: id, Error: &Error{Code: code, Message: message}}
}

// NewEvent builds a server event.
func NewEvent(event string, data any) *Event {
	return &Event{Type: TypeEvent, Event: event, Data: data}
}

// NewStreamChunk builds one stream element for the given request id.
func NewStreamChunk(id string, chunk any, done bool) *StreamChunk {
	return &StreamChunk{Type: TypeStream, ID: id, Chunk: chunk, Done: done}
}

// inbound is the superset shape used to parse raw client messages.
type inbound struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Timestamp string          `json:"timestamp"`
}

// Parsed is the outcome of parsing one raw client message.
type Parsed struct {
	Request *Request // set when the message is a request
	Ping    *Pong    // set when the message is a ping; contains the pong reply
}

// ParseMessage decodes a raw client message. Malformed input returns an error
// message only when an id was extractable; otherwise it returns (nil, nil, err)
// and the caller drops and logs the message.
func ParseMessage(raw []byte) (*Parsed, *ErrorMessage, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		// Structurally invalid JSON carries no recoverable id.
		return nil, nil, fmt.Errorf("invalid json: %w", err)
	}

	switch in.Type {
	case TypePing:
		return &Parsed{Ping: &Pong{Type: TypePong, Timestamp: in.Timestamp}}, nil, nil
	case TypeRequest, "":
		if in.Method == "" {
			if in.ID == "" {
				return nil, nil, fmt.Errorf("request missing method and id")
			}
			return nil, NewError(in.ID, CodeValidationError, "method is required"), nil
		}
		return &Parsed{Request: &Request{
			Type:   TypeRequest,
			ID:     in.ID,
			Method: in.Method,
			Params: in.Params,
		}}, nil, nil
	default:
		if in.ID == "" {
			return nil, nil, fmt.Errorf("unsupported message type %q", in.Type)
		}
		return nil, NewError(in.ID, CodeValidationError, fmt.Sprintf("unsupported message type %q", in.Type)), nil
	}
}
