package gateway

import "encoding/json"

// ProtocolVersion is the console protocol revision this server speaks.
const ProtocolVersion = 1

// Frame kinds on the console socket.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Error codes carried in failed responses.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeMethodNotFound = "method_not_found"
	CodeUnavailable    = "unavailable"
)

// Server-pushed event names.
const (
	eventChallenge = "connect.challenge"
	activityEvent  = "relay.activity"
)

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 1 << 20

// Frame is the envelope for every message on the console socket. Requests
// carry ID/Method/Params, responses ID/OK/Payload/Error and events
// Event/Seq/Payload.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ConnectParams is the body of the console's first request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Console     ConsoleInfo  `json:"console"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// ConsoleInfo describes the operator tool on the other end.
type ConsoleInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ConnectAuth carries credentials in the connect request.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol   int      `json:"protocol"`
	Version    string   `json:"version"`
	Commit     string   `json:"commit,omitempty"`
	ConnID     string   `json:"connId"`
	Methods    []string `json:"methods"`
	Events     []string `json:"events"`
	MaxPayload int      `json:"maxPayload"`
}

// supports reports whether the console's protocol range includes ours.
// A zero range means the console did not say.
func (p ConnectParams) supports(version int) bool {
	if p.MinProtocol == 0 && p.MaxProtocol == 0 {
		return true
	}
	return p.MinProtocol <= version && (p.MaxProtocol == 0 || version <= p.MaxProtocol)
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response frame.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
