// Package protocol implements the websocket message envelope spoken
// between the client and the view runtime server.
//
// Messages are JSON objects prefixed with "lona:" so that framework
// traffic can share a websocket with application-level messages; frames
// without the prefix are handed to websocket-message middlewares instead
// of the dispatcher.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagePrefix marks a text frame as framework traffic.
const MessagePrefix = "lona:"

// Method identifies the purpose of a message. Codes are stable across
// client and server: 1xx client to server, 2xx server to client,
// 3xx keepalive.
type Method int

const (
	MethodView       Method = 101
	MethodInputEvent Method = 102

	MethodRedirect     Method = 201
	MethodHTTPRedirect Method = 202
	MethodData         Method = 203
	MethodViewStart    Method = 204
	MethodViewStop     Method = 205

	MethodPing Method = 301
	MethodPong Method = 302
)

// String returns the symbolic name of the method
func (m Method) String() string {
	switch m {
	case MethodView:
		return "VIEW"
	case MethodInputEvent:
		return "INPUT_EVENT"
	case MethodRedirect:
		return "REDIRECT"
	case MethodHTTPRedirect:
		return "HTTP_REDIRECT"
	case MethodData:
		return "DATA"
	case MethodViewStart:
		return "VIEW_START"
	case MethodViewStop:
		return "VIEW_STOP"
	case MethodPing:
		return "PING"
	case MethodPong:
		return "PONG"
	default:
		return fmt.Sprintf("METHOD(%d)", int(m))
	}
}

// Valid reports whether m is one of the defined method codes.
func (m Method) Valid() bool {
	switch m {
	case MethodView, MethodInputEvent,
		MethodRedirect, MethodHTTPRedirect, MethodData,
		MethodViewStart, MethodViewStop,
		MethodPing, MethodPong:
		return true
	}
	return false
}

// ClientToServer reports whether the method is sent by clients.
func (m Method) ClientToServer() bool {
	return m == MethodView || m == MethodInputEvent || m == MethodPing
}

// Message is the envelope for all framework traffic. TargetURL and
// CurrentURL are only set on HTTP_REDIRECT; Payload carries post data
// (VIEW), the input event record (INPUT_EVENT), or rendered response
// data (DATA).
type Message struct {
	Method     Method      `json:"method"`
	WindowID   int         `json:"window_id"`
	URL        string      `json:"url,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	TargetURL  string      `json:"target_url,omitempty"`
	CurrentURL string      `json:"current_url,omitempty"`
}

// Decode parses a raw text frame. The second return value reports
// whether the frame was framework traffic at all; frames without the
// message prefix are not an error, they belong to someone else.
func Decode(raw []byte) (*Message, bool, error) {
	text := string(raw)
	if !strings.HasPrefix(text, MessagePrefix) {
		return nil, false, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(text[len(MessagePrefix):]), &msg); err != nil {
		return nil, true, fmt.Errorf("malformed message: %w", err)
	}

	if !msg.Method.Valid() {
		return nil, true, fmt.Errorf("unknown method code %d", int(msg.Method))
	}

	return &msg, true, nil
}

// Encode serializes a message with the framework prefix.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s message: %w", msg.Method, err)
	}
	return append([]byte(MessagePrefix), data...), nil
}

// NewHTTPRedirect builds the envelope instructing a single window to
// leave the websocket flow and load target over plain HTTP.
func NewHTTPRedirect(windowID int, targetURL, currentURL string) *Message {
	return &Message{
		Method:     MethodHTTPRedirect,
		WindowID:   windowID,
		TargetURL:  targetURL,
		CurrentURL: currentURL,
	}
}

// NewRedirect builds a client-side redirect to another view URL.
func NewRedirect(windowID int, url, targetURL string) *Message {
	return &Message{
		Method:    MethodRedirect,
		WindowID:  windowID,
		URL:       url,
		TargetURL: targetURL,
	}
}

// NewData builds a rendered-response delivery for one window.
func NewData(windowID int, url string, payload interface{}) *Message {
	return &Message{
		Method:   MethodData,
		WindowID: windowID,
		URL:      url,
		Payload:  payload,
	}
}

// NewViewStart signals that a runtime began serving the window.
func NewViewStart(windowID int, url string) *Message {
	return &Message{
		Method:   MethodViewStart,
		WindowID: windowID,
		URL:      url,
	}
}

// NewViewStop signals that the window's runtime terminated.
func NewViewStop(windowID int, url string, reason string) *Message {
	return &Message{
		Method:   MethodViewStop,
		WindowID: windowID,
		URL:      url,
		Payload:  reason,
	}
}
