// Package views defines the contracts between the view runtime core and
// user view code: the request value handed to handlers, the connection
// abstraction the transport implements, and the handle a running view
// uses to talk back to its own runtime.
package views

import (
	"time"

	"github.com/fscherf/lona/internal/renderer"
)

// User is an opaque identity attached to a connection. Authentication
// middlewares may replace it; the core only uses it as a table key.
type User string

// Anonymous is the identity of unauthenticated connections.
const Anonymous User = "anonymous"

// Connection represents one client transport. A user may own several
// connections; a connection may host several windows.
type Connection interface {
	// ID uniquely identifies the connection for table keys and logs.
	ID() string
	// User returns the identity bound to the connection.
	User() User
	// Send queues a message, best effort. Sends to closed connections
	// are silently dropped.
	Send(data []byte)
	// IsOpen reports whether the transport still accepts writes.
	IsOpen() bool
}

// RuntimeHandle is the slice of its own runtime a running view may use.
// All methods are safe to call from inside the handler only.
type RuntimeHandle interface {
	// Daemonize keeps the runtime alive after its last window detaches.
	Daemonize()
	// NextInputEvent blocks until an input event arrives or the runtime
	// stops; the returned error carries the stop reason.
	NextInputEvent() (interface{}, error)
	// Sleep pauses the handler, waking early with the stop reason when
	// the runtime terminates.
	Sleep(d time.Duration) error
	// SendData broadcasts a rendered payload to every attached window.
	SendData(payload interface{}) error
	// URL returns the URL the runtime currently serves.
	URL() string
}

// Request is the value handed to handlers and middlewares. One Request
// is built per dispatch; middlewares see the same value the handler
// would receive.
type Request struct {
	URL         string
	MatchInfo   map[string]string
	Post        map[string]interface{}
	User        User
	Connection  Connection
	Interactive bool
	Runtime     RuntimeHandle
}

// Handler is a view entry point. The handler runs on a scheduler
// worker; it may block on Runtime.NextInputEvent or Runtime.Sleep.
type Handler interface {
	HandleRequest(req *Request) (renderer.RawResponse, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(*Request) (renderer.RawResponse, error)

// HandleRequest implements Handler.
func (f HandlerFunc) HandleRequest(req *Request) (renderer.RawResponse, error) {
	return f(req)
}

// ErrorHandler serves the 500 path: the failed request plus the error
// that killed it.
type ErrorHandler interface {
	HandleError(req *Request, failure error) (renderer.RawResponse, error)
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(*Request, error) (renderer.RawResponse, error)

// HandleError implements ErrorHandler.
func (f ErrorHandlerFunc) HandleError(req *Request, failure error) (renderer.RawResponse, error) {
	return f(req, failure)
}
