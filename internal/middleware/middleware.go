// Package middleware runs the ordered interception chain around the
// view dispatch path.
//
// A middleware is any registered object implementing one or more of the
// capability interfaces below. The request hook is the one the
// dispatcher depends on: the first middleware returning a non-nil value
// short-circuits the dispatch, its value is rendered instead of running
// the view. The remaining hooks cover the connection lifecycle and raw
// websocket traffic that is not framework protocol.
package middleware

import (
	"context"

	"github.com/fscherf/lona/internal/config"
	"github.com/fscherf/lona/internal/views"
)

// Server is the read-only slice of the running server a middleware may
// inspect.
type Server interface {
	Settings() *config.Settings
}

// RequestMiddleware intercepts a request before its view handler runs.
// Returning a non-nil value short-circuits: the value is treated as a
// raw response and delivered, no later middleware and no view handler
// run. Returning (nil, nil) passes the request along. An error is fatal
// to this request.
type RequestMiddleware interface {
	ProcessRequest(server Server, req *views.Request, handler views.Handler) (interface{}, error)
}

// RequestMiddlewareFunc adapts a function to RequestMiddleware.
type RequestMiddlewareFunc func(Server, *views.Request, views.Handler) (interface{}, error)

// ProcessRequest implements RequestMiddleware.
func (f RequestMiddlewareFunc) ProcessRequest(server Server, req *views.Request, handler views.Handler) (interface{}, error) {
	return f(server, req, handler)
}

// ConnectionMiddleware observes websocket connections as they open.
// An error rejects the connection.
type ConnectionMiddleware interface {
	HandleConnection(server Server, conn views.Connection) error
}

// MessageMiddleware sees raw websocket text frames. Returning nil data
// consumes the message; returning the (possibly rewritten) data passes
// it to the next middleware.
type MessageMiddleware interface {
	HandleWebsocketMessage(server Server, conn views.Connection, data []byte) ([]byte, error)
}

// StartupMiddleware runs once before the server accepts traffic.
type StartupMiddleware interface {
	OnStartup(ctx context.Context, server Server) error
}

// ShutdownMiddleware runs once while the server drains.
type ShutdownMiddleware interface {
	OnShutdown(ctx context.Context, server Server) error
}
