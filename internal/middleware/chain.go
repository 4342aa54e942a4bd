package middleware

import (
	"context"
	"fmt"

	"github.com/fscherf/lona/internal/logging"
	"github.com/fscherf/lona/internal/scheduler"
	"github.com/fscherf/lona/internal/views"
)

// Chain holds the registered middlewares in invocation order. Built at
// startup from the resolved registry names, read-only afterwards.
type Chain struct {
	server      Server
	middlewares []interface{}
	scheduler   *scheduler.Scheduler
	priority    int
	logger      logging.Logger
}

// NewChain builds a chain. middlewares keep their registration order;
// request hooks run via sched at priority, synchronously awaited.
func NewChain(server Server, middlewares []interface{}, sched *scheduler.Scheduler, priority int, logger logging.Logger) *Chain {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{
		server:      server,
		middlewares: middlewares,
		scheduler:   sched,
		priority:    priority,
		logger:      logger.WithComponent("middleware"),
	}
}

// Len returns the number of registered middleware objects.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// RunRequest invokes every request middleware in order until one
// short-circuits. The returned value is nil when the request passed the
// whole chain and the view handler should run. Errors abort the chain
// and are fatal to the request.
func (c *Chain) RunRequest(req *views.Request, handler views.Handler) (interface{}, error) {
	for i, m := range c.middlewares {
		rm, ok := m.(RequestMiddleware)
		if !ok {
			continue
		}

		value, err := c.scheduler.RunSync(func(ctx context.Context) (interface{}, error) {
			return rm.ProcessRequest(c.server, req, handler)
		}, c.priority)

		if err != nil {
			return nil, fmt.Errorf("middleware %d (%T): %w", i, m, err)
		}

		if value != nil {
			c.logger.Debug(context.Background(), "request short-circuited",
				"middleware", fmt.Sprintf("%T", m), "url", req.URL)
			return value, nil
		}
	}

	return nil, nil
}

// RunConnection offers a new connection to every connection middleware.
// The first error rejects the connection.
func (c *Chain) RunConnection(conn views.Connection) error {
	for _, m := range c.middlewares {
		cm, ok := m.(ConnectionMiddleware)
		if !ok {
			continue
		}
		if err := cm.HandleConnection(c.server, conn); err != nil {
			return err
		}
	}
	return nil
}

// RunMessage passes a raw websocket frame through the message
// middlewares. The returned data is nil once a middleware consumed the
// message; otherwise it is whatever the last middleware left of it.
func (c *Chain) RunMessage(conn views.Connection, data []byte) ([]byte, error) {
	for _, m := range c.middlewares {
		mm, ok := m.(MessageMiddleware)
		if !ok {
			continue
		}

		next, err := mm.HandleWebsocketMessage(c.server, conn, data)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		data = next
	}
	return data, nil
}

// RunStartup runs the startup hooks in order, failing fast.
func (c *Chain) RunStartup(ctx context.Context) error {
	for _, m := range c.middlewares {
		sm, ok := m.(StartupMiddleware)
		if !ok {
			continue
		}
		if err := sm.OnStartup(ctx, c.server); err != nil {
			return fmt.Errorf("startup of %T: %w", m, err)
		}
	}
	return nil
}

// RunShutdown runs the shutdown hooks in order. Failures are logged,
// never propagated: shutdown continues.
func (c *Chain) RunShutdown(ctx context.Context) {
	for _, m := range c.middlewares {
		sm, ok := m.(ShutdownMiddleware)
		if !ok {
			continue
		}
		if err := sm.OnShutdown(ctx, c.server); err != nil {
			c.logger.Warn(ctx, err, "shutdown hook failed",
				"middleware", fmt.Sprintf("%T", m))
		}
	}
}
