package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/fscherf/lona/internal/logging"
	"github.com/fscherf/lona/internal/views"
)

// sendQueueSize bounds the per-connection outbound queue. A client that
// stops reading loses updates instead of blocking view workers.
const sendQueueSize = 64

// writeTimeout caps a single websocket write.
const writeTimeout = 10 * time.Second

var connectionSequence atomic.Int64

// wsConnection adapts one websocket to views.Connection. Writes go
// through a single writer goroutine, which gives every window on this
// connection FIFO delivery.
type wsConnection struct {
	id     string
	conn   *websocket.Conn
	logger logging.Logger

	userMutex sync.RWMutex
	user      views.User

	sendCh chan []byte
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newWSConnection(id string, conn *websocket.Conn, logger logging.Logger) *wsConnection {
	ctx, cancel := context.WithCancel(context.Background())

	c := &wsConnection{
		id:     id,
		conn:   conn,
		logger: logger.WithComponent("connection").With("connection", id),
		user:   views.Anonymous,
		sendCh: make(chan []byte, sendQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	go c.writer()
	return c
}

// ID implements views.Connection.
func (c *wsConnection) ID() string {
	return c.id
}

// User implements views.Connection.
func (c *wsConnection) User() views.User {
	c.userMutex.RLock()
	defer c.userMutex.RUnlock()
	return c.user
}

// SetUser replaces the identity bound to the connection. Connection
// middlewares performing authentication call this before any dispatch.
func (c *wsConnection) SetUser(user views.User) {
	c.userMutex.Lock()
	c.user = user
	c.userMutex.Unlock()
}

// Send implements views.Connection: best effort, never blocking. Sends
// to closed connections and sends beyond the queue bound are dropped.
func (c *wsConnection) Send(data []byte) {
	if c.closed.Load() {
		return
	}

	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn(c.ctx, nil, "send queue full, dropping message")
	}
}

// IsOpen implements views.Connection.
func (c *wsConnection) IsOpen() bool {
	return !c.closed.Load()
}

// close marks the connection dead and stops the writer. Safe to call
// more than once.
func (c *wsConnection) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
	}
}

// writer drains the send queue onto the websocket, one frame at a time.
func (c *wsConnection) writer() {
	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.sendCh:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				// transport closed: drop silently and stop writing
				c.close()
				return
			}
		}
	}
}
