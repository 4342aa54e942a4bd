package server

import (
	"github.com/fscherf/lona/internal/middleware"
	"github.com/fscherf/lona/internal/protocol"
	"github.com/fscherf/lona/internal/runtime"
	"github.com/fscherf/lona/internal/views"
)

// coreMessageMiddleware is the first entry of the default middleware
// chain: it consumes framework-prefixed websocket frames and hands the
// decoded envelopes to the controller. Frames without the prefix pass
// through to later message middlewares.
type coreMessageMiddleware struct {
	controller *runtime.Controller
}

// HandleWebsocketMessage implements middleware.MessageMiddleware.
func (m *coreMessageMiddleware) HandleWebsocketMessage(srv middleware.Server,
	conn views.Connection, data []byte) ([]byte, error) {

	msg, isFramework, err := protocol.Decode(data)
	if !isFramework {
		return data, nil
	}
	if err != nil {
		// malformed framework traffic is consumed, never fatal to the
		// connection
		return nil, nil
	}

	if !msg.Method.ClientToServer() {
		return nil, nil
	}

	if msg.Method == protocol.MethodPing {
		if pong, encodeErr := protocol.Encode(&protocol.Message{Method: protocol.MethodPong}); encodeErr == nil {
			conn.Send(pong)
		}
		return nil, nil
	}

	m.controller.HandleMessage(conn, msg)
	return nil, nil
}

var _ middleware.MessageMiddleware = (*coreMessageMiddleware)(nil)
