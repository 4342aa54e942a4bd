package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscherf/lona/internal/protocol"
	"github.com/fscherf/lona/internal/views"
)

type recordingConnection struct {
	id   string
	user views.User
	sent [][]byte
	open bool
}

func newRecordingConnection(id string, user views.User) *recordingConnection {
	return &recordingConnection{id: id, user: user, open: true}
}

func (c *recordingConnection) ID() string       { return c.id }
func (c *recordingConnection) User() views.User { return c.user }
func (c *recordingConnection) Send(data []byte) { c.sent = append(c.sent, data) }
func (c *recordingConnection) IsOpen() bool     { return c.open }

func TestMessageMiddlewarePassesNonFrameworkThrough(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)
	mw := &coreMessageMiddleware{controller: srv.controller}

	conn := newRecordingConnection("c1", "alice")
	data := []byte(`{"app":"traffic"}`)

	remaining, err := mw.HandleWebsocketMessage(srv.controller, conn, data)
	require.NoError(t, err)
	assert.Equal(t, data, remaining)
}

func TestMessageMiddlewareConsumesMalformedFrames(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)
	mw := &coreMessageMiddleware{controller: srv.controller}

	conn := newRecordingConnection("c1", "alice")

	remaining, err := mw.HandleWebsocketMessage(srv.controller, conn,
		[]byte("lona:{not json"))
	require.NoError(t, err)
	assert.Nil(t, remaining)
	assert.Empty(t, conn.sent)
}

func TestMessageMiddlewareAnswersPing(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)
	mw := &coreMessageMiddleware{controller: srv.controller}

	conn := newRecordingConnection("c1", "alice")
	ping, err := protocol.Encode(&protocol.Message{Method: protocol.MethodPing})
	require.NoError(t, err)

	remaining, err := mw.HandleWebsocketMessage(srv.controller, conn, ping)
	require.NoError(t, err)
	assert.Nil(t, remaining)

	require.Len(t, conn.sent, 1)
	msg, isFramework, err := protocol.Decode(conn.sent[0])
	require.NoError(t, err)
	require.True(t, isFramework)
	assert.Equal(t, protocol.MethodPong, msg.Method)
}

func TestMessageMiddlewareConsumesServerToClientMethods(t *testing.T) {
	srv := newTestServer(t, nil, nil, nil)
	mw := &coreMessageMiddleware{controller: srv.controller}

	conn := newRecordingConnection("c1", "alice")
	spoofed, err := protocol.Encode(&protocol.Message{Method: protocol.MethodData, WindowID: 1})
	require.NoError(t, err)

	remaining, err := mw.HandleWebsocketMessage(srv.controller, conn, spoofed)
	require.NoError(t, err)
	assert.Nil(t, remaining)
	assert.Empty(t, conn.sent)
}
