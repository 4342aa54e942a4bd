package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("view message", func(t *testing.T) {
		msg, ok, err := Decode([]byte(`lona:{"method":101,"window_id":3,"url":"/hello"}`))

		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, MethodView, msg.Method)
		assert.Equal(t, 3, msg.WindowID)
		assert.Equal(t, "/hello", msg.URL)
		assert.Nil(t, msg.Payload)
	})

	t.Run("input event carries payload", func(t *testing.T) {
		msg, ok, err := Decode([]byte(`lona:{"method":102,"window_id":1,"url":"/form","payload":{"type":"click"}}`))

		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, MethodInputEvent, msg.Method)

		payload, isMap := msg.Payload.(map[string]interface{})
		require.True(t, isMap)
		assert.Equal(t, "click", payload["type"])
	})

	t.Run("non framework traffic passes through", func(t *testing.T) {
		msg, ok, err := Decode([]byte(`{"method":101}`))

		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, msg)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		_, ok, err := Decode([]byte(`lona:{nope`))

		assert.True(t, ok)
		assert.Error(t, err)
	})

	t.Run("unknown method code is an error", func(t *testing.T) {
		_, ok, err := Decode([]byte(`lona:{"method":999,"window_id":0}`))

		assert.True(t, ok)
		assert.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	t.Run("http redirect envelope", func(t *testing.T) {
		raw, err := Encode(NewHTTPRedirect(7, "/legacy", "/legacy"))
		require.NoError(t, err)

		assert.Equal(t,
			`lona:{"method":202,"window_id":7,"target_url":"/legacy","current_url":"/legacy"}`,
			string(raw))
	})

	t.Run("round trip preserves the envelope", func(t *testing.T) {
		raw, err := Encode(NewRedirect(2, "/secret", "/login"))
		require.NoError(t, err)

		msg, ok, err := Decode(raw)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, MethodRedirect, msg.Method)
		assert.Equal(t, 2, msg.WindowID)
		assert.Equal(t, "/login", msg.TargetURL)
	})
}

func TestMethod(t *testing.T) {
	assert.Equal(t, "VIEW", MethodView.String())
	assert.Equal(t, "HTTP_REDIRECT", MethodHTTPRedirect.String())
	assert.Equal(t, "METHOD(999)", Method(999).String())

	assert.True(t, MethodView.ClientToServer())
	assert.True(t, MethodInputEvent.ClientToServer())
	assert.False(t, MethodData.ClientToServer())
}
