package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/views"
)

func testHandler(text string) views.Handler {
	return views.HandlerFunc(func(req *views.Request) (renderer.RawResponse, error) {
		return renderer.String{Text: text}, nil
	})
}

func TestRegisterHandler(t *testing.T) {
	t.Run("register and resolve", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterHandler("myapp/hello", testHandler("hi")))

		handler, err := r.ResolveHandler("myapp/hello")
		require.NoError(t, err)
		require.NotNil(t, handler)
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := New()
		require.NoError(t, r.RegisterHandler("myapp/hello", testHandler("a")))

		err := r.RegisterHandler("myapp/hello", testHandler("b"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("nil handler", func(t *testing.T) {
		r := New()
		assert.Error(t, r.RegisterHandler("myapp/broken", nil))
	})

	t.Run("missing name fails with the name in the error", func(t *testing.T) {
		r := New()
		_, err := r.ResolveHandler("myapp/missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "myapp/missing")
	})
}

func TestRegisterErrorHandler(t *testing.T) {
	r := New()

	handler := views.ErrorHandlerFunc(func(req *views.Request, failure error) (renderer.RawResponse, error) {
		return renderer.Raw{Status: 500, Text: "boom"}, nil
	})
	require.NoError(t, r.RegisterErrorHandler("myapp/500", handler))

	resolved, err := r.ResolveErrorHandler("myapp/500")
	require.NoError(t, err)
	require.NotNil(t, resolved)

	_, err = r.ResolveErrorHandler("myapp/unknown")
	assert.Error(t, err)
}

func TestRegisterObject(t *testing.T) {
	r := New()

	routes := []string{"/", "/about"}
	require.NoError(t, r.RegisterObject("routes", routes))

	object, err := r.ResolveObject("routes")
	require.NoError(t, err)
	assert.Equal(t, routes, object)

	_, err = r.ResolveObject("missing")
	assert.Error(t, err)
}

func TestHandlerNames(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHandler("b/view", testHandler("b")))
	require.NoError(t, r.RegisterHandler("a/view", testHandler("a")))

	assert.Equal(t, []string{"a/view", "b/view"}, r.HandlerNames())
}
