package renderer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscherf/lona/internal/logging"
)

// stubTemplates records render calls and produces a deterministic body.
type stubTemplates struct {
	lastName    string
	lastContext map[string]interface{}
	err         error
}

func (s *stubTemplates) RenderTemplate(name string, context map[string]interface{}) (string, error) {
	s.lastName = name
	s.lastContext = context
	if s.err != nil {
		return "", s.err
	}
	return "tmpl:" + name, nil
}

func newTestRenderer(t *testing.T) (*ResponseRenderer, *stubTemplates) {
	t.Helper()
	templates := &stubTemplates{}
	return NewResponseRenderer(templates, logging.Discard()), templates
}

func TestRenderVariants(t *testing.T) {
	rr, templates := newTestRenderer(t)

	t.Run("string body", func(t *testing.T) {
		dict, err := rr.Render(String{Text: "hi"}, "hello")

		require.NoError(t, err)
		assert.Equal(t, 200, dict.Status)
		assert.Equal(t, "text/html", dict.ContentType)
		assert.Equal(t, "hi", dict.Text)
		assert.Empty(t, dict.Redirect)
	})

	t.Run("nil is the empty response", func(t *testing.T) {
		dict, err := rr.Render(nil, "silent")

		require.NoError(t, err)
		assert.Equal(t, NewResponseDict(), dict)
	})

	t.Run("json flips the content type", func(t *testing.T) {
		dict, err := rr.Render(JSON{Value: map[string]interface{}{"n": 1}}, "api")

		require.NoError(t, err)
		assert.Equal(t, "application/json", dict.ContentType)
		assert.JSONEq(t, `{"n":1}`, dict.Text)
	})

	t.Run("json marshal failure is an error", func(t *testing.T) {
		_, err := rr.Render(JSON{Value: func() {}}, "api")
		assert.Error(t, err)
	})

	t.Run("redirect", func(t *testing.T) {
		dict, err := rr.Render(Redirect{URL: "/login"}, "secret")

		require.NoError(t, err)
		assert.Equal(t, "/login", dict.Redirect)
		assert.Empty(t, dict.Text)
	})

	t.Run("http redirect", func(t *testing.T) {
		dict, err := rr.Render(HTTPRedirect{URL: "/legacy"}, "legacy")

		require.NoError(t, err)
		assert.Equal(t, "/legacy", dict.HTTPRedirect)
	})

	t.Run("file", func(t *testing.T) {
		dict, err := rr.Render(File{Path: "/tmp/report.pdf"}, "report")

		require.NoError(t, err)
		assert.Equal(t, "/tmp/report.pdf", dict.File)
	})

	t.Run("template goes through the engine", func(t *testing.T) {
		dict, err := rr.Render(Template{
			Name:    "detail.html",
			Context: map[string]interface{}{"id": "42"},
		}, "detail")

		require.NoError(t, err)
		assert.Equal(t, "tmpl:detail.html", dict.Text)
		assert.Equal(t, "detail.html", templates.lastName)
		assert.Equal(t, "42", templates.lastContext["id"])
	})

	t.Run("template engine failure propagates", func(t *testing.T) {
		templates.err = errors.New("missing template")
		defer func() { templates.err = nil }()

		_, err := rr.Render(Template{Name: "gone.html"}, "detail")
		assert.Error(t, err)
	})

	t.Run("raw keeps explicit fields and defaults the rest", func(t *testing.T) {
		dict, err := rr.Render(Raw{Status: 503, Text: "down"}, "maintenance")

		require.NoError(t, err)
		assert.Equal(t, 503, dict.Status)
		assert.Equal(t, "text/html", dict.ContentType)
		assert.Equal(t, "down", dict.Text)
	})
}

func TestRenderWithoutEngine(t *testing.T) {
	rr := NewResponseRenderer(nil, logging.Discard())

	_, err := rr.Render(Template{Name: "x.html"}, "v")
	assert.Error(t, err)
}

func TestRenderValueMaps(t *testing.T) {
	rr, templates := newTestRenderer(t)

	t.Run("recognized keys are copied", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{
			"status":       418,
			"content_type": "text/plain",
			"text":         "short and stout",
		}, "teapot")

		require.NoError(t, err)
		assert.Equal(t, 418, dict.Status)
		assert.Equal(t, "text/plain", dict.ContentType)
		assert.Equal(t, "short and stout", dict.Text)
	})

	t.Run("status arrives as float64 from decoded json", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{"status": float64(404)}, "v")

		require.NoError(t, err)
		assert.Equal(t, 404, dict.Status)
	})

	t.Run("redirect wins and zeroes exclusive fields", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{
			"redirect":      "/login",
			"http_redirect": "/elsewhere",
			"text":          "leftover",
			"template":      "x.html",
			"json":          1,
		}, "secret")

		require.NoError(t, err)
		assert.Equal(t, "/login", dict.Redirect)
		assert.Empty(t, dict.HTTPRedirect)
		assert.Empty(t, dict.Text)
		assert.Empty(t, dict.File)
	})

	t.Run("http redirect beats template and json", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{
			"http_redirect": "/legacy",
			"template":      "x.html",
			"json":          1,
		}, "legacy")

		require.NoError(t, err)
		assert.Equal(t, "/legacy", dict.HTTPRedirect)
		assert.Empty(t, dict.Text)
	})

	t.Run("template context from sub key", func(t *testing.T) {
		_, err := rr.RenderValue(map[string]interface{}{
			"template": "detail.html",
			"context":  map[string]interface{}{"id": "7"},
		}, "detail")

		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"id": "7"}, templates.lastContext)
	})

	t.Run("template context defaults to the whole map", func(t *testing.T) {
		_, err := rr.RenderValue(map[string]interface{}{
			"template": "detail.html",
			"title":    "hi",
		}, "detail")

		require.NoError(t, err)
		assert.Equal(t, "hi", templates.lastContext["title"])
	})

	t.Run("json map response", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{
			"json": []interface{}{1, 2, 3},
		}, "api")

		require.NoError(t, err)
		assert.Equal(t, "application/json", dict.ContentType)
		assert.JSONEq(t, `[1,2,3]`, dict.Text)
	})

	t.Run("empty map is the default response", func(t *testing.T) {
		dict, err := rr.RenderValue(map[string]interface{}{}, "empty")

		require.NoError(t, err)
		assert.Equal(t, NewResponseDict(), dict)
	})
}

func TestRenderValuePassThrough(t *testing.T) {
	rr, _ := newTestRenderer(t)

	t.Run("string value", func(t *testing.T) {
		dict, err := rr.RenderValue("hi", "hello")

		require.NoError(t, err)
		assert.Equal(t, "hi", dict.Text)
	})

	t.Run("nil value", func(t *testing.T) {
		dict, err := rr.RenderValue(nil, "hello")

		require.NoError(t, err)
		assert.Equal(t, NewResponseDict(), dict)
	})

	t.Run("tagged variant value", func(t *testing.T) {
		dict, err := rr.RenderValue(Redirect{URL: "/x"}, "hello")

		require.NoError(t, err)
		assert.Equal(t, "/x", dict.Redirect)
	})

	t.Run("unsupported value", func(t *testing.T) {
		_, err := rr.RenderValue(42, "hello")
		assert.Error(t, err)
	})
}

func TestRenderIdempotence(t *testing.T) {
	rr, _ := newTestRenderer(t)

	inputs := []interface{}{
		"hi",
		map[string]interface{}{"redirect": "/login"},
		map[string]interface{}{"json": map[string]interface{}{"a": 1}},
		map[string]interface{}{"status": 500, "text": "boom"},
		JSON{Value: "x"},
		Raw{Status: 201, ContentType: "text/plain", Text: "made"},
	}

	for i, input := range inputs {
		once, err := rr.RenderValue(input, "v")
		require.NoError(t, err, "input %d", i)

		twice, err := rr.RenderValue(once, "v")
		require.NoError(t, err, "input %d", i)

		assert.Equal(t, once, twice, "input %d", i)
	}
}

func TestRenderedDictIsACopy(t *testing.T) {
	rr, _ := newTestRenderer(t)

	original := &ResponseDict{Status: 200, ContentType: "text/html", Text: "hi"}
	rendered, err := rr.RenderValue(original, "v")
	require.NoError(t, err)

	rendered.Text = "mutated"
	assert.Equal(t, "hi", original.Text)
}

func TestRenderWarnings(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelWarn,
		Format: "json",
		Output: buf,
	})
	rr := NewResponseRenderer(&stubTemplates{}, logger)

	t.Run("unknown keys warn", func(t *testing.T) {
		buf.Reset()
		_, err := rr.RenderValue(map[string]interface{}{
			"text":   "hi",
			"bogus":  1,
			"extra_": "x",
		}, "warned")

		require.NoError(t, err)
		assert.Contains(t, buf.String(), "unknown response key")
	})

	t.Run("ambiguous keys warn", func(t *testing.T) {
		buf.Reset()
		_, err := rr.RenderValue(map[string]interface{}{
			"redirect": "/a",
			"json":     1,
		}, "warned")

		require.NoError(t, err)
		assert.Contains(t, buf.String(), "ambiguous response keys")
	})
}

func ExampleResponseRenderer_Render() {
	rr := NewResponseRenderer(nil, logging.Discard())

	dict, _ := rr.Render(String{Text: "hi"}, "hello")
	fmt.Println(dict.Status, dict.ContentType, dict.Text)
	// Output: 200 text/html hi
}
