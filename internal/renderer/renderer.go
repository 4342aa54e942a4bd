// Package renderer normalizes the values views and middlewares return
// into response records the transport can deliver.
//
// Handlers written in Go return one of the tagged variants (String,
// Template, JSON, Redirect, HTTPRedirect, File, Raw). Middlewares and
// tests may also hand over plain strings or maps; RenderValue classifies
// those by the same precedence the variants encode: redirect before
// http_redirect before template before json.
package renderer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fscherf/lona/internal/logging"
)

// RawResponse is the sum of everything a view may return. The renderer
// is total over this variant.
type RawResponse interface {
	rawResponse()
}

// String is a plain text/html body.
type String struct {
	Text string
}

// Template renders Name against Context through the template engine.
type Template struct {
	Name    string
	Context map[string]interface{}
}

// JSON serializes Value into the body and flags the content type.
type JSON struct {
	Value interface{}
}

// Redirect instructs the client to open another view URL.
type Redirect struct {
	URL string
}

// HTTPRedirect instructs the client to leave the websocket flow and
// load URL over plain HTTP.
type HTTPRedirect struct {
	URL string
}

// File serves a file from disk; delivery is the transport's concern.
type File struct {
	Path string
}

// Raw carries an already shaped response. Zero values fall back to the
// defaults (status 200, text/html).
type Raw struct {
	Status      int
	ContentType string
	Text        string
}

func (String) rawResponse()       {}
func (Template) rawResponse()     {}
func (JSON) rawResponse()         {}
func (Redirect) rawResponse()     {}
func (HTTPRedirect) rawResponse() {}
func (File) rawResponse()         {}
func (Raw) rawResponse()          {}

// ResponseDict is the normalized response record. On a well-formed
// response exactly one of Text, File, Redirect, HTTPRedirect is set.
type ResponseDict struct {
	Status       int    `json:"status"`
	ContentType  string `json:"content_type"`
	Text         string `json:"text"`
	File         string `json:"file"`
	Redirect     string `json:"redirect"`
	HTTPRedirect string `json:"http_redirect"`
}

// NewResponseDict returns the default record: 200, text/html, empty body.
func NewResponseDict() *ResponseDict {
	return &ResponseDict{
		Status:      200,
		ContentType: "text/html",
	}
}

// Copy returns an independent copy of the record.
func (rd *ResponseDict) Copy() *ResponseDict {
	c := *rd
	return &c
}

// recognized response dict keys, in copy order
var recognizedKeys = []string{
	"status", "content_type", "text", "file", "redirect", "http_redirect",
}

// exclusive content keys, in precedence order
var exclusiveKeys = []string{"redirect", "http_redirect", "template", "json"}

// TemplateRenderer is the slice of the template engine the renderer
// needs. The engine itself lives outside the core.
type TemplateRenderer interface {
	RenderTemplate(name string, context map[string]interface{}) (string, error)
}

// ResponseRenderer turns raw view output into ResponseDicts.
type ResponseRenderer struct {
	templates TemplateRenderer
	logger    logging.Logger
}

// NewResponseRenderer creates a renderer. templates may be nil when no
// template views are registered; rendering a Template variant without
// an engine is an error.
func NewResponseRenderer(templates TemplateRenderer, logger logging.Logger) *ResponseRenderer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ResponseRenderer{
		templates: templates,
		logger:    logger.WithComponent("renderer"),
	}
}

// Render normalizes a tagged variant. viewName is used for logging only.
func (rr *ResponseRenderer) Render(raw RawResponse, viewName string) (*ResponseDict, error) {
	dict := NewResponseDict()

	switch r := raw.(type) {
	case nil:
		return dict, nil

	case String:
		dict.Text = r.Text

	case Template:
		text, err := rr.renderTemplate(r.Name, r.Context)
		if err != nil {
			return nil, fmt.Errorf("rendering template %q for %q: %w", r.Name, viewName, err)
		}
		dict.Text = text

	case JSON:
		text, err := json.Marshal(r.Value)
		if err != nil {
			return nil, fmt.Errorf("serializing json response of %q: %w", viewName, err)
		}
		dict.Text = string(text)
		dict.ContentType = "application/json"

	case Redirect:
		dict.Redirect = r.URL

	case HTTPRedirect:
		dict.HTTPRedirect = r.URL

	case File:
		dict.File = r.Path

	case Raw:
		if r.Status != 0 {
			dict.Status = r.Status
		}
		if r.ContentType != "" {
			dict.ContentType = r.ContentType
		}
		dict.Text = r.Text

	default:
		return nil, fmt.Errorf("unsupported response variant %T from %q", raw, viewName)
	}

	return dict, nil
}

// RenderValue normalizes anything a view, middleware, or earlier render
// pass produced: a tagged variant, a string, a generic map, an already
// normalized ResponseDict (returned as a copy, making rendering
// idempotent), or nil (the empty 200 response).
func (rr *ResponseRenderer) RenderValue(value interface{}, viewName string) (*ResponseDict, error) {
	switch v := value.(type) {
	case nil:
		return NewResponseDict(), nil

	case *ResponseDict:
		return v.Copy(), nil

	case ResponseDict:
		return v.Copy(), nil

	case RawResponse:
		return rr.Render(v, viewName)

	case string:
		rr.logger.Debug(context.Background(), "string based view", "view", viewName)
		return rr.Render(String{Text: v}, viewName)

	case map[string]interface{}:
		return rr.renderMap(v, viewName)

	default:
		return nil, fmt.Errorf("unsupported response value %T from %q", value, viewName)
	}
}

// renderMap implements the permissive classification of generic maps:
// copy recognized keys, then apply the first exclusive key in
// precedence order. Ambiguity and unknown keys are warned about, never
// fatal.
func (rr *ResponseRenderer) renderMap(raw map[string]interface{}, viewName string) (*ResponseDict, error) {
	dict := NewResponseDict()

	for _, key := range recognizedKeys {
		value, present := raw[key]
		if !present {
			continue
		}

		switch key {
		case "status":
			dict.Status = toInt(value, dict.Status)
		case "content_type":
			dict.ContentType = toString(value)
		case "text":
			dict.Text = toString(value)
		case "file":
			dict.File = toString(value)
		case "redirect":
			dict.Redirect = toString(value)
		case "http_redirect":
			dict.HTTPRedirect = toString(value)
		}

		rr.logger.Debug(context.Background(), "response key set",
			"view", viewName, "key", key, "value", value)
	}

	rr.warnAmbiguous(raw, viewName)
	rr.warnUnknown(raw, viewName)

	switch {
	case hasKey(raw, "redirect"):
		dict.Redirect = toString(raw["redirect"])
		dict.Text, dict.File, dict.HTTPRedirect = "", "", ""

	case hasKey(raw, "http_redirect"):
		dict.HTTPRedirect = toString(raw["http_redirect"])
		dict.Text, dict.File, dict.Redirect = "", "", ""

	case hasKey(raw, "template"):
		templateContext := raw
		if sub, ok := raw["context"].(map[string]interface{}); ok {
			templateContext = sub
		}

		text, err := rr.renderTemplate(toString(raw["template"]), templateContext)
		if err != nil {
			return nil, fmt.Errorf("rendering template %q for %q: %w",
				toString(raw["template"]), viewName, err)
		}
		dict.Text = text

	case hasKey(raw, "json"):
		text, err := json.Marshal(raw["json"])
		if err != nil {
			return nil, fmt.Errorf("serializing json response of %q: %w", viewName, err)
		}
		dict.Text = string(text)
		dict.ContentType = "application/json"
	}

	return dict, nil
}

func (rr *ResponseRenderer) renderTemplate(name string, tmplContext map[string]interface{}) (string, error) {
	if rr.templates == nil {
		return "", fmt.Errorf("no template engine configured")
	}
	return rr.templates.RenderTemplate(name, tmplContext)
}

func (rr *ResponseRenderer) warnAmbiguous(raw map[string]interface{}, viewName string) {
	var present []string
	for _, key := range exclusiveKeys {
		if hasKey(raw, key) {
			present = append(present, key)
		}
	}

	if len(present) > 1 {
		rr.logger.Warn(context.Background(), nil, "ambiguous response keys, applying the first",
			"view", viewName, "keys", present)
	}
}

func (rr *ResponseRenderer) warnUnknown(raw map[string]interface{}, viewName string) {
	for key := range raw {
		if isRecognized(key) {
			continue
		}
		rr.logger.Warn(context.Background(), nil, "unknown response key ignored",
			"view", viewName, "key", key)
	}
}

func isRecognized(key string) bool {
	for _, k := range recognizedKeys {
		if key == k {
			return true
		}
	}
	for _, k := range exclusiveKeys {
		if key == k {
			return true
		}
	}
	return key == "context"
}

func hasKey(raw map[string]interface{}, key string) bool {
	_, ok := raw[key]
	return ok
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
