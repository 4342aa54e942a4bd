package views

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/fscherf/lona/internal/renderer"
)

// TemplateChecker is the slice of the template engine builtin views use
// to decide between a user-provided template and the compiled-in page.
type TemplateChecker interface {
	HasTemplate(name string) bool
}

// renderComponent draws a templ component into a string.
func renderComponent(c templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// page wraps a body in the minimal document every builtin view shares.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w,
			"<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n",
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n</body>\n</html>\n")
		return err
	})
}

// frontendShell is the compiled-in bootstrap document: an empty view
// container plus the client script, parameterized by the requested URL.
func frontendShell(url string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			"<div id=\"lona\"></div>\n<script>window.lona_url = \"%s\";</script>\n<script src=\"/lona/lona.js\"></script>",
			templ.EscapeString(url))
		return err
	})
	return page("Lona", body)
}

// errorPage renders the compiled-in page for an error status.
func errorPage(status int, title, message string) templ.Component {
	body := templ.Raw(fmt.Sprintf("<h1>%d %s</h1>\n<p>%s</p>",
		status, templ.EscapeString(title), templ.EscapeString(message)))
	return page(fmt.Sprintf("%d %s", status, title), body)
}

// FrontendView serves the shell document that boots the client. A
// template named by templateName shadows the compiled-in shell when the
// engine can resolve it.
type FrontendView struct {
	templates    TemplateChecker
	templateName string
}

// NewFrontendView builds the core frontend view.
func NewFrontendView(templates TemplateChecker, templateName string) *FrontendView {
	return &FrontendView{
		templates:    templates,
		templateName: templateName,
	}
}

// HandleRequest implements Handler.
func (v *FrontendView) HandleRequest(req *Request) (renderer.RawResponse, error) {
	if v.templates != nil && v.templateName != "" && v.templates.HasTemplate(v.templateName) {
		return renderer.Template{
			Name:    v.templateName,
			Context: map[string]interface{}{"url": req.URL},
		}, nil
	}

	text, err := renderComponent(frontendShell(req.URL))
	if err != nil {
		return nil, err
	}
	return renderer.String{Text: text}, nil
}

// ErrorView serves a fixed-status error page; used for the builtin 403
// and 404 handlers.
type ErrorView struct {
	status  int
	title   string
	message string
}

// NewErrorView builds an error view for status.
func NewErrorView(status int, title, message string) *ErrorView {
	return &ErrorView{status: status, title: title, message: message}
}

// HandleRequest implements Handler.
func (v *ErrorView) HandleRequest(req *Request) (renderer.RawResponse, error) {
	text, err := renderComponent(errorPage(v.status, v.title, v.message))
	if err != nil {
		return nil, err
	}
	return renderer.Raw{Status: v.status, Text: text}, nil
}

// Error500View serves the 500 path. The failure is logged by the
// controller; the page itself never exposes it.
type Error500View struct{}

// NewError500View builds the core 500 view.
func NewError500View() *Error500View {
	return &Error500View{}
}

// HandleError implements ErrorHandler.
func (v *Error500View) HandleError(req *Request, failure error) (renderer.RawResponse, error) {
	text, err := renderComponent(errorPage(500, "Internal Error",
		"The server failed while running this view."))
	if err != nil {
		return nil, err
	}
	return renderer.Raw{Status: 500, Text: text}, nil
}

// Fallback handlers run when the configured error handlers themselves
// fail. They allocate nothing that can fail.

// Fallback404 is the exception-safe last resort for unmatched routes.
var Fallback404 HandlerFunc = func(req *Request) (renderer.RawResponse, error) {
	return renderer.Raw{Status: 404, Text: "Not Found"}, nil
}

// Fallback403 is the exception-safe last resort for forbidden requests.
var Fallback403 HandlerFunc = func(req *Request) (renderer.RawResponse, error) {
	return renderer.Raw{Status: 403, Text: "Forbidden"}, nil
}

// Fallback500 is the exception-safe last resort for failed handlers.
var Fallback500 ErrorHandlerFunc = func(req *Request, failure error) (renderer.RawResponse, error) {
	return renderer.Raw{Status: 500, Text: "Internal Server Error"}, nil
}
