package cmd

import (
	"fmt"
	"html"
	"time"

	"github.com/fscherf/lona/internal/registry"
	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/routing"
	"github.com/fscherf/lona/internal/version"
	"github.com/fscherf/lona/internal/views"
)

// demoRegistry builds the application served when lona runs standalone:
// a handful of views exercising the runtime (daemon clock, input echo,
// URL arguments, plain JSON).
func demoRegistry(routingTable string) (*registry.Registry, error) {
	reg := registry.New()

	handlers := map[string]views.Handler{
		"lona-demo/home":  views.HandlerFunc(demoHome),
		"lona-demo/clock": views.HandlerFunc(demoClock),
		"lona-demo/echo":  views.HandlerFunc(demoEcho),
		"lona-demo/hello": views.HandlerFunc(demoHello),
		"lona-demo/state": views.HandlerFunc(demoState),
	}
	for name, handler := range handlers {
		if err := reg.RegisterHandler(name, handler); err != nil {
			return nil, err
		}
	}

	routes := []*routing.Route{
		routing.NewRoute("/", "lona-demo/home").WithName("home"),
		routing.NewRoute("/clock", "lona-demo/clock").WithName("clock"),
		routing.NewRoute("/echo", "lona-demo/echo").WithName("echo"),
		routing.NewRoute("/hello/<name>", "lona-demo/hello").WithName("hello"),
		routing.NewRoute("/state", "lona-demo/state").WithName("state").NonInteractive(),
	}
	if err := reg.RegisterObject(routingTable, routes); err != nil {
		return nil, err
	}

	return reg, nil
}

func demoHome(req *views.Request) (renderer.RawResponse, error) {
	return renderer.String{Text: `<h1>lona demo</h1>
<ul>
  <li><a href="/clock">/clock</a> — a daemon view pushing the time every second</li>
  <li><a href="/echo">/echo</a> — echoes every input event back</li>
  <li><a href="/hello/world">/hello/&lt;name&gt;</a> — URL arguments</li>
  <li><a href="/state">/state</a> — non-interactive JSON endpoint</li>
</ul>`}, nil
}

// demoClock survives tab closes as a daemon and pushes the current time
// to every attached window once per second.
func demoClock(req *views.Request) (renderer.RawResponse, error) {
	if !req.Interactive {
		return renderer.String{Text: "<h1>clock</h1><p>open interactively</p>"}, nil
	}

	req.Runtime.Daemonize()

	for {
		now := time.Now().Format("15:04:05")
		if err := req.Runtime.SendData(renderer.String{
			Text: fmt.Sprintf("<h1>clock</h1><p>%s</p>", now),
		}); err != nil {
			return nil, err
		}
		if err := req.Runtime.Sleep(time.Second); err != nil {
			return nil, err
		}
	}
}

// demoEcho waits for input events and reflects them back to the window
// that sent them.
func demoEcho(req *views.Request) (renderer.RawResponse, error) {
	if !req.Interactive {
		return renderer.String{Text: "<h1>echo</h1><p>open interactively</p>"}, nil
	}

	count := 0
	for {
		if err := req.Runtime.SendData(renderer.String{
			Text: fmt.Sprintf("<h1>echo</h1><p>%d events so far</p>", count),
		}); err != nil {
			return nil, err
		}

		event, err := req.Runtime.NextInputEvent()
		if err != nil {
			return nil, err
		}
		count++

		if err := req.Runtime.SendData(renderer.String{
			Text: fmt.Sprintf("<h1>echo</h1><p>event %d: %s</p>", count,
				html.EscapeString(fmt.Sprintf("%v", event))),
		}); err != nil {
			return nil, err
		}
	}
}

func demoHello(req *views.Request) (renderer.RawResponse, error) {
	return renderer.String{
		Text: fmt.Sprintf("<h1>hello %s</h1>", html.EscapeString(req.MatchInfo["name"])),
	}, nil
}

func demoState(req *views.Request) (renderer.RawResponse, error) {
	return renderer.JSON{Value: map[string]interface{}{
		"server":  "lona",
		"version": version.Short(),
		"time":    time.Now().Format(time.RFC3339),
	}}, nil
}
