package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/fscherf/lona/internal/config"
	lonaerrors "github.com/fscherf/lona/internal/errors"
	"github.com/fscherf/lona/internal/logging"
	"github.com/fscherf/lona/internal/middleware"
	"github.com/fscherf/lona/internal/protocol"
	"github.com/fscherf/lona/internal/registry"
	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/routing"
	"github.com/fscherf/lona/internal/scheduler"
	"github.com/fscherf/lona/internal/views"
)

// Controller dispatches client messages to view runtimes and enforces
// the attachment, reuse, and termination policy. Table mutation is
// serialized behind its mutex; the controller never blocks a worker
// waiting on a view, it only schedules work and updates tables.
type Controller struct {
	logger     logging.Logger
	settings   *config.Settings
	scheduler  *scheduler.Scheduler
	router     *routing.Router
	renderer   *renderer.ResponseRenderer
	registry   *registry.Registry
	exceptions *lonaerrors.ExceptionLog
	chain      *middleware.Chain

	mutex           sync.Mutex
	singleUser      map[views.User]*runtimeTable
	singleUserOrder []views.User
	multiUser       *runtimeTable
	stopped         bool

	frontend    views.Handler
	error404    views.Handler
	fallback404 views.Handler
	error403    views.Handler
	fallback403 views.Handler
	error500    views.ErrorHandler
	fallback500 views.ErrorHandler
}

// NewController wires the dispatcher. The middleware chain is attached
// with SetChain after construction, because the chain needs the server
// the controller is part of.
func NewController(settings *config.Settings, sched *scheduler.Scheduler, router *routing.Router,
	responseRenderer *renderer.ResponseRenderer, reg *registry.Registry,
	exceptions *lonaerrors.ExceptionLog, logger logging.Logger) *Controller {

	if logger == nil {
		logger = logging.Discard()
	}

	return &Controller{
		logger:     logger.WithComponent("controller"),
		settings:   settings,
		scheduler:  sched,
		router:     router,
		renderer:   responseRenderer,
		registry:   reg,
		exceptions: exceptions,
		singleUser: make(map[views.User]*runtimeTable),
		multiUser:  newRuntimeTable(),
	}
}

// SetChain attaches the request middleware chain. Must happen before
// Start.
func (c *Controller) SetChain(chain *middleware.Chain) {
	c.chain = chain
}

// Settings implements middleware.Server.
func (c *Controller) Settings() *config.Settings {
	return c.settings
}

// Start resolves the configured error and frontend handlers, resolves
// every route handler, and boots the multi-user views. Missing registry
// names fail startup.
func (c *Controller) Start(ctx context.Context) error {
	var err error

	if c.frontend, err = c.registry.ResolveHandler(c.settings.FrontendViewName()); err != nil {
		return fmt.Errorf("frontend view: %w", err)
	}

	if c.error404, err = c.registry.ResolveHandler(c.settings.Error404Handler); err != nil {
		return fmt.Errorf("404 handler: %w", err)
	}
	c.fallback404 = views.Fallback404
	if name := c.settings.Error404FallbackHandler; name != "" {
		if c.fallback404, err = c.registry.ResolveHandler(name); err != nil {
			return fmt.Errorf("404 fallback handler: %w", err)
		}
	}

	if c.error403, err = c.registry.ResolveHandler(c.settings.Error403Handler); err != nil {
		return fmt.Errorf("403 handler: %w", err)
	}
	c.fallback403 = views.Fallback403

	if c.error500, err = c.registry.ResolveErrorHandler(c.settings.Error500Handler); err != nil {
		return fmt.Errorf("500 handler: %w", err)
	}
	c.fallback500 = views.Fallback500
	if name := c.settings.Error500FallbackHandler; name != "" {
		if c.fallback500, err = c.registry.ResolveErrorHandler(name); err != nil {
			return fmt.Errorf("500 fallback handler: %w", err)
		}
	}

	// pass-through routes resolve too: interactive dispatch only
	// redirects them, but plain HTTP runs their handler directly
	for _, route := range c.router.Routes() {
		if route.Resolved != nil {
			continue
		}
		handler, err := c.registry.ResolveHandler(route.Handler)
		if err != nil {
			return fmt.Errorf("route %q: %w", route.Pattern, err)
		}
		route.Resolved = handler
	}

	c.startMultiUserViews(ctx)
	return nil
}

// startMultiUserViews creates one shared runtime per multi-user route.
// They live from server start to server stop.
func (c *Controller) startMultiUserViews(ctx context.Context) {
	for _, route := range c.router.Routes() {
		if !route.MultiUser {
			continue
		}

		rt := NewViewRuntime(route, route.Pattern, route.Resolved, c.routeHandlerName(route),
			routing.MatchInfo{}, ModeMultiUser, "", c.renderer, c.logger)

		c.mutex.Lock()
		c.multiUser.set(route, rt)
		c.mutex.Unlock()

		req := rt.GenMultiUserRequest()
		c.scheduler.Schedule(func(taskCtx context.Context) (interface{}, error) {
			if err := rt.Start(req); err != nil {
				c.handleViewError(req, rt, err)
			}
			return nil, nil
		}, c.settings.DefaultMultiUserViewPriority)

		c.logger.Info(ctx, "multi-user view started", "route", route.Pattern)
	}
}

// Stop broadcasts ServerStop to every runtime and waits for them to
// finish, bounded by ctx.
func (c *Controller) Stop(ctx context.Context) {
	c.mutex.Lock()
	c.stopped = true
	runtimes := c.allRuntimesLocked()
	c.mutex.Unlock()

	for _, rt := range runtimes {
		rt.Stop(lonaerrors.ErrServerStop)
	}

	for _, rt := range runtimes {
		select {
		case <-rt.Done():
		case <-ctx.Done():
			c.logger.Warn(ctx, nil, "runtime did not stop in time",
				"view", rt.HandlerName(), "url", rt.URL())
		}
	}
}

// allRuntimesLocked snapshots both tables, multi-user first, in
// insertion order. Caller holds the mutex.
func (c *Controller) allRuntimesLocked() []*ViewRuntime {
	result := c.multiUser.snapshot()
	for _, user := range c.singleUserOrder {
		result = append(result, c.singleUser[user].snapshot()...)
	}
	return result
}

// HandleMessage dispatches one decoded client message.
func (c *Controller) HandleMessage(conn views.Connection, msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodView:
		post, _ := msg.Payload.(map[string]interface{})
		c.HandleViewMessage(conn, msg.WindowID, msg.URL, post)

	case protocol.MethodInputEvent:
		c.HandleInputEventMessage(conn, msg.WindowID, msg.URL, msg.Payload)

	default:
		c.logger.Debug(context.Background(), "ignoring message",
			"method", msg.Method.String(), "url", msg.URL)
	}
}

// HandleViewMessage runs the canonical VIEW dispatch for one window.
func (c *Controller) HandleViewMessage(conn views.Connection, windowID int, url string, post map[string]interface{}) {
	ctx := context.Background()
	window := Window{Connection: conn, WindowID: windowID, URL: url}

	// the window leaves whatever view it was on
	c.detachWindow(conn, windowID)

	matched, route, matchInfo := c.router.Resolve(url)
	if !matched {
		c.deliverTo(window, c.run404(c.bareRequest(conn, url)))
		return
	}

	if route.HTTPPassThrough || !route.Interactive {
		c.sendTo(conn, protocol.NewHTTPRedirect(windowID, url, url))
		return
	}

	handler := route.Resolved
	handlerName := c.routeHandlerName(route)
	user := conn.User()

	// transient runtime so middlewares see the target handler
	rt := NewViewRuntime(route, url, handler, handlerName, matchInfo,
		ModeSingleUser, user, c.renderer, c.logger)
	req := rt.GenRequest(conn, post)

	value, err := c.chain.RunRequest(req, handler)
	if err != nil {
		c.deliverTo(window, c.middlewareFailure(req, handlerName, err))
		return
	}
	if value != nil {
		if err := rt.HandleRawResponse(value, []Window{window}, false); err != nil {
			c.logger.Error(ctx, err, "cannot render middleware response", "url", url)
			c.deliverTo(window, c.internalServerError())
		}
		return
	}

	c.mutex.Lock()
	if c.stopped {
		c.mutex.Unlock()
		return
	}

	if table, ok := c.singleUser[user]; ok {
		if existing, ok := table.get(route); ok {
			if existing.IsDaemon() && !existing.IsFinished() {
				// reuse the daemon, no new start
				c.mutex.Unlock()
				existing.AddConnection(conn, windowID, url)
				return
			}
			// dead entry: finished or non-daemon. Stop is non-blocking
			// (it only signals), so the mutex stays held: releasing it
			// here would let a concurrent dispatch install a runtime
			// this path then overwrites, orphaning it outside every
			// table.
			table.delete(route)
			existing.Stop(lonaerrors.ErrStopped)
		}
	}

	if shared, ok := c.multiUser.get(route); ok {
		c.mutex.Unlock()
		shared.AddConnection(conn, windowID, url)
		return
	}

	table, ok := c.singleUser[user]
	if !ok {
		table = newRuntimeTable()
		c.singleUser[user] = table
		c.singleUserOrder = append(c.singleUserOrder, user)
	}
	table.set(route, rt)
	c.mutex.Unlock()

	rt.AddConnection(conn, windowID, url)

	c.scheduler.Schedule(func(taskCtx context.Context) (interface{}, error) {
		if err := rt.Start(req); err != nil {
			c.handleViewError(req, rt, err)
		}
		return nil, nil
	}, c.settings.DefaultViewPriority)
}

// HandleInputEventMessage routes an input event to the runtime serving
// url for this user. Events for unknown URLs are silently dropped.
func (c *Controller) HandleInputEventMessage(conn views.Connection, windowID int, url string, payload interface{}) {
	user := conn.User()

	c.mutex.Lock()
	var target *ViewRuntime
	if table, ok := c.singleUser[user]; ok {
		for _, rt := range table.snapshot() {
			if rt.URL() == url && !rt.IsFinished() {
				target = rt
				break
			}
		}
	}
	if target == nil {
		for _, rt := range c.multiUser.snapshot() {
			if rt.URL() == url && rt.HasWindow(conn, windowID) {
				target = rt
				break
			}
		}
	}
	c.mutex.Unlock()

	if target == nil {
		c.logger.Debug(context.Background(), "input event for unknown view dropped",
			"url", url, "user", string(user))
		return
	}

	target.HandleInputEvent(payload)
}

// RunViewNonInteractive serves a plain HTTP request: the frontend shell
// for interactive routes, the view itself for non-interactive ones. The
// response is returned synchronously to the HTTP caller.
func (c *Controller) RunViewNonInteractive(conn views.Connection, url string, post map[string]interface{}) *renderer.ResponseDict {
	matched, route, matchInfo := c.router.Resolve(url)
	if !matched {
		return c.run404(c.bareRequest(conn, url))
	}

	handler := route.Resolved
	handlerName := c.routeHandlerName(route)

	if route.Interactive && !route.HTTPPassThrough {
		handler = c.frontend
		handlerName = c.settings.FrontendViewName()
		if route.FrontendView != "" {
			resolved, err := c.registry.ResolveHandler(route.FrontendView)
			if err != nil {
				c.logger.Error(context.Background(), err, "frontend override missing",
					"route", route.Pattern)
				return c.internalServerError()
			}
			handler = resolved
			handlerName = route.FrontendView
		}
	}

	var user views.User = views.Anonymous
	if conn != nil {
		user = conn.User()
	}

	rt := NewViewRuntime(route, url, handler, handlerName, matchInfo,
		ModeNonInteractive, user, c.renderer, c.logger)
	req := rt.GenRequest(conn, post)

	value, err := c.chain.RunRequest(req, handler)
	if err != nil {
		return c.middlewareFailure(req, handlerName, err)
	}
	if value != nil {
		dict, renderErr := c.renderer.RenderValue(value, handlerName)
		if renderErr != nil {
			c.logger.Error(context.Background(), renderErr, "cannot render middleware response")
			return c.internalServerError()
		}
		return dict
	}

	raw, err := c.scheduler.RunSync(func(taskCtx context.Context) (interface{}, error) {
		return handler.HandleRequest(req)
	}, c.settings.DefaultViewPriority)
	if err != nil {
		if lonaerrors.IsForbidden(err) {
			return c.run403(req)
		}
		return c.run500(req, handlerName, err)
	}

	dict, err := c.renderer.RenderValue(raw, handlerName)
	if err != nil {
		return c.run500(req, handlerName, err)
	}
	return dict
}

// RemoveConnection detaches every window of a closed connection from
// every runtime. Non-daemon runtimes losing their last window stop;
// finished single-user runtimes leave the tables.
func (c *Controller) RemoveConnection(conn views.Connection) {
	c.mutex.Lock()
	runtimes := c.allRuntimesLocked()
	c.mutex.Unlock()

	for _, rt := range runtimes {
		rt.RemoveConnection(conn)
	}

	c.reapFinished()
}

// detachWindow removes one window from whatever runtime holds it.
func (c *Controller) detachWindow(conn views.Connection, windowID int) {
	c.mutex.Lock()
	runtimes := c.allRuntimesLocked()
	c.mutex.Unlock()

	for _, rt := range runtimes {
		if rt.HasWindow(conn, windowID) {
			rt.RemoveWindow(conn, windowID)
		}
	}

	c.reapFinished()
}

// reapFinished drops finished single-user runtimes from the tables.
// Multi-user runtimes stay until shutdown.
func (c *Controller) reapFinished() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, user := range c.singleUserOrder {
		table := c.singleUser[user]
		for _, rt := range table.snapshot() {
			if rt.IsFinished() && !rt.IsDaemon() {
				table.delete(rt.Route())
			}
		}
	}
}

// handleViewError routes a failed view start through the error views
// and delivers the result to the runtime's windows.
func (c *Controller) handleViewError(req *views.Request, rt *ViewRuntime, failure error) {
	var dict *renderer.ResponseDict
	if lonaerrors.IsForbidden(failure) {
		dict = c.run403(req)
	} else {
		dict = c.run500(req, rt.HandlerName(), failure)
	}

	windows := rt.Windows()
	if len(windows) == 0 && req.Connection == nil {
		return
	}
	if err := rt.HandleRawResponse(dict, windows, false); err != nil {
		c.logger.Error(context.Background(), err, "cannot deliver error response",
			"view", rt.HandlerName())
	}
}

// middlewareFailure classifies a middleware error: Forbidden renders
// the 403 path, everything else the 500 path.
func (c *Controller) middlewareFailure(req *views.Request, handlerName string, failure error) *renderer.ResponseDict {
	if lonaerrors.IsForbidden(failure) {
		return c.run403(req)
	}

	viewError := lonaerrors.NewViewError(lonaerrors.KindMiddlewareException, handlerName, failure)
	c.exceptions.Add(viewError)
	c.logger.Error(context.Background(), failure, "middleware failed",
		"view", handlerName, "url", req.URL, "stack", string(viewError.Stack))

	return c.runErrorHandler(req, failure)
}

// run404 renders the 404 path: primary handler, fallback on failure.
func (c *Controller) run404(req *views.Request) *renderer.ResponseDict {
	return c.runSafePair(req, c.error404, c.fallback404, "404")
}

// run403 renders the 403 path, analogous to 404.
func (c *Controller) run403(req *views.Request) *renderer.ResponseDict {
	return c.runSafePair(req, c.error403, c.fallback403, "403")
}

// run500 logs the failure once with its stack and renders the 500 path.
func (c *Controller) run500(req *views.Request, handlerName string, failure error) *renderer.ResponseDict {
	viewError := lonaerrors.NewViewError(lonaerrors.KindHandlerException, handlerName, failure)
	c.exceptions.Add(viewError)
	c.logger.Error(context.Background(), failure, "view failed",
		"view", handlerName, "url", req.URL, "stack", string(viewError.Stack))

	return c.runErrorHandler(req, failure)
}

// runErrorHandler runs the configured 500 view, then its fallback, then
// the hardcoded response. Each stage's failure is logged with stack.
func (c *Controller) runErrorHandler(req *views.Request, failure error) *renderer.ResponseDict {
	raw, err := c.safeCallError(c.error500, req, failure)
	if err != nil {
		viewError := lonaerrors.NewViewError(lonaerrors.KindHandlerException,
			c.settings.Error500Handler, err)
		c.exceptions.Add(viewError)
		c.logger.Error(context.Background(), err, "500 handler failed",
			"stack", string(viewError.Stack))

		raw, err = c.safeCallError(c.fallback500, req, failure)
		if err != nil {
			c.logger.Error(context.Background(), err, "500 fallback failed")
			return c.internalServerError()
		}
	}

	dict, err := c.renderer.RenderValue(raw, c.settings.Error500Handler)
	if err != nil {
		c.logger.Error(context.Background(), err, "cannot render 500 response")
		return c.internalServerError()
	}
	return dict
}

// runSafePair runs primary, then fallback, then the hardcoded response.
func (c *Controller) runSafePair(req *views.Request, primary, fallback views.Handler, name string) *renderer.ResponseDict {
	raw, err := c.safeCall(primary, req)
	if err != nil {
		viewError := lonaerrors.NewViewError(lonaerrors.KindHandlerException, name, err)
		c.exceptions.Add(viewError)
		c.logger.Error(context.Background(), err, "error handler failed",
			"handler", name, "stack", string(viewError.Stack))

		raw, err = c.safeCall(fallback, req)
		if err != nil {
			c.logger.Error(context.Background(), err, "error fallback failed", "handler", name)
			return c.internalServerError()
		}
	}

	dict, err := c.renderer.RenderValue(raw, name)
	if err != nil {
		c.logger.Error(context.Background(), err, "cannot render error response", "handler", name)
		return c.internalServerError()
	}
	return dict
}

func (c *Controller) safeCall(handler views.Handler, req *views.Request) (raw renderer.RawResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lonaerrors.RecoveredError(r)
		}
	}()
	return handler.HandleRequest(req)
}

func (c *Controller) safeCallError(handler views.ErrorHandler, req *views.Request, failure error) (raw renderer.RawResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lonaerrors.RecoveredError(r)
		}
	}()
	return handler.HandleError(req, failure)
}

// internalServerError is the last-resort hardcoded response.
func (c *Controller) internalServerError() *renderer.ResponseDict {
	return &renderer.ResponseDict{
		Status:      500,
		ContentType: "text/html",
		Text:        "Internal Server Error",
	}
}

// bareRequest builds the minimal request error views receive when no
// route matched.
func (c *Controller) bareRequest(conn views.Connection, url string) *views.Request {
	var user views.User = views.Anonymous
	if conn != nil {
		user = conn.User()
	}
	return &views.Request{
		URL:        url,
		MatchInfo:  routing.MatchInfo{},
		User:       user,
		Connection: conn,
	}
}

// deliverTo sends an already rendered response to one window.
func (c *Controller) deliverTo(window Window, dict *renderer.ResponseDict) {
	var msg *protocol.Message
	switch {
	case dict.HTTPRedirect != "":
		msg = protocol.NewHTTPRedirect(window.WindowID, dict.HTTPRedirect, window.URL)
	case dict.Redirect != "":
		msg = protocol.NewRedirect(window.WindowID, window.URL, dict.Redirect)
	default:
		msg = protocol.NewData(window.WindowID, window.URL, map[string]interface{}{
			"response_dict":      dict,
			"patch_input_events": false,
		})
	}
	c.sendTo(window.Connection, msg)
}

// sendTo encodes and sends one envelope, best effort.
func (c *Controller) sendTo(conn views.Connection, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error(context.Background(), err, "cannot encode message",
			"method", msg.Method.String())
		return
	}
	conn.Send(data)
}

// routeHandlerName returns the registry name of a route's handler, for
// logs and the exception log.
func (c *Controller) routeHandlerName(route *routing.Route) string {
	if route.Handler != "" {
		return route.Handler
	}
	if route.Name != "" {
		return route.Name
	}
	return route.Pattern
}

// RuntimeSnapshot is one runtime's state for introspection.
type RuntimeSnapshot struct {
	URL      string     `json:"url" yaml:"url"`
	Handler  string     `json:"handler" yaml:"handler"`
	User     views.User `json:"user,omitempty" yaml:"user,omitempty"`
	Mode     string     `json:"mode" yaml:"mode"`
	State    string     `json:"state" yaml:"state"`
	Daemon   bool       `json:"daemon" yaml:"daemon"`
	Finished bool       `json:"finished" yaml:"finished"`
	Windows  int        `json:"windows" yaml:"windows"`
}

// Snapshot returns the state of every live runtime, multi-user views
// first, then per-user in insertion order.
func (c *Controller) Snapshot() []RuntimeSnapshot {
	c.mutex.Lock()
	runtimes := c.allRuntimesLocked()
	c.mutex.Unlock()

	result := make([]RuntimeSnapshot, 0, len(runtimes))
	for _, rt := range runtimes {
		result = append(result, RuntimeSnapshot{
			URL:      rt.URL(),
			Handler:  rt.HandlerName(),
			User:     rt.User(),
			Mode:     rt.Mode().String(),
			State:    rt.State().String(),
			Daemon:   rt.IsDaemon(),
			Finished: rt.IsFinished(),
			Windows:  len(rt.Windows()),
		})
	}
	return result
}

// SingleUserRuntime looks up the runtime serving (user, route), for
// tests and introspection.
func (c *Controller) SingleUserRuntime(user views.User, route *routing.Route) (*ViewRuntime, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	table, ok := c.singleUser[user]
	if !ok {
		return nil, false
	}
	return table.get(route)
}

// MultiUserRuntime looks up the shared runtime of a multi-user route.
func (c *Controller) MultiUserRuntime(route *routing.Route) (*ViewRuntime, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.multiUser.get(route)
}

// SingleUserCount returns the number of live single-user runtimes of
// one user.
func (c *Controller) SingleUserCount(user views.User) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	table, ok := c.singleUser[user]
	if !ok {
		return 0
	}
	return table.len()
}
