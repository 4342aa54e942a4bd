// Package server carries the transport around the view runtime core:
// plain HTTP for non-interactive requests and the frontend shell, a
// websocket endpoint for the persistent message channel, and the
// orchestration of scheduler, controller, template engine, and
// middleware chain across startup and shutdown.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/fscherf/lona/internal/config"
	lonaerrors "github.com/fscherf/lona/internal/errors"
	"github.com/fscherf/lona/internal/logging"
	"github.com/fscherf/lona/internal/middleware"
	"github.com/fscherf/lona/internal/registry"
	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/routing"
	"github.com/fscherf/lona/internal/runtime"
	"github.com/fscherf/lona/internal/scheduler"
	"github.com/fscherf/lona/internal/templates"
	"github.com/fscherf/lona/internal/views"
)

// Hook is a startup or shutdown callback registered by name.
type Hook func(ctx context.Context) error

// Server wires every component of the view runtime and serves it.
type Server struct {
	settings   *config.Settings
	logger     logging.Logger
	registry   *registry.Registry
	router     *routing.Router
	scheduler  *scheduler.Scheduler
	templates  *templates.Engine
	renderer   *renderer.ResponseRenderer
	controller *runtime.Controller
	chain      *middleware.Chain
	exceptions *lonaerrors.ExceptionLog

	httpServer *http.Server

	connMutex   sync.Mutex
	connections map[string]*wsConnection

	startupHooks  []Hook
	shutdownHooks []Hook
}

// New builds a server from settings and an application registry. The
// registry must hold the routing table and every handler settings
// reference; the compiled-in core handlers are registered here when the
// application did not replace them.
func New(settings *config.Settings, reg *registry.Registry, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		settings:    settings,
		logger:      logger.WithComponent("server"),
		registry:    reg,
		exceptions:  lonaerrors.NewExceptionLog(100),
		connections: make(map[string]*wsConnection),
	}

	s.templates = templates.NewEngine(settings.TemplateDirs, settings.TemplateExtraContext,
		settings.Debug, logger)
	s.renderer = renderer.NewResponseRenderer(s.templates, logger)
	s.scheduler = scheduler.New(settings.MaxWorkers, logger)

	if err := s.registerCoreHandlers(); err != nil {
		return nil, err
	}

	router, err := s.buildRouter()
	if err != nil {
		return nil, err
	}
	s.router = router

	s.controller = runtime.NewController(settings, s.scheduler, s.router, s.renderer,
		reg, s.exceptions, logger)

	chain, err := s.buildChain()
	if err != nil {
		return nil, err
	}
	s.chain = chain
	s.controller.SetChain(chain)

	if s.startupHooks, err = s.resolveHooks(settings.StartupHooks); err != nil {
		return nil, fmt.Errorf("startup hooks: %w", err)
	}
	if s.shutdownHooks, err = s.resolveHooks(settings.ShutdownHooks); err != nil {
		return nil, fmt.Errorf("shutdown hooks: %w", err)
	}

	return s, nil
}

// registerCoreHandlers installs the compiled-in views and the core
// message middleware under their well-known names, unless the
// application already claimed a name.
func (s *Server) registerCoreHandlers() error {
	core := []struct {
		name    string
		handler views.Handler
	}{
		{config.CoreFrontendViewName, views.NewFrontendView(s.templates, s.settings.FrontendTemplate)},
		{config.Error404HandlerName, views.NewErrorView(404, "Not Found", "No view is served under this URL.")},
		{config.Error403HandlerName, views.NewErrorView(403, "Forbidden", "You are not allowed to open this view.")},
	}

	for _, entry := range core {
		if _, exists := s.registry.Handler(entry.name); exists {
			continue
		}
		if err := s.registry.RegisterHandler(entry.name, entry.handler); err != nil {
			return err
		}
	}

	if _, exists := s.registry.ErrorHandler(config.Error500HandlerName); !exists {
		if err := s.registry.RegisterErrorHandler(config.Error500HandlerName, views.NewError500View()); err != nil {
			return err
		}
	}

	return nil
}

// buildRouter resolves the routing table object and registers its
// routes, in order.
func (s *Server) buildRouter() (*routing.Router, error) {
	router := routing.NewRouter()

	object, ok := s.registry.Object(s.settings.RoutingTable)
	if !ok {
		// an empty routing table is a valid, if quiet, application
		s.logger.Warn(context.Background(), nil, "no routing table registered",
			"name", s.settings.RoutingTable)
		return router, nil
	}

	routes, ok := object.([]*routing.Route)
	if !ok {
		return nil, fmt.Errorf("routing table %q is %T, want []*routing.Route",
			s.settings.RoutingTable, object)
	}

	if err := router.AddAll(routes); err != nil {
		return nil, err
	}
	return router, nil
}

// buildChain resolves the configured middleware names. The core message
// middleware is created here; application middlewares come from the
// registry.
func (s *Server) buildChain() (*middleware.Chain, error) {
	var middlewares []interface{}

	for _, name := range s.settings.MiddlewareNames() {
		if name == config.MessageMiddlewareName {
			middlewares = append(middlewares, &coreMessageMiddleware{controller: s.controller})
			continue
		}

		object, err := s.registry.ResolveObject(name)
		if err != nil {
			return nil, fmt.Errorf("middleware: %w", err)
		}
		middlewares = append(middlewares, object)
	}

	return middleware.NewChain(s.controller, middlewares, s.scheduler,
		s.settings.RequestMiddlewarePriority, s.logger), nil
}

// resolveHooks turns registry names into hook callables.
func (s *Server) resolveHooks(names []string) ([]Hook, error) {
	hooks := make([]Hook, 0, len(names))
	for _, name := range names {
		object, err := s.registry.ResolveObject(name)
		if err != nil {
			return nil, err
		}
		hook, ok := object.(Hook)
		if !ok {
			if fn, okFn := object.(func(ctx context.Context) error); okFn {
				hook = fn
			} else {
				return nil, fmt.Errorf("hook %q is %T, want server.Hook", name, object)
			}
		}
		hooks = append(hooks, hook)
	}
	return hooks, nil
}

// Controller exposes the dispatcher for introspection commands.
func (s *Server) Controller() *runtime.Controller {
	return s.controller
}

// Router exposes the routing table for introspection commands.
func (s *Server) Router() *routing.Router {
	return s.router
}

// Exceptions exposes the retained handler failures.
func (s *Server) Exceptions() *lonaerrors.ExceptionLog {
	return s.exceptions
}

// Addr returns the configured bind address.
func (s *Server) Addr() string {
	return s.settings.Host + ":" + strconv.Itoa(s.settings.Port)
}

// Run starts every component and serves until ctx is canceled or the
// listener fails, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.scheduler.Start()

	if err := s.controller.Start(ctx); err != nil {
		s.scheduler.Stop()
		return err
	}

	for _, hook := range s.startupHooks {
		if err := hook(ctx); err != nil {
			s.scheduler.Stop()
			return fmt.Errorf("startup hook: %w", err)
		}
	}
	if err := s.chain.RunStartup(ctx); err != nil {
		s.scheduler.Stop()
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.Addr(),
		Handler: s,
	}

	s.logger.Info(ctx, "server running", "addr", s.Addr(), "debug", s.settings.Debug)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := s.httpServer.ListenAndServe()
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		return s.templates.Watch(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		s.drain()
		return nil
	})

	return group.Wait()
}

// drain performs the graceful shutdown sequence, bounded by the
// configured timeout.
func (s *Server) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.ShutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "server stopping")

	s.chain.RunShutdown(ctx)
	for _, hook := range s.shutdownHooks {
		if err := hook(ctx); err != nil {
			s.logger.Warn(ctx, err, "shutdown hook failed")
		}
	}

	s.controller.Stop(ctx)
	s.scheduler.Stop()

	s.connMutex.Lock()
	conns := make([]*wsConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMutex.Unlock()
	for _, conn := range conns {
		conn.close()
	}

	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
}

// ServeHTTP routes websocket upgrades into the message channel and
// everything else through the non-interactive dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// the Upgrade token is case-insensitive on the wire
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.serveWebsocket(w, r)
		return
	}
	s.serveRequest(w, r)
}

// serveRequest answers one plain HTTP request via the controller.
func (s *Server) serveRequest(w http.ResponseWriter, r *http.Request) {
	var post map[string]interface{}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			post = make(map[string]interface{}, len(r.PostForm))
			for key, values := range r.PostForm {
				if len(values) == 1 {
					post[key] = values[0]
				} else {
					post[key] = values
				}
			}
		}
	}

	dict := s.controller.RunViewNonInteractive(nil, r.URL.Path, post)

	switch {
	case dict.HTTPRedirect != "":
		http.Redirect(w, r, dict.HTTPRedirect, http.StatusFound)

	case dict.Redirect != "":
		http.Redirect(w, r, dict.Redirect, http.StatusFound)

	case dict.File != "":
		http.ServeFile(w, r, dict.File)

	default:
		w.Header().Set("Content-Type", dict.ContentType)
		w.WriteHeader(dict.Status)
		_, _ = w.Write([]byte(dict.Text))
	}
}

// serveWebsocket upgrades the connection and runs its read loop until
// the client leaves.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), err, "websocket accept failed")
		return
	}

	id := fmt.Sprintf("conn-%d", connectionSequence.Add(1))
	conn := newWSConnection(id, wsConn, s.logger)

	if err := s.chain.RunConnection(conn); err != nil {
		s.logger.Info(r.Context(), "connection rejected", "connection", id, "reason", err.Error())
		conn.close()
		_ = wsConn.Close(websocket.StatusPolicyViolation, "rejected")
		return
	}

	s.connMutex.Lock()
	s.connections[id] = conn
	s.connMutex.Unlock()

	s.logger.Debug(r.Context(), "connection open", "connection", id)

	s.readLoop(r.Context(), conn, wsConn)

	s.connMutex.Lock()
	delete(s.connections, id)
	s.connMutex.Unlock()

	conn.close()
	s.controller.RemoveConnection(conn)
	_ = wsConn.Close(websocket.StatusNormalClosure, "")

	s.logger.Debug(r.Context(), "connection closed", "connection", id)
}

// readLoop delivers inbound frames in arrival order, which gives every
// window on the connection in-order event processing.
func (s *Server) readLoop(ctx context.Context, conn *wsConnection, wsConn *websocket.Conn) {
	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		remaining, err := s.chain.RunMessage(conn, data)
		if err != nil {
			s.logger.Error(ctx, err, "message middleware failed", "connection", conn.ID())
			continue
		}
		if remaining != nil {
			s.logger.Debug(ctx, "unhandled websocket message", "connection", conn.ID())
		}
	}
}
