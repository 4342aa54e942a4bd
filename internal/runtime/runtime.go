// Package runtime owns the live view instances and the controller that
// dispatches client messages to them.
//
// A ViewRuntime is one running view: its handler executes on a
// scheduler worker and may block for input events or sleep between UI
// updates; the runtime carries the attached browser windows, the input
// queue, and the last rendered response. The Controller keeps the
// runtime tables and enforces the attachment, reuse, and termination
// policy.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lonaerrors "github.com/fscherf/lona/internal/errors"
	"github.com/fscherf/lona/internal/logging"
	"github.com/fscherf/lona/internal/protocol"
	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/routing"
	"github.com/fscherf/lona/internal/views"
)

// Mode tells how a runtime is shared.
type Mode int

const (
	ModeSingleUser Mode = iota
	ModeMultiUser
	ModeNonInteractive
)

// String returns the symbolic name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSingleUser:
		return "single_user"
	case ModeMultiUser:
		return "multi_user"
	case ModeNonInteractive:
		return "non_interactive"
	default:
		return "unknown"
	}
}

// State is the lifecycle position of a runtime.
type State int

const (
	StatePending State = iota
	StateRunning
	StateAwaitingInput
	StateFinished
)

// String returns the symbolic name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Window is one attached browser tab.
type Window struct {
	Connection views.Connection
	WindowID   int
	URL        string
}

// inputQueueSize bounds the per-runtime event queue; events beyond it
// are dropped, matching the best-effort contract of the transport.
const inputQueueSize = 128

// ViewRuntime is one live view instance.
type ViewRuntime struct {
	logger   logging.Logger
	renderer *renderer.ResponseRenderer

	route       *routing.Route
	url         string
	handler     views.Handler
	handlerName string
	matchInfo   routing.MatchInfo
	mode        Mode
	user        views.User

	mutex        sync.Mutex
	windows      []Window
	state        State
	isDaemon     bool
	isFinished   bool
	stopReason   error
	lastResponse *renderer.ResponseDict

	inputEvents chan interface{}
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	finishOnce  sync.Once
}

// NewViewRuntime builds a pending runtime. handlerName is used for
// logging and the exception log only.
func NewViewRuntime(route *routing.Route, url string, handler views.Handler, handlerName string,
	matchInfo routing.MatchInfo, mode Mode, user views.User,
	responseRenderer *renderer.ResponseRenderer, logger logging.Logger) *ViewRuntime {

	if logger == nil {
		logger = logging.Discard()
	}

	return &ViewRuntime{
		logger:      logger.WithComponent("runtime").With("view", handlerName, "url", url),
		renderer:    responseRenderer,
		route:       route,
		url:         url,
		handler:     handler,
		handlerName: handlerName,
		matchInfo:   matchInfo,
		mode:        mode,
		user:        user,
		state:       StatePending,
		inputEvents: make(chan interface{}, inputQueueSize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// GenRequest builds the request value bound to this runtime and an
// originating connection.
func (rt *ViewRuntime) GenRequest(conn views.Connection, post map[string]interface{}) *views.Request {
	user := rt.user
	if conn != nil {
		user = conn.User()
	}

	return &views.Request{
		URL:         rt.url,
		MatchInfo:   rt.matchInfo,
		Post:        post,
		User:        user,
		Connection:  conn,
		Interactive: rt.mode != ModeNonInteractive && rt.route != nil && rt.route.Interactive,
		Runtime:     rt,
	}
}

// GenMultiUserRequest builds a request with no originating connection,
// used for server-started multi-user views.
func (rt *ViewRuntime) GenMultiUserRequest() *views.Request {
	return &views.Request{
		URL:         rt.url,
		MatchInfo:   rt.matchInfo,
		User:        rt.user,
		Interactive: true,
		Runtime:     rt,
	}
}

// Start enters the run state and invokes the handler. It returns once
// the handler did, with the failure the controller should route through
// the error views, or nil. Cooperative stop reasons are not failures.
func (rt *ViewRuntime) Start(req *views.Request) error {
	rt.mutex.Lock()
	if rt.isFinished {
		rt.mutex.Unlock()
		return nil
	}
	select {
	case <-rt.stopCh:
		// stopped before it ever ran
		rt.mutex.Unlock()
		rt.finish()
		return nil
	default:
	}
	rt.state = StateRunning
	rt.mutex.Unlock()

	raw, err := rt.callHandler(req)

	if err != nil {
		defer rt.finishWithReason(err)
		if isStopReason(err) {
			return nil
		}
		return err
	}

	dict, renderErr := rt.renderer.RenderValue(raw, rt.handlerName)
	if renderErr != nil {
		rt.finishWithReason(renderErr)
		return renderErr
	}

	rt.mutex.Lock()
	rt.lastResponse = dict
	targets := make([]Window, len(rt.windows))
	copy(targets, rt.windows)
	rt.mutex.Unlock()

	rt.deliver(dict, targets, true)
	rt.finish()
	return nil
}

// callHandler runs the view handler, converting panics into errors so
// they never escape the runtime.
func (rt *ViewRuntime) callHandler(req *views.Request) (raw renderer.RawResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = lonaerrors.RecoveredError(r)
		}
	}()

	return rt.handler.HandleRequest(req)
}

// isStopReason reports whether err is a cooperative stop signal rather
// than a view failure.
func isStopReason(err error) bool {
	return lonaerrors.IsServerStop(err) ||
		errors.Is(err, lonaerrors.ErrDisconnected) ||
		errors.Is(err, lonaerrors.ErrStopped)
}

// AddConnection attaches a window. A window already attached under the
// same (connection, window id) is re-pointed at url. When the view has
// produced a response already, the new window receives it immediately.
func (rt *ViewRuntime) AddConnection(conn views.Connection, windowID int, url string) {
	window := Window{Connection: conn, WindowID: windowID, URL: url}

	rt.mutex.Lock()
	replaced := false
	for i, w := range rt.windows {
		if w.Connection == conn && w.WindowID == windowID {
			rt.windows[i] = window
			replaced = true
			break
		}
	}
	if !replaced {
		rt.windows = append(rt.windows, window)
	}
	last := rt.lastResponse
	rt.mutex.Unlock()

	rt.sendMessage(window, protocol.NewViewStart(windowID, url))

	if last != nil {
		rt.deliver(last, []Window{window}, true)
	}
}

// RemoveWindow detaches one window of a connection. The last window
// leaving a non-daemon runtime stops it.
func (rt *ViewRuntime) RemoveWindow(conn views.Connection, windowID int) {
	rt.removeWindows(conn, &windowID)
}

// RemoveConnection detaches every window of a connection.
func (rt *ViewRuntime) RemoveConnection(conn views.Connection) {
	rt.removeWindows(conn, nil)
}

func (rt *ViewRuntime) removeWindows(conn views.Connection, windowID *int) {
	rt.mutex.Lock()
	kept := rt.windows[:0]
	removed := 0
	for _, w := range rt.windows {
		if w.Connection == conn && (windowID == nil || w.WindowID == *windowID) {
			removed++
			continue
		}
		kept = append(kept, w)
	}
	rt.windows = kept
	empty := len(rt.windows) == 0
	daemon := rt.isDaemon
	rt.mutex.Unlock()

	if removed > 0 && empty && !daemon && rt.mode == ModeSingleUser {
		rt.Stop(lonaerrors.ErrDisconnected)
	}
}

// HandleInputEvent enqueues an input event for the view's input loop.
// Events for finished runtimes and events beyond the queue bound are
// dropped.
func (rt *ViewRuntime) HandleInputEvent(payload interface{}) {
	if rt.IsFinished() {
		return
	}

	select {
	case rt.inputEvents <- payload:
	default:
		rt.logger.Warn(context.Background(), nil, "input event queue full, dropping event")
	}
}

// HandleRawResponse normalizes raw and delivers it to targets, or to
// every attached window when targets is nil.
func (rt *ViewRuntime) HandleRawResponse(raw interface{}, targets []Window, patchInputEvents bool) error {
	dict, err := rt.renderer.RenderValue(raw, rt.handlerName)
	if err != nil {
		return err
	}

	if targets == nil {
		rt.mutex.Lock()
		rt.lastResponse = dict
		targets = make([]Window, len(rt.windows))
		copy(targets, rt.windows)
		rt.mutex.Unlock()
	}

	rt.deliver(dict, targets, patchInputEvents)
	return nil
}

// Stop initiates cooperative termination: the handler observes reason
// at its next suspension point. A runtime that never started finishes
// immediately.
func (rt *ViewRuntime) Stop(reason error) {
	rt.stopOnce.Do(func() {
		rt.mutex.Lock()
		rt.stopReason = reason
		pending := rt.state == StatePending
		rt.mutex.Unlock()

		close(rt.stopCh)

		if pending {
			rt.finish()
		}
	})
}

// finish marks the runtime terminated, exactly once.
func (rt *ViewRuntime) finish() {
	rt.finishOnce.Do(func() {
		rt.mutex.Lock()
		rt.isFinished = true
		rt.state = StateFinished
		reason := rt.stopReason
		targets := make([]Window, len(rt.windows))
		copy(targets, rt.windows)
		rt.mutex.Unlock()

		reasonText := ""
		if reason != nil {
			reasonText = reason.Error()
		}
		for _, w := range targets {
			rt.sendMessage(w, protocol.NewViewStop(w.WindowID, w.URL, reasonText))
		}

		close(rt.done)
	})
}

func (rt *ViewRuntime) finishWithReason(reason error) {
	rt.mutex.Lock()
	if rt.stopReason == nil {
		rt.stopReason = reason
	}
	rt.mutex.Unlock()
	rt.finish()
}

// deliver sends a rendered response to targets, choosing the message
// kind the response calls for. Redirects use their own envelopes so the
// client can rewrite history.
func (rt *ViewRuntime) deliver(dict *renderer.ResponseDict, targets []Window, patchInputEvents bool) {
	for _, w := range targets {
		var msg *protocol.Message

		switch {
		case dict.HTTPRedirect != "":
			msg = protocol.NewHTTPRedirect(w.WindowID, dict.HTTPRedirect, w.URL)
		case dict.Redirect != "":
			msg = protocol.NewRedirect(w.WindowID, w.URL, dict.Redirect)
		default:
			msg = protocol.NewData(w.WindowID, w.URL, map[string]interface{}{
				"response_dict":      dict,
				"patch_input_events": patchInputEvents,
			})
		}

		rt.sendMessage(w, msg)
	}
}

// sendMessage encodes and sends one envelope, best effort.
func (rt *ViewRuntime) sendMessage(w Window, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		rt.logger.Error(context.Background(), err, "cannot encode message", "method", msg.Method.String())
		return
	}
	w.Connection.Send(data)
}

// RuntimeHandle implementation. These run on the view's own worker.

// Daemonize keeps the runtime alive after its last window detaches.
func (rt *ViewRuntime) Daemonize() {
	rt.mutex.Lock()
	rt.isDaemon = true
	rt.mutex.Unlock()
}

// NextInputEvent blocks until an input event arrives or the runtime
// stops.
func (rt *ViewRuntime) NextInputEvent() (interface{}, error) {
	rt.setState(StateAwaitingInput)

	select {
	case event := <-rt.inputEvents:
		rt.setState(StateRunning)
		return event, nil
	case <-rt.stopCh:
		return nil, rt.StopReason()
	}
}

// Sleep pauses the handler, waking early with the stop reason when the
// runtime terminates.
func (rt *ViewRuntime) Sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-rt.stopCh:
		return rt.StopReason()
	}
}

// SendData renders payload and broadcasts it to every attached window.
func (rt *ViewRuntime) SendData(payload interface{}) error {
	return rt.HandleRawResponse(payload, nil, true)
}

// URL returns the URL the runtime currently serves.
func (rt *ViewRuntime) URL() string {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.url
}

// Accessors used by the controller and introspection.

// Route returns the route the runtime was created for.
func (rt *ViewRuntime) Route() *routing.Route {
	return rt.route
}

// Mode returns how the runtime is shared.
func (rt *ViewRuntime) Mode() Mode {
	return rt.mode
}

// User returns the identity the runtime belongs to; empty for
// multi-user runtimes.
func (rt *ViewRuntime) User() views.User {
	return rt.user
}

// HandlerName returns the registry name the handler resolves under.
func (rt *ViewRuntime) HandlerName() string {
	return rt.handlerName
}

// State returns the current lifecycle state.
func (rt *ViewRuntime) State() State {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.state
}

// IsDaemon reports whether the runtime survives its last window
// detaching.
func (rt *ViewRuntime) IsDaemon() bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.isDaemon
}

// IsFinished reports whether the runtime terminated.
func (rt *ViewRuntime) IsFinished() bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.isFinished
}

// StopReason returns the reason the runtime was stopped with, nil while
// it runs or after a plain handler return.
func (rt *ViewRuntime) StopReason() error {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()
	return rt.stopReason
}

// Windows returns a snapshot of the attached windows.
func (rt *ViewRuntime) Windows() []Window {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	result := make([]Window, len(rt.windows))
	copy(result, rt.windows)
	return result
}

// HasWindow reports whether the (connection, window id) pair is
// attached.
func (rt *ViewRuntime) HasWindow(conn views.Connection, windowID int) bool {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	for _, w := range rt.windows {
		if w.Connection == conn && w.WindowID == windowID {
			return true
		}
	}
	return false
}

// Done returns a channel closed once the runtime finished.
func (rt *ViewRuntime) Done() <-chan struct{} {
	return rt.done
}

func (rt *ViewRuntime) setState(state State) {
	rt.mutex.Lock()
	if !rt.isFinished {
		rt.state = state
	}
	rt.mutex.Unlock()
}

func (rt *ViewRuntime) String() string {
	return fmt.Sprintf("<ViewRuntime %s %s %s>", rt.handlerName, rt.url, rt.Mode())
}
