// Package errors defines the error kinds the view runtime core
// distinguishes, the sentinel values used as stop reasons, and the
// exception log the server exposes for introspection.
package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Kind classifies a failure on the dispatch path. The kind decides which
// error handler runs and how the failure is logged.
type Kind int

const (
	KindRouteNotFound Kind = iota
	KindForbidden
	KindHandlerException
	KindMiddlewareException
	KindServerStop
	KindTransportClosed
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRouteNotFound:
		return "route_not_found"
	case KindForbidden:
		return "forbidden"
	case KindHandlerException:
		return "handler_exception"
	case KindMiddlewareException:
		return "middleware_exception"
	case KindServerStop:
		return "server_stop"
	case KindTransportClosed:
		return "transport_closed"
	default:
		return "unknown"
	}
}

// Sentinel errors. ErrServerStop and ErrDisconnected double as view
// runtime stop reasons; ErrServerStop is cancellation, never a failure.
var (
	ErrServerStop      = errors.New("server stop")
	ErrDisconnected    = errors.New("disconnected by all clients")
	ErrStopped         = errors.New("view stopped")
	ErrForbidden       = errors.New("forbidden")
	ErrTransportClosed = errors.New("transport closed")
)

// IsServerStop reports whether err is the broadcast cancellation signal.
func IsServerStop(err error) bool {
	return errors.Is(err, ErrServerStop)
}

// IsForbidden reports whether err should render through the 403 path.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// ViewError records a failure raised by a view handler or middleware,
// together with the stack captured at the recovery point.
type ViewError struct {
	Kind      Kind
	View      string
	Err       error
	Stack     []byte
	Timestamp time.Time
}

// NewViewError wraps err with its kind and the current stack.
func NewViewError(kind Kind, view string, err error) *ViewError {
	return &ViewError{
		Kind:      kind,
		View:      view,
		Err:       err,
		Stack:     debug.Stack(),
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (ve *ViewError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ve.Kind, ve.View, ve.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (ve *ViewError) Unwrap() error {
	return ve.Err
}

// RecoveredError converts a recovered panic value into an error.
func RecoveredError(v interface{}) error {
	switch e := v.(type) {
	case error:
		return e
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ExceptionLog keeps the most recent view errors for introspection.
// Writers are dispatch-path goroutines; readers take snapshots.
type ExceptionLog struct {
	entries []*ViewError
	limit   int
	mutex   sync.RWMutex
}

// NewExceptionLog creates a log that retains at most limit entries.
func NewExceptionLog(limit int) *ExceptionLog {
	if limit <= 0 {
		limit = 100
	}
	return &ExceptionLog{
		entries: make([]*ViewError, 0, limit),
		limit:   limit,
	}
}

// Add appends a view error, evicting the oldest entry beyond the limit.
// Server stop is cancellation and is never recorded.
func (el *ExceptionLog) Add(ve *ViewError) {
	if ve == nil || IsServerStop(ve.Err) {
		return
	}

	el.mutex.Lock()
	defer el.mutex.Unlock()

	el.entries = append(el.entries, ve)
	if len(el.entries) > el.limit {
		el.entries = el.entries[len(el.entries)-el.limit:]
	}
}

// Snapshot returns a copy of the retained entries, oldest first.
func (el *ExceptionLog) Snapshot() []*ViewError {
	el.mutex.RLock()
	defer el.mutex.RUnlock()

	result := make([]*ViewError, len(el.entries))
	copy(result, el.entries)
	return result
}

// HasErrors returns true if any entries are retained
func (el *ExceptionLog) HasErrors() bool {
	el.mutex.RLock()
	defer el.mutex.RUnlock()
	return len(el.entries) > 0
}

// Clear drops all retained entries.
func (el *ExceptionLog) Clear() {
	el.mutex.Lock()
	defer el.mutex.Unlock()
	el.entries = el.entries[:0]
}
