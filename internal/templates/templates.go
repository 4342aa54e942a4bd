// Package templates wraps the template engine the response renderer and
// the frontend view call into. The engine internals (html/template) are
// an external collaborator; this package only adds the search path, the
// parse cache, the extra-context merge, and the debug niceties: cache
// invalidation on file change and an audit of rendered HTML.
package templates

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"

	"dario.cat/mergo"
	"github.com/fsnotify/fsnotify"

	"github.com/fscherf/lona/internal/logging"
)

// Engine loads templates from an ordered search path. Read-only after
// startup except for the parse cache, which the debug watcher may
// invalidate; renders always see either the old or the new template,
// never a torn one.
type Engine struct {
	dirs   []string
	extra  map[string]interface{}
	debug  bool
	logger logging.Logger

	mutex sync.RWMutex
	cache map[string]*template.Template
}

// NewEngine creates an engine searching dirs in order. extra is merged
// under every render context; debug enables the file watcher and the
// rendered-HTML audit.
func NewEngine(dirs []string, extra map[string]interface{}, debug bool, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		dirs:   dirs,
		extra:  extra,
		debug:  debug,
		logger: logger.WithComponent("templates"),
		cache:  make(map[string]*template.Template),
	}
}

// lookup finds the file backing name on the search path, first hit wins.
func (e *Engine) lookup(name string) (string, bool) {
	for _, dir := range e.dirs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// HasTemplate reports whether name resolves on the search path.
func (e *Engine) HasTemplate(name string) bool {
	e.mutex.RLock()
	_, cached := e.cache[name]
	e.mutex.RUnlock()

	if cached {
		return true
	}
	_, found := e.lookup(name)
	return found
}

// load returns the parsed template for name, caching the parse.
func (e *Engine) load(name string) (*template.Template, error) {
	e.mutex.RLock()
	tmpl, cached := e.cache[name]
	e.mutex.RUnlock()

	if cached {
		return tmpl, nil
	}

	path, found := e.lookup(name)
	if !found {
		return nil, fmt.Errorf("template %q not found in %v", name, e.dirs)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %q: %w", name, err)
	}

	tmpl, err = template.New(name).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing template %q: %w", name, err)
	}

	e.mutex.Lock()
	e.cache[name] = tmpl
	e.mutex.Unlock()

	return tmpl, nil
}

// RenderTemplate renders name against renderContext with the engine's
// extra context merged underneath: response keys win over extra keys.
func (e *Engine) RenderTemplate(name string, renderContext map[string]interface{}) (string, error) {
	tmpl, err := e.load(name)
	if err != nil {
		return "", err
	}

	merged := make(map[string]interface{}, len(renderContext)+len(e.extra))
	for key, value := range renderContext {
		merged[key] = value
	}
	if len(e.extra) > 0 {
		if err := mergo.Map(&merged, e.extra); err != nil {
			return "", fmt.Errorf("merging extra context into %q: %w", name, err)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, merged); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", name, err)
	}

	text := buf.String()
	if e.debug {
		e.audit(name, text)
	}
	return text, nil
}

// Invalidate drops name from the parse cache; the next render reparses.
func (e *Engine) Invalidate(name string) {
	e.mutex.Lock()
	delete(e.cache, name)
	e.mutex.Unlock()
}

// invalidateAll drops the whole cache. The watcher reports file paths,
// not template names, so mapping back per-file is not worth the
// bookkeeping in a debug-only path.
func (e *Engine) invalidateAll() {
	e.mutex.Lock()
	e.cache = make(map[string]*template.Template)
	e.mutex.Unlock()
}

// Watch invalidates the cache whenever a file below the search path
// changes. Blocks until ctx is done; a nil return on non-debug engines
// keeps the caller's run group simple.
func (e *Engine) Watch(ctx context.Context) error {
	if !e.debug || len(e.dirs) == 0 {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting template watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range e.dirs {
		if err := watcher.Add(dir); err != nil {
			e.logger.Warn(ctx, err, "cannot watch template dir", "dir", dir)
			continue
		}
		// watch one level of subdirectories, where namespaced
		// templates like "lona/frontend.html" live
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(dir, entry.Name()))
			}
		}
	}

	e.logger.Info(ctx, "template watcher running", "dirs", e.dirs)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			e.logger.Debug(ctx, "template change, cache invalidated", "file", event.Name)
			e.invalidateAll()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn(ctx, err, "template watcher error")
		}
	}
}
