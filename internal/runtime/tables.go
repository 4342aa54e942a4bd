package runtime

import "github.com/fscherf/lona/internal/routing"

// runtimeTable is an insertion-ordered route to runtime map. Shutdown
// and broadcast iterate snapshots of it, so order must be stable.
type runtimeTable struct {
	keys    []*routing.Route
	entries map[*routing.Route]*ViewRuntime
}

func newRuntimeTable() *runtimeTable {
	return &runtimeTable{
		entries: make(map[*routing.Route]*ViewRuntime),
	}
}

func (t *runtimeTable) get(route *routing.Route) (*ViewRuntime, bool) {
	rt, ok := t.entries[route]
	return rt, ok
}

// set installs rt, keeping the original position when the key is
// replaced.
func (t *runtimeTable) set(route *routing.Route, rt *ViewRuntime) {
	if _, exists := t.entries[route]; !exists {
		t.keys = append(t.keys, route)
	}
	t.entries[route] = rt
}

func (t *runtimeTable) delete(route *routing.Route) {
	if _, exists := t.entries[route]; !exists {
		return
	}
	delete(t.entries, route)
	for i, key := range t.keys {
		if key == route {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

func (t *runtimeTable) len() int {
	return len(t.entries)
}

// snapshot returns the runtimes in insertion order.
func (t *runtimeTable) snapshot() []*ViewRuntime {
	result := make([]*ViewRuntime, 0, len(t.keys))
	for _, key := range t.keys {
		result = append(result, t.entries[key])
	}
	return result
}
