//go:build property

package runtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/fscherf/lona/internal/registry"
	"github.com/fscherf/lona/internal/renderer"
	"github.com/fscherf/lona/internal/routing"
	"github.com/fscherf/lona/internal/views"
)

// Under arbitrary VIEW sequences from one user, at most one single-user
// runtime exists per (user, route), and the shared runtime of a
// multi-user route never changes identity.
func TestControllerTableProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	daemonHandler := views.HandlerFunc(func(req *views.Request) (renderer.RawResponse, error) {
		req.Runtime.Daemonize()
		_, err := req.Runtime.NextInputEvent()
		return nil, err
	})

	properties.Property("at most one runtime per (user, route)", prop.ForAll(
		func(dispatches []int) bool {
			routes := []*routing.Route{
				routing.NewRoute("/r0", "prop/daemon"),
				routing.NewRoute("/r1", "prop/daemon1"),
				routing.NewRoute("/r2", "prop/daemon2"),
				routing.NewRoute("/shared", "prop/shared").Shared(),
			}

			h := newHarness(t, routes, harnessOptions{
				register: func(r *registry.Registry) {
					require.NoError(t, r.RegisterHandler("prop/daemon", daemonHandler))
					require.NoError(t, r.RegisterHandler("prop/daemon1", daemonHandler))
					require.NoError(t, r.RegisterHandler("prop/daemon2", daemonHandler))
					require.NoError(t, r.RegisterHandler("prop/shared", daemonHandler))
				},
			})

			sharedRoute := routeOf(t, h, "/shared")
			sharedBefore, ok := h.controller.MultiUserRuntime(sharedRoute)
			if !ok {
				return false
			}

			conn := newFakeConnection("c1", "alice")
			urls := []string{"/r0", "/r1", "/r2", "/shared"}

			for i, pick := range dispatches {
				windowID := i % 3
				h.controller.HandleViewMessage(conn, windowID, urls[pick%len(urls)], nil)
			}

			// no duplicate (user, route) pairs in the tables
			seen := map[string]int{}
			for _, snap := range h.controller.Snapshot() {
				if snap.Mode == ModeSingleUser.String() {
					seen[fmt.Sprintf("%s|%s", snap.User, snap.URL)]++
				}
			}
			for _, count := range seen {
				if count > 1 {
					return false
				}
			}

			if h.controller.SingleUserCount("alice") > 3 {
				return false
			}

			// multi-user runtime identity is stable
			sharedAfter, ok := h.controller.MultiUserRuntime(sharedRoute)
			return ok && sharedAfter == sharedBefore
		},
		gen.SliceOfN(12, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// Input events reach exactly the runtime serving their (user, url), in
// submission order; events for unserved URLs are dropped.
func TestInputEventRoutingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("events route by url", prop.ForAll(
		func(targets []int) bool {
			var mutex sync.Mutex
			received := map[string][]interface{}{}

			collector := views.HandlerFunc(func(req *views.Request) (renderer.RawResponse, error) {
				req.Runtime.Daemonize()
				for {
					event, err := req.Runtime.NextInputEvent()
					if err != nil {
						return nil, err
					}
					mutex.Lock()
					received[req.URL] = append(received[req.URL], event)
					mutex.Unlock()
				}
			})

			h := newHarness(t, []*routing.Route{
				routing.NewRoute("/a", "prop/a"),
				routing.NewRoute("/b", "prop/b"),
			}, harnessOptions{
				register: func(r *registry.Registry) {
					require.NoError(t, r.RegisterHandler("prop/a", collector))
					require.NoError(t, r.RegisterHandler("prop/b", collector))
				},
			})

			conn := newFakeConnection("c1", "alice")
			h.controller.HandleViewMessage(conn, 1, "/a", nil)
			h.controller.HandleViewMessage(conn, 2, "/b", nil)

			urls := []string{"/a", "/b", "/unserved"}
			expected := map[string][]interface{}{}
			for i, pick := range targets {
				url := urls[pick%len(urls)]
				event := fmt.Sprintf("event-%d", i)
				h.controller.HandleInputEventMessage(conn, 1, url, event)
				if url != "/unserved" {
					expected[url] = append(expected[url], event)
				}
			}

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				mutex.Lock()
				done := len(received["/a"]) == len(expected["/a"]) &&
					len(received["/b"]) == len(expected["/b"])
				mutex.Unlock()
				if done {
					break
				}
				time.Sleep(time.Millisecond)
			}

			mutex.Lock()
			defer mutex.Unlock()
			for _, url := range []string{"/a", "/b"} {
				if len(received[url]) != len(expected[url]) {
					return false
				}
				for i := range expected[url] {
					if received[url][i] != expected[url][i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(10, gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
