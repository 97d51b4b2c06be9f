package navigation

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingNavigator remembers every command it was asked to run.
type recordingNavigator struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingNavigator) Reset(route model.Route, _ map[string]string) {
	r.record("reset:" + string(route))
}

func (r *recordingNavigator) Navigate(route model.Route, params map[string]string) {
	r.record("navigate:" + string(route) + params["id"])
}

func (r *recordingNavigator) record(s string) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *recordingNavigator) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestQueue_BufferedThenImmediate(t *testing.T) {
	q := NewQueue(testLogger)
	nav := &recordingNavigator{}

	q.EnqueueOrRun(Reset(model.RouteSignIn))
	q.EnqueueOrRun(Navigate(model.RouteChat, map[string]string{"id": "1"}))
	q.EnqueueOrRun(Reset(model.RouteResetPassword))
	assert.Empty(t, nav.all(), "nothing runs before the container is ready")
	assert.Equal(t, 3, q.Pending())

	q.OnContainerReady(nav)

	q.EnqueueOrRun(Reset(model.RouteMain))
	q.EnqueueOrRun(Navigate(model.RouteUser, map[string]string{"id": "7"}))
	q.EnqueueOrRun(Reset(model.RouteCreateProfile))

	assert.Equal(t, []string{
		"reset:signin",
		"navigate:chats1",
		"reset:reset-password",
		"reset:main",
		"navigate:u7",
		"reset:create-profile",
	}, nav.all())
	assert.Zero(t, q.Pending())
}

func TestQueue_TryRun(t *testing.T) {
	q := NewQueue(testLogger)
	nav := &recordingNavigator{}

	err := q.TryRun(Reset(model.RouteSignIn))
	require.ErrorIs(t, err, apperror.ErrNavigationNotReady)

	q.OnContainerReady(nav)
	require.NoError(t, q.TryRun(Reset(model.RouteMain)))

	assert.Equal(t, []string{"reset:signin", "reset:main"}, nav.all(), "a not-ready command is still run once")
}

func TestQueue_ConcurrentSourcesExactlyOnce(t *testing.T) {
	q := NewQueue(testLogger)
	nav := &recordingNavigator{}

	const perSource = 200
	var wg sync.WaitGroup
	for _, source := range []string{"url", "event"} {
		wg.Add(1)
		go func(source string) {
			defer wg.Done()
			for i := 0; i < perSource; i++ {
				q.EnqueueOrRun(Navigate(model.Route(source), map[string]string{"id": fmt.Sprint(i)}))
			}
		}(source)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.OnContainerReady(nav)
	}()
	wg.Wait()

	seen := nav.all()
	require.Len(t, seen, 2*perSource)

	// Each source's commands appear once each, in that source's order.
	next := map[string]int{"url": 0, "event": 0}
	for _, s := range seen {
		for source := range next {
			want := fmt.Sprintf("navigate:%s%d", source, next[source])
			if s == want {
				next[source]++
			}
		}
	}
	assert.Equal(t, perSource, next["url"])
	assert.Equal(t, perSource, next["event"])
}

func TestQueue_ReentrantEnqueue(t *testing.T) {
	q := NewQueue(testLogger)
	nav := &recordingNavigator{}

	// A command that triggers another command while running.
	hook := &hookNavigator{inner: nav, onReset: func() {
		q.EnqueueOrRun(Navigate(model.RouteChat, map[string]string{"id": "9"}))
	}}
	q.OnContainerReady(hook)
	q.EnqueueOrRun(Reset(model.RouteMain))

	assert.Equal(t, []string{"reset:main", "navigate:chats9"}, nav.all())
}

type hookNavigator struct {
	inner   Navigator
	onReset func()
	fired   bool
}

func (h *hookNavigator) Reset(route model.Route, params map[string]string) {
	h.inner.Reset(route, params)
	if !h.fired {
		h.fired = true
		h.onReset()
	}
}

func (h *hookNavigator) Navigate(route model.Route, params map[string]string) {
	h.inner.Navigate(route, params)
}

func TestQueue_ProjectedRoot(t *testing.T) {
	q := NewQueue(testLogger)
	assert.Equal(t, model.RouteLoading, q.ProjectedRoot(model.RouteLoading))

	q.EnqueueOrRun(Reset(model.RouteResetPassword))
	q.EnqueueOrRun(Navigate(model.RouteChat, nil))
	assert.Equal(t, model.RouteResetPassword, q.ProjectedRoot(model.RouteLoading))

	q.OnContainerReady(&recordingNavigator{})
	assert.Equal(t, model.RouteMain, q.ProjectedRoot(model.RouteMain), "nothing pending once drained")
}
