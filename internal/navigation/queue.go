// Package navigation buffers navigation commands until the navigation container
// has mounted, then runs them in order.
//
// Commands come from two concurrent sources (URL handling and the auth
// lifecycle stream) and often arrive before the container is ready. The queue
// guarantees FIFO order across both sources and runs every command exactly once.
package navigation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
)

// CommandKind is what a command does to the container.
type CommandKind string

const (
	// KindReset replaces the whole stack with a single route.
	KindReset CommandKind = "reset"
	// KindNavigate pushes a route on top of the stack.
	KindNavigate CommandKind = "navigate"
)

// Command is one navigation intent.
type Command struct {
	Kind   CommandKind
	Route  model.Route
	Params map[string]string
}

// Reset returns a command that makes route the only screen.
func Reset(route model.Route) Command {
	return Command{Kind: KindReset, Route: route}
}

// Navigate returns a command that pushes route.
func Navigate(route model.Route, params map[string]string) Command {
	return Command{Kind: KindNavigate, Route: route, Params: params}
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, c.Route)
}

// Navigator is the mounted navigation container.
type Navigator interface {
	Reset(route model.Route, params map[string]string)
	Navigate(route model.Route, params map[string]string)
}

// Queue runs commands against a Navigator once it is ready.
type Queue struct {
	mu       sync.Mutex
	nav      Navigator
	pending  []Command
	draining bool
	logger   *slog.Logger
}

// NewQueue creates a Queue that is not ready yet.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{logger: logger}
}

// EnqueueOrRun runs cmd now if the container is ready, otherwise buffers it.
//
// Only one goroutine drains at a time. A command enqueued while another
// goroutine is draining is appended and run by that drainer, so order is
// never broken by concurrent callers.
func (q *Queue) EnqueueOrRun(cmd Command) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	if q.nav == nil || q.draining {
		buffered := q.nav == nil
		n := len(q.pending)
		q.mu.Unlock()
		if buffered {
			q.logger.Debug("navigation command buffered",
				slog.String("command", cmd.String()),
				slog.Int("pending", n),
			)
		}
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.drain()
}

// TryRun is EnqueueOrRun for callers that want to know the container was not
// ready. The command is buffered either way.
func (q *Queue) TryRun(cmd Command) error {
	ready := q.Ready()
	q.EnqueueOrRun(cmd)
	if !ready {
		return apperror.NavigationNotReady(cmd.String())
	}
	return nil
}

// OnContainerReady marks the container mounted and drains the buffer in the
// original enqueue order. Calling it again swaps the navigator.
func (q *Queue) OnContainerReady(nav Navigator) {
	q.mu.Lock()
	q.nav = nav
	n := len(q.pending)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.logger.Debug("navigation container ready", slog.Int("flushing", n))
	q.drain()
}

// Ready reports whether the container has mounted.
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nav != nil
}

// Pending returns the number of buffered commands.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ProjectedRoot returns the root screen once every buffered command has run:
// the route of the last pending Reset, or current when none is pending.
func (q *Queue) ProjectedRoot(current model.Route) model.Route {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := len(q.pending) - 1; i >= 0; i-- {
		if q.pending[i].Kind == KindReset {
			return q.pending[i].Route
		}
	}
	return current
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		cmd := q.pending[0]
		q.pending[0] = Command{}
		q.pending = q.pending[1:]
		nav := q.nav
		q.mu.Unlock()

		apply(nav, cmd)
	}
}

func apply(nav Navigator, cmd Command) {
	switch cmd.Kind {
	case KindReset:
		nav.Reset(cmd.Route, cmd.Params)
	case KindNavigate:
		nav.Navigate(cmd.Route, cmd.Params)
	}
}
