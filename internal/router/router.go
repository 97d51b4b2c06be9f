// Package router decides which screen stack the app should show.
//
// The decision is a pure function of a Snapshot. Router applies it through
// the navigation queue, and only when the screen actually has to change, so
// repeated syncs never stack duplicate resets on top of the reconciler's own
// commands.
package router

import (
	"log/slog"
	"sync"

	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/profile"
)

// Snapshot is everything the landing decision depends on.
type Snapshot struct {
	// Settled is false until the reconciler has finished startup.
	Settled  bool
	Recovery bool
	Session  *model.Session
	// ProfileLoaded is true once a fetch for the session's user has finished,
	// whether or not a profile row exists.
	ProfileLoaded  bool
	Profile        *model.Profile
	PaywallEnabled bool
}

// Decide returns the root route for s. Recovery mode wins over everything
// except an unsettled startup.
func Decide(s Snapshot) model.Route {
	switch {
	case !s.Settled:
		return model.RouteLoading
	case s.Recovery:
		return model.RouteResetPassword
	case s.Session == nil:
		return model.RouteSignIn
	case !s.ProfileLoaded:
		return model.RouteLoading
	case !profile.IsComplete(s.Profile):
		return model.RouteCreateProfile
	case s.PaywallEnabled && !profile.IsSubscribed(s.Profile):
		return model.RoutePaywall
	}
	return model.RouteMain
}

// Satisfies reports whether the stack rooted at current already shows what
// decided asks for. The signed-out screens can be moved between freely, so
// a user on sign-up is not pulled back to sign-in.
func Satisfies(decided, current model.Route) bool {
	if decided == current {
		return true
	}
	if decided == model.RouteSignIn {
		switch current {
		case model.RouteSignUp, model.RouteForgotPassword:
			return true
		}
	}
	return false
}

// Stack is the part of the screen stack Router reads.
type Stack interface {
	Root() model.Route
}

// Router syncs the navigation queue with the landing decision.
type Router struct {
	queue  *navigation.Queue
	stack  Stack
	logger *slog.Logger

	mu   sync.Mutex
	last model.Route
}

// New creates a Router.
func New(queue *navigation.Queue, stack Stack, logger *slog.Logger) *Router {
	return &Router{queue: queue, stack: stack, logger: logger}
}

// Sync decides the route for s and enqueues a reset if the stack, including
// commands still waiting in the queue, does not already show it.
// It returns the decided route.
func (r *Router) Sync(s Snapshot) model.Route {
	r.mu.Lock()
	defer r.mu.Unlock()

	route := Decide(s)
	if route == model.RouteLoading {
		return route
	}

	current := r.queue.ProjectedRoot(r.stack.Root())
	if Satisfies(route, current) {
		r.last = route
		return route
	}

	r.logger.Info("routing",
		slog.String("from", string(current)),
		slog.String("to", string(route)),
	)
	r.queue.EnqueueOrRun(navigation.Reset(route))
	r.last = route
	return route
}

// Last returns the most recent decided route other than loading.
func (r *Router) Last() model.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
