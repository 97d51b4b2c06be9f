// Package app composes the client core: one Context per client instance,
// shared by the reconciler, the router and whatever hosts the screens.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/profile"
	"github.com/sakif/crewcall/internal/reconciler"
	"github.com/sakif/crewcall/internal/recovery"
	"github.com/sakif/crewcall/internal/repository"
	"github.com/sakif/crewcall/internal/router"
)

// Context is the application-scoped state that must outlive any one screen:
// the recovery flag, the navigation queue and the screen stack. Construct it
// once and pass it by reference.
type Context struct {
	Flag  *recovery.Flag
	Queue *navigation.Queue
	Stack *navigation.Stack
}

// NewContext creates a Context. navRepo may be nil to disable persisting the
// screen stack.
func NewContext(navRepo repository.NavStateRepository, logger *slog.Logger) *Context {
	return &Context{
		Flag:  &recovery.Flag{},
		Queue: navigation.NewQueue(logger),
		Stack: navigation.NewStack(navRepo, logger),
	}
}

// Config holds the runtime-specific pieces of an App.
type Config struct {
	Kind           platform.Kind
	Policy         reconciler.RecoveryPolicy
	Source         platform.URLSource
	AddressBar     platform.AddressBar
	Notifier       reconciler.Notifier
	PaywallEnabled bool
}

// App drives one client instance from cold start to a landing screen and
// keeps the screen in step with the session and profile afterwards.
type App struct {
	actx     *Context
	profiles *profile.Service
	rec      *reconciler.Reconciler
	router   *router.Router
	paywall  bool
	logger   *slog.Logger

	mu        sync.Mutex
	settled   bool
	closed    bool
	session   *model.Session
	loadedFor string
}

// New wires an App. If store also implements reconciler.URLDetector it is
// used for URL detection on web runtimes.
func New(cfg Config, actx *Context, store reconciler.SessionStore, profiles *profile.Service, logger *slog.Logger) *App {
	a := &App{
		actx:     actx,
		profiles: profiles,
		router:   router.New(actx.Queue, actx.Stack, logger),
		paywall:  cfg.PaywallEnabled,
		logger:   logger,
	}

	detector, _ := store.(reconciler.URLDetector)
	a.rec = reconciler.New(reconciler.Config{
		Kind:       cfg.Kind,
		Policy:     cfg.Policy,
		Source:     cfg.Source,
		Store:      store,
		Detector:   detector,
		Flag:       actx.Flag,
		Nav:        actx.Queue,
		AddressBar: cfg.AddressBar,
		Notifier:   cfg.Notifier,
		OnChange:   a.onChange,
		Logger:     logger,
	})
	return a
}

// Start reconciles the entry URL and session, mounts the screen stack and
// returns the landing route. It always returns a concrete route; the error is
// only ever a canceled ctx.
func (a *App) Start(ctx context.Context) (model.Route, error) {
	a.profiles.OnChange(func(*model.Profile) { a.sync() })

	if err := a.rec.Start(ctx); err != nil {
		return model.RouteSignIn, err
	}

	userID := ""
	if s := a.Session(); s != nil {
		userID = s.UserID
	}

	// Restore the user's last screens before the router may look at them,
	// then let buffered commands run on top.
	a.actx.Stack.Mount(ctx, userID)
	a.mu.Lock()
	a.settled = true
	a.mu.Unlock()
	a.actx.Queue.OnContainerReady(a.actx.Stack)

	route := a.sync()
	if route == model.RouteLoading {
		route = model.RouteSignIn
		a.actx.Queue.EnqueueOrRun(navigation.Reset(route))
	}
	a.logger.Info("app started",
		slog.String("route", string(route)),
		slog.Bool("signedIn", userID != ""),
	)
	return route, nil
}

// Snapshot returns the current routing inputs.
func (a *App) Snapshot() router.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Session returns the session last reported by the reconciler.
func (a *App) Session() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Context returns the application-scoped context.
func (a *App) Context() *Context {
	return a.actx
}

// Profiles returns the profile service.
func (a *App) Profiles() *profile.Service {
	return a.profiles
}

// HandleURL feeds a URL opened while the app is running.
func (a *App) HandleURL(ctx context.Context, raw string) {
	a.rec.HandleURL(ctx, raw)
}

// Close stops the reconciler and the profile watch.
func (a *App) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.rec.Close()
	a.profiles.Clear()
}

func (a *App) onChange(ctx context.Context, c reconciler.Change) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	prev := ""
	if a.session != nil {
		prev = a.session.UserID
	}
	a.session = c.Session
	userID := ""
	if c.Session != nil {
		userID = c.Session.UserID
	}
	needLoad := userID != "" && (c.Reload || userID != prev || a.loadedFor != userID)
	if userID == "" {
		a.loadedFor = ""
	}
	a.mu.Unlock()

	if userID != prev {
		a.actx.Stack.SetUser(userID)
	}

	switch {
	case userID == "":
		if prev != "" || c.Reload {
			a.profiles.Clear()
		}
	case needLoad:
		a.loadProfile(ctx, userID)
	}
	a.sync()
}

func (a *App) loadProfile(ctx context.Context, userID string) {
	// The gate treats a failed fetch like a missing profile; the error is
	// already logged by the service.
	_, _ = a.profiles.Load(ctx, userID)

	a.mu.Lock()
	current := a.session != nil && a.session.UserID == userID
	if current {
		a.loadedFor = userID
	}
	a.mu.Unlock()
	if !current {
		return
	}

	if err := a.profiles.Watch(ctx, userID); err != nil {
		a.logger.Warn("watching profile failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (a *App) sync() model.Route {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return model.RouteLoading
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	return a.router.Sync(snap)
}

func (a *App) snapshotLocked() router.Snapshot {
	snap := router.Snapshot{
		Settled:        a.settled,
		Recovery:       a.actx.Flag.Get(),
		Session:        a.session,
		PaywallEnabled: a.paywall,
	}
	if a.session != nil && a.loadedFor == a.session.UserID {
		snap.ProfileLoaded = true
		snap.Profile = a.profiles.Current()
	}
	return snap
}
