// Package reconciler turns entry URLs, deep links and auth lifecycle events
// into session changes, recovery-mode decisions and navigation commands.
//
// Two inputs race: URL handling (entry URL, later deep links) and the ordered
// lifecycle event stream of the session store. Nothing orders one relative to
// the other, so no decision here depends on which arrives first. In
// particular, a PASSWORD_RECOVERY event is checked against the last URL seen,
// not trusted from the stream alone.
package reconciler

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/sakif/crewcall/internal/authurl"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/recovery"
)

// Messages shown to the user through the Notifier.
const (
	msgExchangeFailed   = "This sign-in link is invalid or has expired. Please request a new one."
	msgSetSessionFailed = "We could not sign you in from this link. Please sign in again."
	msgSessionFailed    = "We could not reach the server. Please check your connection."
)

// State is where the reconciler is in its startup.
type State int32

const (
	Cold State = iota
	AwaitingURL
	ProcessingCallback
	Settled
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case AwaitingURL:
		return "awaiting_url"
	case ProcessingCallback:
		return "processing_callback"
	case Settled:
		return "settled"
	}
	return "unknown"
}

// SessionStore is the auth session store the reconciler drives.
type SessionStore interface {
	Session(ctx context.Context) (*model.Session, error)
	ExchangeCodeForSession(ctx context.Context, rawURL string) (*model.Session, error)
	SetSession(ctx context.Context, tokens model.Tokens) (*model.Session, error)
	Subscribe() (<-chan model.AuthEvent, func())
}

// URLDetector is the platform library's own URL detection on web runtimes: it
// consumes legacy fragment tokens itself.
type URLDetector interface {
	DetectSessionInURL(ctx context.Context, rawURL string) (bool, error)
}

// Notifier shows a non-blocking message to the user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// Enqueuer accepts navigation commands.
type Enqueuer interface {
	EnqueueOrRun(cmd navigation.Command)
}

// Change tells the owner that the session may have changed. Reload is true
// when user-scoped data (the profile) must be fetched again.
type Change struct {
	Session *model.Session
	Reload  bool
}

// Config wires a Reconciler.
type Config struct {
	Kind       platform.Kind
	Policy     RecoveryPolicy
	Source     platform.URLSource
	Store      SessionStore
	Detector   URLDetector
	Flag       *recovery.Flag
	Nav        Enqueuer
	AddressBar platform.AddressBar
	Notifier   Notifier
	// OnChange is called after the session may have changed. It may be called
	// from the event goroutine and the URL goroutine concurrently.
	OnChange func(ctx context.Context, c Change)
	Logger   *slog.Logger
}

// Reconciler is the auth/deep-link state machine. Use it once: Start, then Close.
type Reconciler struct {
	cfg Config

	state   atomic.Int32
	mounted atomic.Bool
	settled chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	lastURL       string
	userID        string
	recoveryShown bool
	unsubURL      func()
	unsubEvents   func()
	eventsDone    chan struct{}
}

// New creates a Reconciler in the Cold state.
func New(cfg Config) *Reconciler {
	if cfg.Policy == "" {
		cfg.Policy = CorroborateOnWeb
	}
	if cfg.AddressBar == nil {
		cfg.AddressBar = platform.NoAddressBar{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(string) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:     cfg,
		settled: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current startup state.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Settled is closed once startup has finished.
func (r *Reconciler) Settled() <-chan struct{} {
	return r.settled
}

func (r *Reconciler) setState(s State) {
	old := State(r.state.Swap(int32(s)))
	if old != s {
		r.cfg.Logger.Debug("reconciler state", slog.String("from", old.String()), slog.String("to", s.String()))
	}
}

// Start runs startup: it reads the entry URL, initializes the recovery flag,
// handles any auth callback in the URL and restores the session. It returns
// once settled. Failures are reported through the Notifier; Start only
// returns an error when ctx is canceled.
//
// Lifecycle events are consumed on a separate goroutine from the moment Start
// begins until Close.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mounted.Store(true)

	// Subscribe first: events emitted by anything below must not be missed.
	events, unsubEvents := r.cfg.Store.Subscribe()
	unsubURL := r.cfg.Source.Subscribe(func(raw string) {
		r.HandleURL(r.ctx, raw)
	})
	r.mu.Lock()
	r.unsubEvents = unsubEvents
	r.unsubURL = unsubURL
	r.mu.Unlock()

	r.setState(AwaitingURL)
	raw, ok, err := r.cfg.Source.EntryURL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.cfg.Logger.Warn("reading entry url failed", slog.String("error", err.Error()))
		ok = false
	}
	if !ok {
		raw = ""
	}

	// A recovery link in the entry URL is the one case where the app starts
	// in recovery mode.
	if err := r.cfg.Flag.Init(ok && authurl.ProvesRecovery(raw)); err != nil {
		r.cfg.Logger.Warn("recovery flag", slog.String("error", err.Error()))
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.eventsDone = done
	// Events caused by URL detection below are checked against this URL.
	r.lastURL = raw
	r.mu.Unlock()
	go r.consume(events, done)

	if ok {
		if r.cfg.Kind.IsWeb() && r.cfg.Detector != nil {
			if _, err := r.cfg.Detector.DetectSessionInURL(ctx, raw); err != nil {
				r.cfg.Logger.Warn("session detection in url failed", slog.String("error", err.Error()))
				r.cfg.Notifier.Notify(msgSetSessionFailed)
			}
		}
		r.HandleURL(ctx, raw)
	} else {
		r.setState(ProcessingCallback)
	}

	sess, err := r.cfg.Store.Session(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		r.cfg.Logger.Warn("restoring session failed", slog.String("error", err.Error()))
		r.cfg.Notifier.Notify(msgSessionFailed)
	default:
		r.observe(ctx, sess, false)
	}

	r.setState(Settled)
	close(r.settled)
	r.cfg.Logger.Info("auth reconciled",
		slog.Bool("signedIn", sess != nil),
		slog.Bool("recovery", r.cfg.Flag.Get()),
	)
	return nil
}

// HandleURL processes an entry URL or a later deep link.
func (r *Reconciler) HandleURL(ctx context.Context, raw string) {
	if !r.mounted.Load() {
		return
	}

	r.mu.Lock()
	r.lastURL = raw
	r.mu.Unlock()
	if r.State() != Settled {
		r.setState(ProcessingCallback)
	}

	res := authurl.Parse(raw)
	if res.Err != nil {
		r.cfg.Logger.Warn("url parsed with fallback", slog.String("error", res.Err.Error()))
	}

	payload := res.Payload()
	switch payload.Kind {
	case authurl.KindNone:
		return

	case authurl.KindError:
		r.cfg.Logger.Warn("auth callback carried an error", slog.String("description", payload.Description))
		r.cfg.Notifier.Notify(payload.Description)
		if r.cfg.Kind.IsWeb() {
			r.replaceAddress(raw)
		}

	case authurl.KindPKCECode:
		sess, err := r.cfg.Store.ExchangeCodeForSession(ctx, raw)
		if !r.mounted.Load() {
			return
		}
		if err != nil {
			r.cfg.Logger.Warn("code exchange failed", slog.String("error", err.Error()))
			r.cfg.Notifier.Notify(msgExchangeFailed)
			return
		}
		if r.cfg.Kind.IsWeb() {
			r.replaceAddress(raw)
		}
		r.observe(ctx, sess, false)

	case authurl.KindLegacyTokens:
		// Web runtimes already consumed the tokens through URL detection;
		// applying them again would start a second session.
		if r.cfg.Kind.IsWeb() {
			r.replaceAddress(raw)
			return
		}
		sess, err := r.cfg.Store.SetSession(ctx, model.Tokens{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
		})
		if !r.mounted.Load() {
			return
		}
		if err != nil {
			r.cfg.Logger.Warn("restoring session from link failed", slog.String("error", err.Error()))
			r.cfg.Notifier.Notify(msgSetSessionFailed)
			return
		}
		r.observe(ctx, sess, false)
	}
}

// HandleEvent applies one lifecycle event.
func (r *Reconciler) HandleEvent(ctx context.Context, ev model.AuthEvent) {
	if !r.mounted.Load() {
		return
	}
	log := r.cfg.Logger.With(slog.String("event", string(ev.Type)))

	switch ev.Type {
	case model.EventPasswordRecovery:
		evidence := r.urlProvesRecovery()
		if !r.cfg.Policy.Trusts(r.cfg.Kind, evidence) {
			log.Info("ignoring uncorroborated password recovery event",
				slog.String("platform", string(r.cfg.Kind)),
			)
			r.observe(ctx, ev.Session, false)
			return
		}

		r.cfg.Flag.Set(true)
		r.mu.Lock()
		first := !r.recoveryShown
		r.recoveryShown = true
		r.mu.Unlock()
		if first {
			r.cfg.Nav.EnqueueOrRun(navigation.Reset(model.RouteResetPassword))
		}
		log.Info("entered password recovery", slog.Bool("evidence", evidence))
		r.observe(ctx, ev.Session, false)

	case model.EventUserUpdated:
		if r.cfg.Flag.CompareAndSet(true, false) {
			last := r.endRecovery()
			if r.cfg.Kind.IsWeb() && last != "" {
				r.cfg.AddressBar.Replace(cleanURL(last, model.RouteSignIn.Path()))
			}
			route := model.RouteSignIn
			if ev.Session != nil {
				route = model.RouteMain
			}
			r.cfg.Nav.EnqueueOrRun(navigation.Reset(route))
			log.Info("password reset completed", slog.String("route", string(route)))
		}
		r.observe(ctx, ev.Session, false)

	case model.EventSignedIn:
		if r.cfg.Flag.Get() && !r.urlProvesRecovery() {
			if r.cfg.Flag.CompareAndSet(true, false) {
				r.endRecovery()
				log.Info("cleared stale recovery mode on sign-in")
			}
		}
		r.observe(ctx, ev.Session, true)

	case model.EventSignedOut:
		r.cfg.Flag.Set(false)
		r.endRecovery()
		r.observe(ctx, nil, true)

	default:
		r.observe(ctx, ev.Session, false)
	}
}

// Close unsubscribes both subscriptions and drops every later result.
// It is safe to call more than once.
func (r *Reconciler) Close() {
	r.mounted.Store(false)
	r.cancel()

	r.mu.Lock()
	unsubURL, unsubEvents, done := r.unsubURL, r.unsubEvents, r.eventsDone
	r.unsubURL, r.unsubEvents = nil, nil
	r.mu.Unlock()

	if unsubURL != nil {
		unsubURL()
	}
	if unsubEvents != nil {
		unsubEvents()
	}
	if done != nil {
		<-done
	}
}

func (r *Reconciler) consume(events <-chan model.AuthEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		r.HandleEvent(r.ctx, ev)
	}
}

// observe records the session's user and tells the owner.
func (r *Reconciler) observe(ctx context.Context, s *model.Session, force bool) {
	id := ""
	if s != nil {
		id = s.UserID
	}

	r.mu.Lock()
	changed := id != r.userID
	r.userID = id
	r.mu.Unlock()

	if r.cfg.OnChange != nil && r.mounted.Load() {
		r.cfg.OnChange(ctx, Change{Session: s, Reload: force || changed})
	}
}

func (r *Reconciler) urlProvesRecovery() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastURL != "" && authurl.ProvesRecovery(r.lastURL)
}

// endRecovery forgets the recovery journey. The URL that started it no
// longer counts as evidence. It returns that URL.
func (r *Reconciler) endRecovery() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	last := r.lastURL
	r.recoveryShown = false
	if authurl.ProvesRecovery(last) {
		r.lastURL = ""
	}
	return last
}

// replaceAddress strips callback parameters from the visible address.
// lastURL keeps the raw value so recovery evidence survives the rewrite.
func (r *Reconciler) replaceAddress(raw string) {
	stripped := authurl.Strip(raw)
	if stripped != raw {
		r.cfg.AddressBar.Replace(stripped)
	}
}

// cleanURL keeps the origin of raw and replaces everything after it with path.
func cleanURL(raw, path string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return path
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: path}).String()
}

