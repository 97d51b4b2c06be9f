// Package core assembles one client instance: the backend client, realtime
// changes, the profile service, the app and the account service.
//
// THE COMPOSITION ROOT:
// Both runtimes (the native binary and the web host, once per page) build
// their client the same way, so the wiring lives here rather than in each
// main. Each layer only receives what it needs:
//
//	backend.Client → profile.Service → app.App
//	               ↘ service.AccountService
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/crewcall/internal/app"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/backend"
	"github.com/sakif/crewcall/internal/config"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/profile"
	"github.com/sakif/crewcall/internal/realtime"
	"github.com/sakif/crewcall/internal/reconciler"
	"github.com/sakif/crewcall/internal/repository"
	"github.com/sakif/crewcall/internal/service"
)

// Options are the runtime-specific parts of a client.
type Options struct {
	Config     *config.Config
	Kind       platform.Kind
	Source     platform.URLSource
	AddressBar platform.AddressBar
	Notifier   reconciler.Notifier

	// Sessions holds the cached session and PKCE verifier.
	Sessions repository.KeyValueStore
	// Screens and Profiles may be nil to disable those caches.
	Screens  repository.NavStateRepository
	Profiles repository.ProfileCache
	// Objects may be nil when object storage is not configured.
	Objects service.ObjectStore

	Redirects  service.Redirects
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Core is one running client.
type Core struct {
	Client   *backend.Client
	App      *app.App
	Account  *service.AccountService
	Profiles *profile.Service

	logger *slog.Logger
}

// New wires a client. Nothing touches the network until Start.
func New(opts Options) (*Core, error) {
	cfg := opts.Config
	logger := opts.Logger

	tokens, err := auth.NewTokenInspector(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	var sealer backend.Sealer
	if cfg.DeviceSecret != "" {
		s, err := auth.NewSealer([]byte(cfg.DeviceSecret))
		if err != nil {
			return nil, fmt.Errorf("core: %w", err)
		}
		sealer = s
	}

	client := backend.New(backend.Config{
		URL:         cfg.BackendURL,
		AnonKey:     cfg.AnonKey,
		RedirectURL: opts.Redirects.Callback,
		HTTPClient:  opts.HTTPClient,
	}, tokens, opts.Sessions, sealer, logger)

	changes, err := realtime.New(cfg.BackendURL, cfg.AnonKey, client.AccessToken, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("core: %w", err)
	}

	profiles := profile.NewService(client, opts.Profiles, changes, logger)
	actx := app.NewContext(opts.Screens, logger)
	a := app.New(app.Config{
		Kind:           opts.Kind,
		Policy:         cfg.Policy(),
		Source:         opts.Source,
		AddressBar:     opts.AddressBar,
		Notifier:       opts.Notifier,
		PaywallEnabled: cfg.PaywallEnabled,
	}, actx, client, profiles, logger)

	account := service.NewAccountService(client, profiles, opts.Objects, actx.Stack,
		opts.Redirects, cfg.PriceID, logger)

	return &Core{
		Client:   client,
		App:      a,
		Account:  account,
		Profiles: profiles,
		logger:   logger,
	}, nil
}

// Start runs startup and returns the landing route.
func (c *Core) Start(ctx context.Context) (model.Route, error) {
	return c.App.Start(ctx)
}

// Close releases the app's subscriptions and the client's event stream.
func (c *Core) Close() {
	c.App.Close()
	c.Client.Close()
}

// UserID returns the signed-in user's id, or "".
func (c *Core) UserID() string {
	if s := c.App.Session(); s != nil {
		return s.UserID
	}
	return ""
}
