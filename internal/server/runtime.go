package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/crewcall/internal/authurl"
	"github.com/sakif/crewcall/internal/config"
	"github.com/sakif/crewcall/internal/core"
	"github.com/sakif/crewcall/internal/handler"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/repository"
	"github.com/sakif/crewcall/internal/service"
)

// callbackPath is where providers and confirmation mails return web users.
const callbackPath = "/auth/callback"

// cacheStore is the device storage shared by every page: session values are
// scoped per browser, screens and profiles per user.
type cacheStore interface {
	repository.KeyValueStore
	repository.NavStateRepository
	repository.ProfileCache
}

// runtimeFactory opens one client core per rendered page.
type runtimeFactory struct {
	cfg        *config.Config
	db         cacheStore
	objects    service.ObjectStore
	httpClient *http.Client
	logger     *slog.Logger
}

func (f *runtimeFactory) Open(page handler.Page, send func(handler.Message)) (handler.Runtime, error) {
	origin, kind, err := pageOrigin(page.EntryURL)
	if err != nil {
		return nil, err
	}
	logger := f.logger.With(slog.String("page", page.ID))

	location := &platform.ReportedLocation{}
	// The host never sees the fragment. Only a callback in the query is
	// injected; anything else waits for the page's first location report,
	// which carries the fragment, and falls back to the URL the host served
	// when no report arrives.
	captured := ""
	if authurl.Parse(page.EntryURL).Payload().Kind != authurl.KindNone {
		captured = page.EntryURL
	}
	web := platform.NewDefaulted(platform.NewWeb(location, f.cfg.URLPolicy(), logger), page.EntryURL)

	c, err := core.New(core.Options{
		Config:     f.cfg,
		Kind:       kind,
		Source:     platform.NewInjected(captured, web),
		AddressBar: platform.AddressBarFunc(func(raw string) { send(handler.Message{Type: handler.MsgReplaceURL, URL: raw}) }),
		Notifier:   noticeFunc(func(msg string) { send(handler.Message{Type: handler.MsgNotice, Message: msg}) }),
		Sessions:   &deviceStore{kv: f.db, prefix: page.DeviceID + ":"},
		Screens:    f.db,
		Profiles:   f.db,
		Objects:    f.objects,
		Redirects: service.Redirects{
			Callback: origin + callbackPath,
			Recovery: origin + model.RouteResetPassword.Path(),
		},
		HTTPClient: f.httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("server: opening page %s: %w", page.ID, err)
	}

	rt := &pageRuntime{core: c, location: location, send: send, logger: logger}
	c.App.Context().Stack.OnChange(rt.sendStack)
	return rt, nil
}

// pageOrigin returns scheme://host of the page and the runtime it is served in.
func pageOrigin(entry string) (string, platform.Kind, error) {
	u, err := url.Parse(entry)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("server: page url %q is not absolute", entry)
	}
	kind := platform.Web
	if host := u.Hostname(); host == "localhost" || host == "127.0.0.1" {
		kind = platform.Localhost
	}
	return u.Scheme + "://" + u.Host, kind, nil
}

type noticeFunc func(string)

func (f noticeFunc) Notify(msg string) { f(msg) }

// pageRuntime adapts a client core to the bridge.
type pageRuntime struct {
	core     *core.Core
	location *platform.ReportedLocation
	send     func(handler.Message)
	logger   *slog.Logger
}

func (p *pageRuntime) Start(ctx context.Context) {
	route, err := p.core.Start(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("page startup failed", slog.String("error", err.Error()))
			p.send(handler.Message{Type: handler.MsgNotice, Message: "Something went wrong. Please reload the page."})
		}
		return
	}
	p.logger.Debug("page settled", slog.String("route", string(route)))
	p.sendStack(p.core.App.Context().Stack.Entries())
}

func (p *pageRuntime) ReportLocation(raw string) {
	p.location.Report(raw)
}

func (p *pageRuntime) Do(ctx context.Context, action string, fields json.RawMessage) (any, error) {
	out, err := p.core.Do(ctx, action, fields)
	if err != nil {
		return nil, err
	}
	if u, ok := out.(core.URLResult); ok {
		p.send(handler.Message{Type: handler.MsgOpenURL, URL: u.URL})
	}
	return out, nil
}

func (p *pageRuntime) Navigate(route string, params map[string]string) {
	p.core.Navigate(route, params)
}

func (p *pageRuntime) Back() {
	p.core.Back()
}

func (p *pageRuntime) Upload(ctx context.Context, name string, body io.Reader, contentType string) (any, error) {
	return p.core.Upload(ctx, name, body, contentType)
}

func (p *pageRuntime) Close() {
	p.core.Close()
}

func (p *pageRuntime) sendStack(entries []navigation.Entry) {
	if len(entries) == 0 {
		return
	}
	top := entries[len(entries)-1]
	routes := make([]string, len(entries))
	for i, e := range entries {
		routes[i] = string(e.Route)
	}
	p.send(handler.Message{Type: handler.MsgRoute, Route: string(top.Route), Routes: routes, Params: top.Params})
}

// deviceStore scopes the shared key/value cache to one browser.
type deviceStore struct {
	kv     repository.KeyValueStore
	prefix string
}

func (d *deviceStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	return d.kv.GetValue(ctx, d.prefix+key)
}

func (d *deviceStore) PutValue(ctx context.Context, key string, value []byte) error {
	return d.kv.PutValue(ctx, d.prefix+key, value)
}

func (d *deviceStore) DeleteValue(ctx context.Context, key string) error {
	return d.kv.DeleteValue(ctx, d.prefix+key)
}
