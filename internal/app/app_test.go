package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/app"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/backend"
	"github.com/sakif/crewcall/internal/backend/backendtest"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/profile"
	"github.com/sakif/crewcall/internal/repository/sqlite"
	"github.com/sakif/crewcall/internal/retry"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu   sync.Mutex
	vals []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.vals = append(r.vals, s)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.vals...)
}

// env is one client instance against a fake platform, with a sqlite cache
// standing in for device storage.
type env struct {
	srv     *backendtest.Server
	db      *sqlite.DB
	client  *backend.Client
	address *recorder
	notices *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddUser("u1", "ada@example.com", "hunter22")

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &env{srv: srv, db: db, address: &recorder{}, notices: &recorder{}}
	e.client = e.newClient(t)
	return e
}

// newClient simulates a cold start: a fresh backend client over the same
// device storage.
func (e *env) newClient(t *testing.T) *backend.Client {
	t.Helper()
	tokens, err := auth.NewTokenInspector(backendtest.Secret)
	require.NoError(t, err)
	c := backend.New(backend.Config{
		URL:         e.srv.URL,
		AnonKey:     backendtest.AnonKey,
		RedirectURL: "https://host/auth/callback",
		HTTPClient:  e.srv.Client(),
	}, tokens, e.db, nil, testLogger)
	t.Cleanup(c.Close)
	return c
}

func (e *env) start(t *testing.T, kind platform.Kind, source platform.URLSource) (*app.App, model.Route) {
	t.Helper()
	actx := app.NewContext(e.db, testLogger)
	profiles := profile.NewService(e.client, e.db, nil, testLogger)
	a := app.New(app.Config{
		Kind:       kind,
		Source:     source,
		AddressBar: platform.AddressBarFunc(e.address.add),
		Notifier:   notifier(e.notices.add),
	}, actx, e.client, profiles, testLogger)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	route, err := a.Start(ctx)
	require.NoError(t, err)
	return a, route
}

type notifier func(string)

func (n notifier) Notify(msg string) { n(msg) }

func completeProfile(id string) model.Profile {
	role, city := int64(3), int64(9)
	return model.Profile{ID: id, FullName: "Ada Lovelace", MainRoleID: &role, CityID: &city}
}

func rootIs(a *app.App, route model.Route) func() bool {
	return func() bool { return a.Context().Stack.Root() == route }
}

func TestStart_RecoveryLinkWithoutSession(t *testing.T) {
	e := newEnv(t)

	a, route := e.start(t, platform.Web,
		platform.NewInjected("https://host/reset-password?type=recovery&token_hash=abc", nil))

	assert.Equal(t, model.RouteResetPassword, route)
	assert.True(t, a.Context().Flag.Get())
	assert.Equal(t, model.RouteResetPassword, a.Context().Stack.Root())
	assert.Nil(t, a.Session())
}

func TestStart_ExistingSessionCompleteProfile(t *testing.T) {
	e := newEnv(t)
	e.srv.SetProfile(completeProfile("u1"))
	_, err := e.client.SignInWithPassword(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)

	// The user left the app two screens deep.
	saved, err := json.Marshal([]navigation.Entry{{Route: model.RouteMain}, {Route: model.RouteChat, Params: map[string]string{"id": "42"}}})
	require.NoError(t, err)
	require.NoError(t, e.db.SaveNavState(context.Background(), "u1", saved))

	e.client = e.newClient(t)
	a, route := e.start(t, platform.Web, platform.NewInjected("https://host/signin", nil))

	assert.Equal(t, model.RouteMain, route)
	assert.False(t, a.Context().Flag.Get())
	assert.Equal(t, []model.Route{model.RouteMain, model.RouteChat}, a.Context().Stack.Routes())
	require.NotNil(t, a.Session())
	assert.Equal(t, "u1", a.Session().UserID)

	cached, ok := a.Profiles().Cached(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", cached.FullName)
}

func TestStart_CodeCallbackIncompleteProfile(t *testing.T) {
	e := newEnv(t)
	_, err := e.client.AuthorizeURL(context.Background(), "github", "https://host/auth/callback")
	require.NoError(t, err)
	e.srv.AddCode("xyz", "u1")

	a, route := e.start(t, platform.Web, platform.NewInjected("https://host/auth/callback?code=xyz", nil))

	assert.Equal(t, model.RouteCreateProfile, route)
	assert.Empty(t, e.notices.all())
	require.Len(t, e.address.all(), 1)
	assert.NotContains(t, e.address.all()[0], "code")
	assert.Equal(t, "https://host/auth/callback", e.address.all()[0])
	assert.Eventually(t, rootIs(a, model.RouteCreateProfile), time.Second, 10*time.Millisecond)
}

func TestStart_ExpiredCodeLandsOnSignIn(t *testing.T) {
	e := newEnv(t)
	_, err := e.client.AuthorizeURL(context.Background(), "github", "https://host/auth/callback")
	require.NoError(t, err)

	a, route := e.start(t, platform.Web, platform.NewInjected("https://host/auth/callback?code=expired", nil))

	assert.Equal(t, model.RouteSignIn, route)
	assert.Len(t, e.notices.all(), 1)
	assert.Empty(t, e.address.all(), "a failed callback stays visible")
	assert.Equal(t, model.RouteSignIn, a.Context().Stack.Root())
	assert.Nil(t, a.Session())
}

func TestStart_NoURLNoSession(t *testing.T) {
	e := newEnv(t)
	native := platform.NewNative(func() (string, bool) { return "", false },
		retry.Policy{Attempts: 1, Interval: time.Millisecond}, testLogger)

	a, route := e.start(t, platform.Native, native)

	assert.Equal(t, model.RouteSignIn, route)
	assert.False(t, a.Context().Flag.Get())
}

func TestNativeRecoveryJourney(t *testing.T) {
	e := newEnv(t)
	e.srv.SetProfile(completeProfile("u1"))
	require.NoError(t, e.client.ResetPasswordForEmail(context.Background(), "ada@example.com", "crewcall://reset-password"))
	e.srv.AddCode("rc", "u1")

	native := platform.NewNative(func() (string, bool) { return "crewcall://reset-password?code=rc", true },
		retry.Policy{Attempts: 1, Interval: time.Millisecond}, testLogger)
	a, route := e.start(t, platform.Native, native)

	assert.Equal(t, model.RouteResetPassword, route)
	assert.True(t, a.Context().Flag.Get())

	_, err := e.client.UpdateUser(context.Background(), backend.UserAttributes{Password: "brand-new-pass"})
	require.NoError(t, err)

	assert.Eventually(t, rootIs(a, model.RouteMain), 2*time.Second, 10*time.Millisecond)
	assert.False(t, a.Context().Flag.Get())
	assert.Equal(t, "brand-new-pass", e.srv.Password("u1"))
}

func TestSignInAfterStart(t *testing.T) {
	e := newEnv(t)
	e.srv.SetProfile(completeProfile("u1"))
	a, route := e.start(t, platform.Web, platform.NewInjected("https://host/", nil))
	require.Equal(t, model.RouteSignIn, route)

	_, err := e.client.SignInWithPassword(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)
	assert.Eventually(t, rootIs(a, model.RouteMain), 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.client.SignOut(context.Background()))
	assert.Eventually(t, rootIs(a, model.RouteSignIn), 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, a.Profiles().Current())
}

func TestDeepLinkWhileRunning(t *testing.T) {
	e := newEnv(t)
	native := platform.NewNative(func() (string, bool) { return "", false },
		retry.Policy{Attempts: 1, Interval: time.Millisecond}, testLogger)
	a, _ := e.start(t, platform.Native, native)

	_, err := e.client.AuthorizeURL(context.Background(), "github", "crewcall://auth/callback")
	require.NoError(t, err)
	e.srv.AddCode("later", "u1")

	native.Deliver("crewcall://auth/callback?code=later")

	assert.Eventually(t, rootIs(a, model.RouteCreateProfile), 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, a.Session())
}
