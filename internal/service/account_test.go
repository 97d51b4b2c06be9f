package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/backend"
	"github.com/sakif/crewcall/internal/backend/backendtest"
	"github.com/sakif/crewcall/internal/profile"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeObjects keeps uploads in memory.
type fakeObjects struct {
	uploads map[string][]byte
	err     error
}

func (f *fakeObjects) Upload(_ context.Context, userID, name string, body io.Reader, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	key := userID + "/" + name
	f.uploads[key] = data
	return key, nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type forgetting struct{ forgot []string }

func (f *forgetting) Forget(_ context.Context, userID string) {
	f.forgot = append(f.forgot, userID)
}

type fixture struct {
	srv      *backendtest.Server
	client   *backend.Client
	profiles *profile.Service
	objects  *fakeObjects
	screens  *forgetting
	svc      *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := backendtest.New(t)
	srv.AddUser("u1", "ada@example.com", "hunter22")

	tokens, err := auth.NewTokenInspector(backendtest.Secret)
	require.NoError(t, err)
	client := backend.New(backend.Config{
		URL:        srv.URL,
		AnonKey:    backendtest.AnonKey,
		HTTPClient: srv.Client(),
	}, tokens, backend.NewMemoryStore(), nil, testLogger)
	t.Cleanup(client.Close)

	f := &fixture{
		srv:      srv,
		client:   client,
		profiles: profile.NewService(client, nil, nil, testLogger),
		objects:  &fakeObjects{uploads: make(map[string][]byte)},
		screens:  &forgetting{},
	}
	f.svc = NewAccountService(client, f.profiles, f.objects, f.screens,
		Redirects{Callback: "https://host/auth/callback", Recovery: "https://host/reset-password"},
		"price_pro", testLogger)
	return f
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	_, err := f.svc.SignIn(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)
}

func int64p(v int64) *int64 { return &v }

// =========================================================================
// TESTS
// =========================================================================

func TestSignIn_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		email    string
		password string
		field    string
	}{
		{"missing email", "", "hunter22", "email"},
		{"malformed email", "ada@", "hunter22", "email"},
		{"display name form", "Ada <ada@example.com>", "hunter22", "email"},
		{"missing password", "ada@example.com", "", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SignIn(context.Background(), tt.email, tt.password)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.SignIn(context.Background(), "  ADA@example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)

	_, err = f.svc.SignIn(context.Background(), "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, "grace@example.com", "abc", "abc")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.SignUp(ctx, "grace@example.com", "secret123", "secret124")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	sess, err := f.svc.SignUp(ctx, "grace@example.com", "secret123", "secret123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.UserID)
}

func TestForgotPassword(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), "ada@example.com"))
	assert.Equal(t, []string{"ada@example.com"}, f.srv.Recoveries)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.ResetPassword(ctx, "newpass1", "newpass1")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized, "needs a session")

	f.signIn(t)
	require.NoError(t, f.svc.ResetPassword(ctx, "newpass1", "newpass1"))
	assert.Equal(t, "newpass1", f.srv.Password("u1"))
}

func TestSaveProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t)

	_, err := f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: "  ", MainRoleID: int64p(1), CityID: int64p(2)})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: "Ada"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	p, err := f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: " Ada Lovelace ", MainRoleID: int64p(1), CityID: int64p(2)})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.FullName)
	assert.True(t, profile.IsComplete(f.profiles.Current()))

	stored, ok := f.srv.Profile("u1")
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", stored.FullName)
}

func TestSaveProfile_OtherUserRejected(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	_, err := f.svc.SaveProfile(context.Background(), "someone-else",
		ProfileInput{FullName: "Mallory", MainRoleID: int64p(1), CityID: int64p(2)})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestUploadAvatar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t)

	_, err := f.svc.UploadAvatar(ctx, "u1", "me.png", bytes.NewReader([]byte("png")), "image/png")
	assert.ErrorIs(t, err, apperror.ErrValidation, "profile must exist first")

	_, err = f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: "Ada", MainRoleID: int64p(1), CityID: int64p(2)})
	require.NoError(t, err)

	_, err = f.svc.UploadAvatar(ctx, "u1", "me.txt", bytes.NewReader([]byte("hi")), "text/plain")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	p, err := f.svc.UploadAvatar(ctx, "u1", "me.png", bytes.NewReader([]byte("png")), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/u1/me.png", p.AvatarURL)
	assert.Equal(t, []byte("png"), f.objects.uploads["u1/me.png"])

	// A later profile save keeps the avatar.
	p, err = f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: "Ada L", MainRoleID: int64p(1), CityID: int64p(2)})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/u1/me.png", p.AvatarURL)
}

func TestUploadAvatar_StoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signIn(t)
	_, err := f.svc.SaveProfile(ctx, "u1", ProfileInput{FullName: "Ada", MainRoleID: int64p(1), CityID: int64p(2)})
	require.NoError(t, err)

	f.objects.err = errors.New("bucket unavailable")
	_, err = f.svc.UploadAvatar(ctx, "u1", "me.png", bytes.NewReader(nil), "image/png")
	assert.ErrorContains(t, err, "bucket unavailable")
}

func TestStartCheckout(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	u, err := f.svc.StartCheckout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/price_pro", u)

	f.svc.priceID = ""
	_, err = f.svc.StartCheckout(context.Background())
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	require.NoError(t, f.svc.DeleteAccount(context.Background(), "u1"))
	assert.Equal(t, []string{"u1"}, f.srv.Deleted)
	assert.Equal(t, []string{"u1"}, f.screens.forgot)

	err := f.svc.DeleteAccount(context.Background(), "")
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

func TestProviderURL(t *testing.T) {
	f := newFixture(t)

	u, err := f.svc.ProviderURL(context.Background(), "GitHub")
	require.NoError(t, err)
	assert.Contains(t, u, "provider=github")
	assert.Contains(t, u, "code_challenge=")

	_, err = f.svc.ProviderURL(context.Background(), " ")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
