// Package service holds the account operations the screens call.
//
// THE LAYERS:
//
//	Screen / bridge action  → AccountService (validation, orchestration)
//	                        → backend.Client (platform REST + auth)
//	                        → storage.Store   (avatar objects)
//
// Screens never talk to the backend client directly. Input is validated here
// first so a typo is reported against the field that caused it, and the
// follow-up work of each operation (refreshing the profile after a save,
// forgetting cached screens after an account deletion) lives in one place.
//
// WHAT THIS LAYER DOES NOT DO:
//   - It does not navigate. Session and profile changes reach the router
//     through the lifecycle event stream and the profile service.
//   - It does not touch the recovery flag. Finishing a reset is observed as a
//     USER_UPDATED event by the reconciler.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/auth"
	"github.com/sakif/crewcall/internal/backend"
	"github.com/sakif/crewcall/internal/model"
)

const MaxFullNameLength = 120

// Backend is the part of the platform client the account screens use.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error)
	AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUser(ctx context.Context, attrs backend.UserAttributes) (*model.Session, error)
	SignOut(ctx context.Context) error
	UpsertProfile(ctx context.Context, p *model.Profile) (*model.Profile, error)
	CreateCheckoutSession(ctx context.Context, priceID string) (string, error)
	DeleteAccount(ctx context.Context) error
}

// ObjectStore stores uploaded files.
type ObjectStore interface {
	Upload(ctx context.Context, userID, name string, body io.Reader, contentType string) (string, error)
	PublicURL(key string) string
}

// ProfileLoader refreshes the signed-in user's profile.
type ProfileLoader interface {
	Load(ctx context.Context, userID string) (*model.Profile, error)
	Current() *model.Profile
}

// ScreenCache forgets a user's cached screens.
type ScreenCache interface {
	Forget(ctx context.Context, userID string)
}

// Redirects are where auth mails and providers send the user back to.
type Redirects struct {
	// Callback receives sign-up confirmations and provider sign-ins.
	Callback string
	// Recovery receives password reset links.
	Recovery string
}

// AccountService implements the account screens' operations.
//
// DEPENDENCIES (injected via NewAccountService):
//   - backend   Backend        → platform auth, REST rows and functions
//   - profiles  ProfileLoader  → keeps the routing profile current
//   - objects   ObjectStore    → avatar uploads (nil disables them)
//   - screens   ScreenCache    → per-user screen cache (nil is fine)
type AccountService struct {
	backend   Backend
	profiles  ProfileLoader
	objects   ObjectStore
	screens   ScreenCache
	redirects Redirects
	priceID   string
	logger    *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(
	b Backend,
	profiles ProfileLoader,
	objects ObjectStore,
	screens ScreenCache,
	redirects Redirects,
	priceID string,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		backend:   b,
		profiles:  profiles,
		objects:   objects,
		screens:   screens,
		redirects: redirects,
		priceID:   priceID,
		logger:    logger,
	}
}

// SignIn signs in with email and password.
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	sess, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("service/account: signing in: %w", err)
	}
	s.logger.Info("signed in", slog.String("userID", sess.UserID))
	return sess, nil
}

// SignUp creates an account. The session is nil when the platform requires
// the email to be confirmed first.
func (s *AccountService) SignUp(ctx context.Context, email, password, confirm string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validateNewPassword(password, confirm); err != nil {
		return nil, err
	}

	sess, err := s.backend.SignUp(ctx, email, password, s.redirects.Callback)
	if err != nil {
		return nil, fmt.Errorf("service/account: signing up: %w", err)
	}
	return sess, nil
}

// ProviderURL returns the URL that starts a sign-in with an identity provider.
func (s *AccountService) ProviderURL(ctx context.Context, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", apperror.ValidationFailed("provider", "provider is required")
	}
	u, err := s.backend.AuthorizeURL(ctx, provider, s.redirects.Callback)
	if err != nil {
		return "", fmt.Errorf("service/account: starting %s sign-in: %w", provider, err)
	}
	return u, nil
}

// ForgotPassword sends a password reset mail.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.backend.ResetPasswordForEmail(ctx, email, s.redirects.Recovery); err != nil {
		return fmt.Errorf("service/account: requesting reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password for the signed-in (recovering) user.
func (s *AccountService) ResetPassword(ctx context.Context, password, confirm string) error {
	if err := validateNewPassword(password, confirm); err != nil {
		return err
	}
	if _, err := s.backend.UpdateUser(ctx, backend.UserAttributes{Password: password}); err != nil {
		return fmt.Errorf("service/account: updating password: %w", err)
	}
	return nil
}

// SignOut ends the session.
func (s *AccountService) SignOut(ctx context.Context) error {
	if err := s.backend.SignOut(ctx); err != nil {
		return fmt.Errorf("service/account: signing out: %w", err)
	}
	return nil
}

// ProfileInput is what the profile creation screen submits.
type ProfileInput struct {
	FullName     string `json:"full_name"`
	MainRoleID   *int64 `json:"main_role_id"`
	CityID       *int64 `json:"city_id"`
	PortfolioURL string `json:"portfolio_url"`
}

// SaveProfile creates or updates userID's profile and makes it current.
func (s *AccountService) SaveProfile(ctx context.Context, userID string, in ProfileInput) (*model.Profile, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}
	name := strings.TrimSpace(in.FullName)
	switch {
	case name == "":
		return nil, apperror.ValidationFailed("full_name", "full name is required")
	case len(name) > MaxFullNameLength:
		return nil, apperror.ValidationFailed("full_name",
			fmt.Sprintf("full name must be %d characters or fewer", MaxFullNameLength))
	case in.MainRoleID == nil:
		return nil, apperror.ValidationFailed("main_role_id", "choose your main role")
	case in.CityID == nil:
		return nil, apperror.ValidationFailed("city_id", "choose your city")
	}

	p := &model.Profile{
		ID:           userID,
		FullName:     name,
		MainRoleID:   in.MainRoleID,
		CityID:       in.CityID,
		PortfolioURL: strings.TrimSpace(in.PortfolioURL),
	}
	if current := s.profiles.Current(); current != nil && current.ID == userID {
		p.AvatarURL = current.AvatarURL
	}

	if _, err := s.backend.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("service/account: saving profile: %w", err)
	}
	return s.reload(ctx, userID)
}

// UploadAvatar stores an avatar image and points the profile at it.
func (s *AccountService) UploadAvatar(ctx context.Context, userID, name string, body io.Reader, contentType string) (*model.Profile, error) {
	if s.objects == nil {
		return nil, apperror.Forbidden("uploads are not configured")
	}
	if userID == "" {
		return nil, apperror.Unauthorized("not signed in")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperror.ValidationFailed("avatar", "avatar must be an image")
	}

	current := s.profiles.Current()
	if current == nil || current.ID != userID {
		return nil, apperror.ValidationFailed("avatar", "create your profile first")
	}

	key, err := s.objects.Upload(ctx, userID, name, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("service/account: uploading avatar: %w", err)
	}

	current.AvatarURL = s.objects.PublicURL(key)
	if _, err := s.backend.UpsertProfile(ctx, current); err != nil {
		return nil, fmt.Errorf("service/account: saving avatar: %w", err)
	}
	return s.reload(ctx, userID)
}

// StartCheckout returns the payment page URL for the configured plan.
func (s *AccountService) StartCheckout(ctx context.Context) (string, error) {
	if s.priceID == "" {
		return "", apperror.Forbidden("subscriptions are not enabled")
	}
	u, err := s.backend.CreateCheckoutSession(ctx, s.priceID)
	if err != nil {
		return "", fmt.Errorf("service/account: starting checkout: %w", err)
	}
	return u, nil
}

// DeleteAccount deletes userID's account and everything cached for it.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	if userID == "" {
		return apperror.Unauthorized("not signed in")
	}
	if err := s.backend.DeleteAccount(ctx); err != nil {
		return fmt.Errorf("service/account: deleting account: %w", err)
	}
	if s.screens != nil {
		s.screens.Forget(ctx, userID)
	}
	s.logger.Info("account deleted", slog.String("userID", userID))
	return nil
}

func (s *AccountService) reload(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/account: reloading profile: %w", err)
	}
	return p, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "enter a valid email address")
	}
	return email, nil
}

func validateNewPassword(password, confirm string) error {
	if err := auth.ValidatePassword(password); err != nil {
		return err
	}
	if password != confirm {
		return apperror.ValidationFailed("confirm", "passwords do not match")
	}
	return nil
}
