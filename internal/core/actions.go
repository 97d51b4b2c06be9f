package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/crewcall/internal/apperror"
	"github.com/sakif/crewcall/internal/model"
	"github.com/sakif/crewcall/internal/navigation"
	"github.com/sakif/crewcall/internal/service"
)

// Action names accepted by Do.
const (
	ActionSignIn         = "sign_in"
	ActionSignUp         = "sign_up"
	ActionProviderSignIn = "provider_sign_in"
	ActionForgotPassword = "forgot_password"
	ActionResetPassword  = "reset_password"
	ActionSignOut        = "sign_out"
	ActionSaveProfile    = "save_profile"
	ActionProfile        = "profile"
	ActionStartCheckout  = "start_checkout"
	ActionDeleteAccount  = "delete_account"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
	Provider string `json:"provider"`
}

// URLResult is returned by actions that send the user to another site.
type URLResult struct {
	URL string `json:"url"`
}

// Do runs a screen action. fields is the action's JSON input.
func (c *Core) Do(ctx context.Context, action string, fields json.RawMessage) (any, error) {
	var in credentials
	if action != ActionSaveProfile && len(fields) > 0 {
		if err := json.Unmarshal(fields, &in); err != nil {
			return nil, apperror.ValidationFailed("fields", "malformed action input")
		}
	}

	switch action {
	case ActionSignIn:
		_, err := c.Account.SignIn(ctx, in.Email, in.Password)
		return nil, err
	case ActionSignUp:
		sess, err := c.Account.SignUp(ctx, in.Email, in.Password, in.Confirm)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"confirmation_sent": sess == nil}, nil
	case ActionProviderSignIn:
		u, err := c.Account.ProviderURL(ctx, in.Provider)
		if err != nil {
			return nil, err
		}
		return URLResult{URL: u}, nil
	case ActionForgotPassword:
		return nil, c.Account.ForgotPassword(ctx, in.Email)
	case ActionResetPassword:
		return nil, c.Account.ResetPassword(ctx, in.Password, in.Confirm)
	case ActionSignOut:
		return nil, c.Account.SignOut(ctx)
	case ActionSaveProfile:
		var p service.ProfileInput
		if err := json.Unmarshal(fields, &p); err != nil {
			return nil, apperror.ValidationFailed("fields", "malformed profile")
		}
		return c.Account.SaveProfile(ctx, c.UserID(), p)
	case ActionProfile:
		return c.Profiles.Current(), nil
	case ActionStartCheckout:
		u, err := c.Account.StartCheckout(ctx)
		if err != nil {
			return nil, err
		}
		return URLResult{URL: u}, nil
	case ActionDeleteAccount:
		return nil, c.Account.DeleteAccount(ctx, c.UserID())
	}
	return nil, apperror.ValidationFailed("action", fmt.Sprintf("unknown action %q", action))
}

// Upload stores an avatar for the signed-in user.
func (c *Core) Upload(ctx context.Context, name string, body io.Reader, contentType string) (any, error) {
	return c.Account.UploadAvatar(ctx, c.UserID(), name, body, contentType)
}

// Navigate moves between screens at the user's request. Signed-out screens
// replace the stack; detail screens are pushed. Anything else is decided by
// the router and ignored here.
func (c *Core) Navigate(route string, params map[string]string) {
	r := model.Route(route)
	q := c.App.Context().Queue
	switch r {
	case model.RouteSignIn, model.RouteSignUp, model.RouteForgotPassword:
		if c.UserID() == "" {
			q.EnqueueOrRun(navigation.Reset(r))
			return
		}
	case model.RouteChat, model.RouteUser:
		if c.UserID() != "" && params["id"] != "" {
			q.EnqueueOrRun(navigation.Navigate(r, params))
			return
		}
	}
	c.logger.Debug("navigation request ignored", slog.String("route", route))
}

// Back pops the top screen.
func (c *Core) Back() {
	c.App.Context().Stack.Back()
}
