package model

// Route names a screen (or the root of a screen stack) in the app.
//
// The string values double as the web path segment and the native deep-link
// host, e.g. "/reset-password" and "crewcall://reset-password".
type Route string

const (
	RouteLoading        Route = "loading"
	RouteSignIn         Route = "signin"
	RouteSignUp         Route = "signup"
	RouteForgotPassword Route = "forgot-password"
	RouteResetPassword  Route = "reset-password"
	RouteCreateProfile  Route = "create-profile"
	RoutePaywall        Route = "paywall"
	RouteMain           Route = "main"
	RouteChat           Route = "chats"
	RouteUser           Route = "u"
)

// Path returns the web path for r.
func (r Route) Path() string {
	if r == RouteMain {
		return "/"
	}
	return "/" + string(r)
}

// Authenticated reports whether r lives inside the signed-in part of the app.
func (r Route) Authenticated() bool {
	switch r {
	case RouteMain, RouteChat, RouteUser, RouteCreateProfile, RoutePaywall:
		return true
	}
	return false
}
