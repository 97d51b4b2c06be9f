package model

// AuthEventType names a session lifecycle transition emitted by the auth backend.
type AuthEventType string

const (
	EventSignedIn         AuthEventType = "SIGNED_IN"
	EventSignedOut        AuthEventType = "SIGNED_OUT"
	EventUserUpdated      AuthEventType = "USER_UPDATED"
	EventPasswordRecovery AuthEventType = "PASSWORD_RECOVERY"
	EventTokenRefreshed   AuthEventType = "TOKEN_REFRESHED"
	EventInitialSession   AuthEventType = "INITIAL_SESSION"
)

// AuthEvent is one entry of the ordered lifecycle stream.
// Session is the session current at emission time, or nil.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}
