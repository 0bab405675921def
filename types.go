package authstate

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// IdentityBackend is the remote service that issues and validates sessions.
type IdentityBackend interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	SignOut(ctx context.Context) error
	// CurrentSession returns nil, nil when there is no active session.
	CurrentSession(ctx context.Context) (*Session, error)
	// Subscribe opens a stream of session change notifications. Each call
	// returns a new subscription that must be released with Unsubscribe.
	Subscribe() SessionSubscription
}

// IdentityRemover is implemented by backends that can delete an identity,
// used to compensate a registration whose profile could not be created.
type IdentityRemover interface {
	DeleteIdentity(ctx context.Context, userID string) error
}

// SessionSubscription delivers session change notifications in arrival order.
type SessionSubscription interface {
	Events() <-chan SessionEvent
	Unsubscribe()
}

// ProfileStore gives keyed access to profile records.
type ProfileStore interface {
	// Get returns ErrProfileNotFound when no record exists for userID.
	Get(ctx context.Context, userID string) (*Profile, error)
	// Insert fails with ErrProfileExists if a record with the same id exists.
	Insert(ctx context.Context, profile *Profile) error
	Update(ctx context.Context, userID string, fields ProfileFields) error
}

// SignUpResult is returned by IdentityBackend.SignUp. Session is nil when the
// backend requires a confirmation step before issuing one.
type SignUpResult struct {
	UserID  string
	Session *Session
}

// SessionEventType names the reason a session notification was emitted.
type SessionEventType string

const (
	SessionEventSignedIn       SessionEventType = "signed_in"
	SessionEventSignedOut      SessionEventType = "signed_out"
	SessionEventTokenRefreshed SessionEventType = "token_refreshed"
	SessionEventUserUpdated    SessionEventType = "user_updated"
	SessionEventExpired        SessionEventType = "session_expired"
)

// SessionEvent is a session change notification. A nil Session means there
// is no longer an active session.
type SessionEvent struct {
	Type       SessionEventType
	Session    *Session
	OccurredAt time.Time
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHSTATE "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
