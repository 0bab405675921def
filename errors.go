package authstate

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAuthFailed         = "AUTH_FAILED"
	TextCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	TextCodeProfileExists      = "PROFILE_EXISTS"
	TextCodeProfileWriteFailed = "PROFILE_WRITE_FAILED"
	TextCodeInvalidTransition  = "INVALID_STATE_TRANSITION"
	TextCodeProfileMismatch    = "PROFILE_ID_MISMATCH"
	TextCodeNotSignedIn        = "NOT_SIGNED_IN"
	TextCodeListenerStarted    = "LISTENER_ALREADY_STARTED"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
)

// ErrProfileNotFound is returned by a ProfileStore when no record exists for an id.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrProfileExists is returned by a ProfileStore when inserting a duplicate id.
var ErrProfileExists = goerrors.New("profile already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeProfileExists).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a state commit is malformed.
var ErrInvalidTransition = goerrors.New("invalid user state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrProfileMismatch is returned when a profile does not belong to the active session.
var ErrProfileMismatch = goerrors.New("profile does not belong to the active session", goerrors.CategoryValidation).
	WithTextCode(TextCodeProfileMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrNotSignedIn is returned by operations that need a signed in user.
var ErrNotSignedIn = goerrors.New("no user is signed in", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotSignedIn).
	WithCode(goerrors.CodeUnauthorized)

// ErrListenerStarted is returned when a SessionListener is started twice.
var ErrListenerStarted = goerrors.New("session listener already started", goerrors.CategoryConflict).
	WithTextCode(TextCodeListenerStarted).
	WithCode(goerrors.CodeConflict)

// authError wraps an identity backend failure. The cause is kept as source.
func authError(err error, msg string) error {
	return goerrors.Wrap(detach(err), goerrors.CategoryAuth, msg).
		WithTextCode(TextCodeAuthFailed).
		WithCode(goerrors.CodeUnauthorized)
}

func profileWriteError(err error, msg string, metadata map[string]any) error {
	return goerrors.Wrap(detach(err), goerrors.CategoryInternal, msg).
		WithTextCode(TextCodeProfileWriteFailed).
		WithMetadata(metadata)
}

// IsAuthError reports whether err is an identity backend failure surfaced by
// the controller.
func IsAuthError(err error) bool {
	return hasTextCode(err, TextCodeAuthFailed)
}

// IsProfileError reports whether err is a profile store failure: a missing
// record, a duplicate, or a failed write.
func IsProfileError(err error) bool {
	return hasTextCode(err, TextCodeProfileNotFound) ||
		hasTextCode(err, TextCodeProfileExists) ||
		hasTextCode(err, TextCodeProfileWriteFailed)
}

// IsProfileNotFound reports whether err signals a missing profile record.
func IsProfileNotFound(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, TextCodeProfileNotFound) || goerrors.IsNotFound(err)
}

// IsOrphanedIdentity reports whether a registration failed after the identity
// was created and the identity was left in place.
func IsOrphanedIdentity(err error) bool {
	rich := richError(err)
	if rich == nil || rich.TextCode != TextCodeProfileWriteFailed {
		return false
	}
	orphaned, _ := rich.Metadata["orphaned_identity"].(bool)
	return orphaned
}

// HasTextCode reports whether err is a rich error carrying code.
func HasTextCode(err error, code string) bool {
	return hasTextCode(err, code)
}

func hasTextCode(err error, code string) bool {
	rich := richError(err)
	return rich != nil && rich.TextCode == code
}

func richError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	return nil
}

// detach copies package level sentinels before they are wrapped so the
// wrapper never mutates shared values.
func detach(err error) error {
	if rich, ok := err.(*goerrors.Error); ok && rich != nil {
		if clone := rich.Clone(); clone != nil {
			return clone
		}
	}
	return err
}
