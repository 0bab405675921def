// Package authstate keeps an application's view of the current user in sync
// with a remote identity backend.
//
// Current user state:
//   - StateStore holds a UserState that is SignedOut, Authenticating or
//     SignedIn with a Profile. It has two writers, AuthController and
//     SessionListener, and every write carries a Ticket taken from a
//     monotonically increasing sequence. A commit older than the last accepted
//     one is discarded, so the most recently started operation wins.
//   - A synthesized fallback profile never replaces a stored profile of the
//     same user, whichever write lands first.
//
// Profile resolution:
//   - ProfileResolver reads the record for a user id from a ProfileStore and
//     falls back to a profile derived from the email local part when nothing
//     usable is stored. It never fails observably.
//
// Session changes:
//   - SessionListener subscribes to IdentityBackend notifications and applies
//     them in arrival order. ListenerHandle.Stop releases the subscription
//     once and guarantees no write happens afterwards.
//
// Activity sinks:
//   - ActivitySink receives login, registration, logout and session change
//     events. Sinks run best effort, errors are logged.
package authstate
