package authstate

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoSession = goerrors.New("identity backend returned no session", goerrors.CategoryAuth)

var errNoUserID = goerrors.New("identity backend returned no user id", goerrors.CategoryAuth)

// AuthController exposes sign in, sign up and sign out to the application
// and owns the explicit writes to the StateStore.
type AuthController struct {
	backend       IdentityBackend
	profiles      ProfileStore
	resolver      *ProfileResolver
	state         *StateStore
	logger        Logger
	activitySink  ActivitySink
	now           func() time.Time
	tracer        trace.Tracer
	strictSignOut bool
	compensate    bool
}

// NewAuthController wires a controller. When resolver is nil one is built
// on top of profiles with the same options.
func NewAuthController(backend IdentityBackend, profiles ProfileStore, resolver *ProfileResolver, state *StateStore, opts ...Option) *AuthController {
	o := buildOptions(opts...)
	if resolver == nil {
		resolver = NewProfileResolver(profiles, opts...)
	}
	if state == nil {
		state = NewStateStore(opts...)
	}

	return &AuthController{
		backend:       backend,
		profiles:      profiles,
		resolver:      resolver,
		state:         state,
		logger:        o.logger,
		activitySink:  o.activitySink,
		now:           o.now,
		tracer:        o.tracer,
		strictSignOut: o.strictSignOut,
		compensate:    o.compensate,
	}
}

// State returns the store the controller writes to.
func (c *AuthController) State() *StateStore {
	return c.state
}

// Login signs in with email and password and resolves the profile of the
// returned session. On failure the state is SignedOut and an auth error is
// returned.
func (c *AuthController) Login(ctx context.Context, email, password string) (*Profile, error) {
	ctx, span := c.tracer.Start(ctx, "authstate.Login")
	defer span.End()

	from := c.state.Current().Kind
	ticket := c.state.Begin(OriginController)
	c.commit(ticket, Authenticating())

	session, err := c.backend.SignIn(ctx, email, password)
	if err == nil && (session == nil || session.UserID == "") {
		err = errNoSession
	}
	if err != nil {
		c.commit(ticket, SignedOut())
		err = authError(err, "sign in failed")
		c.fail(span, err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			FromState: from,
			ToState:   StateSignedOut,
		})
		return nil, err
	}

	span.SetAttributes(attribute.String("authstate.user_id", session.UserID))

	res := c.resolver.Resolve(ctx, session.UserID, firstNonEmpty(session.Email, email))
	c.commitResolved(ticket, res)

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    session.UserID,
		FromState: from,
		ToState:   StateSignedIn,
		Metadata:  map[string]any{"fallback_profile": res.Fallback},
	})

	return res.Profile, nil
}

// Register creates the identity and its profile record. When the profile
// insert fails the whole operation fails and the state is SignedOut; the
// returned error reports whether the identity was left orphaned.
func (c *AuthController) Register(ctx context.Context, name, email, password string) (*Profile, error) {
	ctx, span := c.tracer.Start(ctx, "authstate.Register")
	defer span.End()

	from := c.state.Current().Kind
	ticket := c.state.Begin(OriginController)
	c.commit(ticket, Authenticating())

	result, err := c.backend.SignUp(ctx, email, password)
	if err == nil && (result == nil || result.UserID == "") {
		err = errNoUserID
	}
	if err != nil {
		c.commit(ticket, SignedOut())
		err = authError(err, "sign up failed")
		c.fail(span, err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventRegisterFailure,
			FromState: from,
			ToState:   StateSignedOut,
			Metadata:  map[string]any{"stage": "identity"},
		})
		return nil, err
	}

	userID := result.UserID
	span.SetAttributes(attribute.String("authstate.user_id", userID))

	profile := NewProfile(userID, name, email, c.now())
	if err := c.profiles.Insert(ctx, profile); err != nil {
		compensated := c.compensateRegistration(ctx, userID)
		// a signed_in notification from SignUp may still be in flight
		c.state.Reject(OriginController, userID)

		err = profileWriteError(err, "profile creation failed after sign up", map[string]any{
			"user_id":           userID,
			"compensated":       compensated,
			"orphaned_identity": !compensated,
		})
		c.fail(span, err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventRegisterFailure,
			UserID:    userID,
			FromState: from,
			ToState:   StateSignedOut,
			Metadata: map[string]any{
				"stage":       "profile",
				"compensated": compensated,
			},
		})
		return nil, err
	}

	// a sign up awaiting confirmation has no session yet, the user is still
	// reported signed in with the new profile
	pending := result.Session == nil
	if pending {
		c.logger.Info("identity %s registered without a session, confirmation pending", userID)
	}

	res := c.resolver.Resolve(ctx, userID, email)
	c.commitResolved(ticket, res)

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventRegisterSuccess,
		UserID:    userID,
		FromState: from,
		ToState:   StateSignedIn,
		Metadata:  map[string]any{"session_pending": pending},
	})

	return res.Profile, nil
}

// compensateRegistration signs the half registered identity out and, when
// enabled, deletes it. It reports whether the identity was removed.
func (c *AuthController) compensateRegistration(ctx context.Context, userID string) bool {
	removed := false
	if c.compensate {
		if remover, ok := c.backend.(IdentityRemover); ok {
			if err := remover.DeleteIdentity(ctx, userID); err != nil {
				c.logger.Error("could not delete orphaned identity %s: %v", userID, err)
			} else {
				removed = true
			}
		} else {
			c.logger.Warn("registration compensation enabled but backend cannot delete identities")
		}
	}

	if err := c.backend.SignOut(ctx); err != nil {
		c.logger.Warn("sign out after failed registration: %v", err)
	}

	return removed
}

// Logout signs out remotely and clears the local state. Unless strict sign
// out is enabled the local state is cleared even when the remote call fails,
// the failure is still returned.
func (c *AuthController) Logout(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "authstate.Logout")
	defer span.End()

	before := c.state.Current()
	ticket := c.state.Begin(OriginController)

	var result error
	if err := c.backend.SignOut(ctx); err != nil {
		result = authError(err, "sign out failed")
		c.fail(span, result)
		if c.strictSignOut {
			return result
		}
		c.logger.Warn("remote sign out failed, clearing local state: %v", err)
	}

	c.commit(ticket, SignedOut())
	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    before.UserID(),
		FromState: before.Kind,
		ToState:   StateSignedOut,
		Metadata:  map[string]any{"remote_failed": result != nil},
	})

	return result
}

// Restore looks up the backend's current session, used once at start up.
// A lookup error leaves the state untouched.
func (c *AuthController) Restore(ctx context.Context) (UserState, error) {
	ctx, span := c.tracer.Start(ctx, "authstate.Restore")
	defer span.End()

	ticket := c.state.Begin(OriginBootstrap)

	session, err := c.backend.CurrentSession(ctx)
	if err != nil {
		err = authError(err, "session lookup failed")
		c.fail(span, err)
		return c.state.Current(), err
	}

	if session == nil || !session.Valid(c.now()) {
		c.commit(ticket, SignedOut())
		return c.state.Current(), nil
	}

	res := c.resolver.Resolve(ctx, session.UserID, session.Email)
	c.commitResolved(ticket, res)

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionRestored,
		UserID:    session.UserID,
		ToState:   StateSignedIn,
	})

	return c.state.Current(), nil
}

// UpdateProfile writes fields through the profile store and refreshes the
// signed in profile.
func (c *AuthController) UpdateProfile(ctx context.Context, fields ProfileFields) (*Profile, error) {
	ctx, span := c.tracer.Start(ctx, "authstate.UpdateProfile")
	defer span.End()

	current := c.state.Current()
	if !current.IsSignedIn() {
		return nil, ErrNotSignedIn
	}
	if fields.Empty() {
		return current.Profile, nil
	}

	userID := current.Profile.ID
	if err := c.profiles.Update(ctx, userID, fields); err != nil {
		err = profileWriteError(err, "profile update failed", map[string]any{"user_id": userID})
		c.fail(span, err)
		return nil, err
	}

	res := c.resolver.Resolve(ctx, userID, current.Profile.Email)
	profile := res.Profile
	if res.Fallback {
		profile = current.Profile
		fields.Apply(profile)
	}

	if _, err := c.state.ReplaceProfile(profile); err != nil {
		c.fail(span, err)
		return nil, err
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		UserID:    userID,
		FromState: StateSignedIn,
		ToState:   StateSignedIn,
	})

	return profile, nil
}

// UpdateAvatar stores a new avatar URL, as produced by an upload.
func (c *AuthController) UpdateAvatar(ctx context.Context, avatarURL string) (*Profile, error) {
	return c.UpdateProfile(ctx, ProfileFields{AvatarURL: &avatarURL})
}

// ApplyProfile accepts an updated profile supplied by a collaborator that
// already persisted it. The id must match the signed in user.
func (c *AuthController) ApplyProfile(profile *Profile) error {
	_, err := c.state.ReplaceProfile(profile)
	return err
}

func (c *AuthController) commit(t Ticket, next UserState) {
	if _, err := c.state.Commit(t, next); err != nil {
		c.logger.Error("controller commit failed: %v", err)
	}
}

// commitResolved writes the resolved profile. When a newer write already won
// for the same user with a synthesized profile, the stored one still replaces
// it.
func (c *AuthController) commitResolved(t Ticket, res Resolution) {
	ok, err := c.state.Commit(t, res.State())
	if err != nil {
		c.logger.Error("controller commit failed: %v", err)
		return
	}
	if ok || res.Fallback {
		return
	}
	if c.state.UpgradeProfile(res.Profile) {
		c.logger.Debug("upgraded fallback profile for user %s", res.Profile.ID)
	}
}

func (c *AuthController) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, c.activitySink, c.logger, c.now, event)
}

func (c *AuthController) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
