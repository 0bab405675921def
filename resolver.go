package authstate

import (
	"context"
	"time"
)

// Resolution is the outcome of a profile lookup. Profile is never nil.
// Fallback is set when the profile was synthesized, and Err carries the read
// error that was absorbed, if any.
type Resolution struct {
	Profile  *Profile
	Fallback bool
	Err      error
}

// State returns the SignedIn state holding the resolved profile.
func (r Resolution) State() UserState {
	st := SignedIn(r.Profile)
	st.Fallback = r.Fallback
	return st
}

// ProfileResolver fetches the profile to present for a user id, falling back
// to a synthesized one when the store has nothing usable.
type ProfileResolver struct {
	profiles     ProfileStore
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	fallbackName string
}

func NewProfileResolver(profiles ProfileStore, opts ...Option) *ProfileResolver {
	o := buildOptions(opts...)
	return &ProfileResolver{
		profiles:     profiles,
		logger:       o.logger,
		activitySink: o.activitySink,
		now:          o.now,
		fallbackName: o.fallbackName,
	}
}

// Resolve never fails observably: read errors other than not found are
// logged and treated as not found.
func (r *ProfileResolver) Resolve(ctx context.Context, userID, email string) Resolution {
	var readErr error

	if r.profiles != nil {
		profile, err := r.profiles.Get(ctx, userID)
		switch {
		case err == nil && profile != nil && profile.ID == userID:
			return Resolution{Profile: profile}
		case err == nil && profile != nil:
			readErr = ErrProfileMismatch.Clone().WithMetadata(map[string]any{
				"user_id":    userID,
				"profile_id": profile.ID,
			})
			r.logger.Error("profile store returned record %s for user %s", profile.ID, userID)
		case err != nil && !IsProfileNotFound(err):
			readErr = err
			r.logger.Error("profile lookup failed for user %s: %v", userID, err)
		}
	}

	fallback := FallbackProfile(userID, email, r.fallbackName)
	recordActivity(ctx, r.activitySink, r.logger, r.now, ActivityEvent{
		EventType: ActivityEventProfileFallback,
		UserID:    userID,
		Metadata:  map[string]any{"read_error": readErr != nil},
	})

	return Resolution{
		Profile:  fallback,
		Fallback: true,
		Err:      readErr,
	}
}
