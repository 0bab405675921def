package authstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	authstate "github.com/goliatone/go-authstate"
)

func TestProfileResolver_ReturnsStoredProfile(t *testing.T) {
	store := &MockProfileStore{}
	stored := &authstate.Profile{ID: "u1", Name: "Ana", Username: "ana", Experience: 40, Bets: 3}
	store.On("Get", mock.Anything, "u1").Return(stored, nil).Once()

	res := authstate.NewProfileResolver(store, quiet()).Resolve(context.Background(), "u1", "ana@x.com")

	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err)
	assert.Same(t, stored, res.Profile)
	store.AssertExpectations(t)
}

func TestProfileResolver_Fallback(t *testing.T) {
	readErr := errors.New("connection reset")

	tests := []struct {
		name       string
		stored     *authstate.Profile
		err        error
		email      string
		opts       []authstate.Option
		wantName   string
		wantErr    bool
		wantErrTxt string
	}{
		{
			name:     "not found",
			err:      authstate.ErrProfileNotFound,
			email:    "test@test.com",
			wantName: "test",
		},
		{
			name:     "read error",
			err:      readErr,
			email:    "bob@x.com",
			wantName: "bob",
			wantErr:  true,
		},
		{
			name:       "record for another user",
			stored:     &authstate.Profile{ID: "someone-else"},
			email:      "carla@x.com",
			wantName:   "carla",
			wantErr:    true,
			wantErrTxt: authstate.TextCodeProfileMismatch,
		},
		{
			name:     "no email uses default name",
			err:      authstate.ErrProfileNotFound,
			wantName: authstate.DefaultFallbackName,
		},
		{
			name:     "configured default name",
			err:      authstate.ErrProfileNotFound,
			opts:     []authstate.Option{authstate.WithFallbackName("player")},
			wantName: "player",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockProfileStore{}
			store.On("Get", mock.Anything, "u1").Return(tt.stored, tt.err).Once()

			opts := append([]authstate.Option{quiet()}, tt.opts...)
			res := authstate.NewProfileResolver(store, opts...).Resolve(context.Background(), "u1", tt.email)

			require.NotNil(t, res.Profile)
			assert.True(t, res.Fallback)
			assert.Equal(t, "u1", res.Profile.ID)
			assert.Equal(t, tt.wantName, res.Profile.Name)
			assert.Equal(t, tt.wantName, res.Profile.Username)
			assert.Empty(t, res.Profile.Bio)
			assert.Nil(t, res.Profile.AvatarURL)
			assert.Zero(t, res.Profile.Experience)
			assert.Zero(t, res.Profile.Bubbles)
			assert.Zero(t, res.Profile.Bets)
			assert.Zero(t, res.Profile.BestBet)

			if tt.wantErr {
				assert.Error(t, res.Err)
			} else {
				assert.NoError(t, res.Err)
			}
			if tt.wantErrTxt != "" {
				assert.True(t, authstate.HasTextCode(res.Err, tt.wantErrTxt))
			}
			store.AssertExpectations(t)
		})
	}
}

func TestProfileResolver_WithoutStore(t *testing.T) {
	res := authstate.NewProfileResolver(nil, quiet()).Resolve(context.Background(), "u1", "dana@x.com")
	assert.True(t, res.Fallback)
	assert.Equal(t, "dana", res.Profile.Name)
}

func TestProfileResolver_RecordsFallbackActivity(t *testing.T) {
	store := newMemProfiles()
	sink := &recordingSink{}

	authstate.NewProfileResolver(store, quiet(), authstate.WithActivitySink(sink)).
		Resolve(context.Background(), "u1", "test@test.com")

	event, ok := sink.Last(authstate.ActivityEventProfileFallback)
	require.True(t, ok)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, false, event.Metadata["read_error"])
	assert.False(t, event.OccurredAt.IsZero())
}

func TestResolution_State(t *testing.T) {
	res := authstate.Resolution{Profile: &authstate.Profile{ID: "u1"}, Fallback: true}
	st := res.State()
	assert.Equal(t, authstate.StateSignedIn, st.Kind)
	assert.True(t, st.Fallback)
	assert.Equal(t, "u1", st.UserID())
}
