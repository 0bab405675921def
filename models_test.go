package authstate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authstate "github.com/goliatone/go-authstate"
)

func TestEmailLocalPart(t *testing.T) {
	tests := []struct {
		email    string
		expected string
	}{
		{email: "test@test.com", expected: "test"},
		{email: "  ana@x.com ", expected: "ana"},
		{email: "a@b@c", expected: "a"},
		{email: "no-at-sign", expected: "no-at-sign"},
		{email: "@x.com", expected: ""},
		{email: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.expected, authstate.EmailLocalPart(tt.email))
		})
	}
}

func TestNewProfile(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := authstate.NewProfile("u1", "Ana", "ana@x.com", created)

	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, "ana", p.Username)
	assert.Empty(t, p.Bio)
	assert.Nil(t, p.AvatarURL)
	require.NotNil(t, p.CreatedAt)
	assert.Equal(t, created, *p.CreatedAt)
}

func TestFallbackProfile(t *testing.T) {
	p := authstate.FallbackProfile("u1", "test@test.com", "user")
	assert.Equal(t, "test", p.Name)
	assert.Equal(t, "test", p.Username)
	assert.Nil(t, p.CreatedAt)

	p = authstate.FallbackProfile("u1", "@x.com", "user")
	assert.Equal(t, "user", p.Name)
}

func TestSessionValid(t *testing.T) {
	now := time.Now()

	var missing *authstate.Session
	assert.False(t, missing.Valid(now))
	assert.False(t, (&authstate.Session{}).Valid(now))
	assert.True(t, (&authstate.Session{UserID: "u1"}).Valid(now))
	assert.True(t, (&authstate.Session{UserID: "u1", ExpiresAt: now.Add(time.Minute)}).Valid(now))
	assert.False(t, (&authstate.Session{UserID: "u1", ExpiresAt: now}).Valid(now))
}

func TestProfileFields(t *testing.T) {
	assert.True(t, authstate.ProfileFields{}.Empty())

	name := "Ana Maria"
	avatar := "https://cdn.example.com/a.png"
	fields := authstate.ProfileFields{Name: &name, AvatarURL: &avatar}
	assert.False(t, fields.Empty())

	p := &authstate.Profile{ID: "u1", Name: "Ana", Username: "ana", Bio: "hi"}
	fields.Apply(p)
	assert.Equal(t, "Ana Maria", p.Name)
	assert.Equal(t, "ana", p.Username)
	assert.Equal(t, "hi", p.Bio)
	require.NotNil(t, p.AvatarURL)

	avatar = "changed"
	assert.Equal(t, "https://cdn.example.com/a.png", *p.AvatarURL)

	fields.Apply(nil)
}

func TestProfileClone(t *testing.T) {
	avatar := "a.png"
	now := time.Now()
	p := &authstate.Profile{ID: "u1", AvatarURL: &avatar, CreatedAt: &now}

	c := p.Clone()
	*c.AvatarURL = "b.png"
	assert.Equal(t, "a.png", *p.AvatarURL)
	assert.NotSame(t, p.CreatedAt, c.CreatedAt)

	var missing *authstate.Profile
	assert.Nil(t, missing.Clone())
}
