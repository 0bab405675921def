package authstate

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Session is the identity backend's proof of authentication. The core only
// reacts to its presence, it never persists it.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the session is inside its validity window.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.UserID == "" {
		return false
	}
	if s.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// Profile is the application level user record, keyed by the identity id.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            string     `bun:"id,pk" json:"id"`
	Email         string     `bun:"email,notnull" json:"email"`
	Name          string     `bun:"name,notnull" json:"name"`
	Username      string     `bun:"username,notnull" json:"username"`
	Bio           string     `bun:"bio,notnull" json:"bio"`
	AvatarURL     *string    `bun:"avatar_url" json:"avatar_url"`
	Experience    int64      `bun:"experience,notnull,default:0" json:"experience"`
	Bubbles       int64      `bun:"bubbles,notnull,default:0" json:"bubbles"`
	Bets          int64      `bun:"bets,notnull,default:0" json:"bets"`
	BestBet       int64      `bun:"best_bet,notnull,default:0" json:"best_bet"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// Clone returns a deep copy so state snapshots never share pointers with
// callers.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.AvatarURL != nil {
		v := *p.AvatarURL
		c.AvatarURL = &v
	}
	if p.CreatedAt != nil {
		v := *p.CreatedAt
		c.CreatedAt = &v
	}
	if p.UpdatedAt != nil {
		v := *p.UpdatedAt
		c.UpdatedAt = &v
	}
	return &c
}

// ProfileFields is a partial profile update. Nil fields are left untouched.
type ProfileFields struct {
	Name      *string `json:"name,omitempty"`
	Username  *string `json:"username,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Empty reports whether no field is set.
func (f ProfileFields) Empty() bool {
	return f.Name == nil && f.Username == nil && f.Bio == nil && f.AvatarURL == nil
}

// Apply copies the set fields onto p.
func (f ProfileFields) Apply(p *Profile) {
	if p == nil {
		return
	}
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Username != nil {
		p.Username = *f.Username
	}
	if f.Bio != nil {
		p.Bio = *f.Bio
	}
	if f.AvatarURL != nil {
		v := *f.AvatarURL
		p.AvatarURL = &v
	}
}

// NewProfile builds the record created on sign up.
func NewProfile(userID, name, email string, createdAt time.Time) *Profile {
	return &Profile{
		ID:        userID,
		Email:     email,
		Name:      name,
		Username:  EmailLocalPart(email),
		Bio:       "",
		CreatedAt: &createdAt,
	}
}

// FallbackProfile synthesizes a non persisted profile for an authenticated
// user that has no stored record.
func FallbackProfile(userID, email, defaultName string) *Profile {
	name := EmailLocalPart(email)
	if name == "" {
		name = defaultName
	}
	return &Profile{
		ID:       userID,
		Email:    email,
		Name:     name,
		Username: name,
	}
}

// EmailLocalPart returns the text before the first "@".
func EmailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
