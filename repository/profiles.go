package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	authstate "github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrInvalidProfileID is returned when a profile id is not a UUID.
var ErrInvalidProfileID = goerrors.New("profile id must be a uuid", goerrors.CategoryBadInput).
	WithTextCode("INVALID_PROFILE_ID").
	WithCode(goerrors.CodeBadRequest)

// Profiles implements authstate.ProfileStore on top of Bun.
type Profiles struct {
	repository.Repository[*authstate.Profile]
	db  *bun.DB
	now func() time.Time
}

var _ authstate.ProfileStore = (*Profiles)(nil)

// ProfilesOption customizes the repository.
type ProfilesOption func(*Profiles)

// WithProfilesClock injects the clock used for updated_at.
func WithProfilesClock(clock func() time.Time) ProfilesOption {
	return func(p *Profiles) {
		if clock != nil {
			p.now = clock
		}
	}
}

func NewProfiles(db *bun.DB, opts ...ProfilesOption) *Profiles {
	repo := repository.NewRepository[*authstate.Profile](db, repository.ModelHandlers[*authstate.Profile]{
		NewRecord: func() *authstate.Profile { return &authstate.Profile{} },
		GetID: func(p *authstate.Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(p.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(p *authstate.Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	profiles := &Profiles{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(profiles)
		}
	}
	return profiles
}

// Get returns authstate.ErrProfileNotFound when there is no record for userID.
func (p *Profiles) Get(ctx context.Context, userID string) (*authstate.Profile, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, authstate.ErrProfileNotFound
	}

	record, err := p.Repository.GetByID(ctx, userID)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.Is(err, sql.ErrNoRows) {
			return nil, authstate.ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
	}
	return record, nil
}

// Insert fails with authstate.ErrProfileExists when the id is taken.
func (p *Profiles) Insert(ctx context.Context, profile *authstate.Profile) error {
	if profile == nil {
		return ErrInvalidProfileID
	}
	if _, err := uuid.Parse(profile.ID); err != nil {
		return ErrInvalidProfileID
	}

	if profile.CreatedAt == nil {
		now := p.now()
		profile.CreatedAt = &now
	}

	if _, err := p.Repository.Create(ctx, profile); err != nil {
		if isUniqueViolation(err) {
			return authstate.ErrProfileExists
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert profile")
	}
	return nil
}

// Update writes the set fields of a partial update.
func (p *Profiles) Update(ctx context.Context, userID string, fields authstate.ProfileFields) error {
	if _, err := uuid.Parse(userID); err != nil {
		return authstate.ErrProfileNotFound
	}

	q := p.db.NewUpdate().
		Model((*authstate.Profile)(nil)).
		Where("id = ?", userID)

	if fields.Name != nil {
		q = q.Set("name = ?", *fields.Name)
	}
	if fields.Username != nil {
		q = q.Set("username = ?", *fields.Username)
	}
	if fields.Bio != nil {
		q = q.Set("bio = ?", *fields.Bio)
	}
	if fields.AvatarURL != nil {
		q = q.Set("avatar_url = ?", *fields.AvatarURL)
	}
	q = q.Set("updated_at = ?", p.now())

	res, err := q.Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authstate.ErrProfileNotFound
	}
	return nil
}

// AddCounters increments the gameplay counters of a profile and raises the
// best bet when bestBet is higher than the stored one.
func (p *Profiles) AddCounters(ctx context.Context, userID string, experience, bubbles, bets, bestBet int64) error {
	res, err := p.db.NewUpdate().
		Model((*authstate.Profile)(nil)).
		Set("experience = experience + ?", experience).
		Set("bubbles = bubbles + ?", bubbles).
		Set("bets = bets + ?", bets).
		Set("best_bet = CASE WHEN best_bet < ? THEN ? ELSE best_bet END", bestBet, bestBet).
		Set("updated_at = ?", p.now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile counters")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authstate.ErrProfileNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
