package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/repository"
)

func setupProfiles(t *testing.T) (*repository.Profiles, func()) {
	t.Helper()

	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mgr := repository.NewManager(db, repository.WithProfilesClock(func() time.Time { return fixed }))
	require.NoError(t, mgr.Validate())
	require.NoError(t, mgr.Migrate(context.Background()))

	return mgr.Profiles(), func() { _ = db.Close() }
}

func TestProfiles_InsertAndGet(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.NewString()
	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, profiles.Insert(ctx, authstate.NewProfile(id, "Ana", "ana@x.com", created)))

	got, err := profiles.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "ana", got.Username)
	assert.Equal(t, "ana@x.com", got.Email)
	assert.Zero(t, got.Experience)
	assert.Zero(t, got.Bubbles)
	assert.Zero(t, got.Bets)
	assert.Zero(t, got.BestBet)
	assert.Nil(t, got.AvatarURL)
}

func TestProfiles_GetMissing(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	tests := []struct {
		name string
		id   string
	}{
		{name: "unknown uuid", id: uuid.NewString()},
		{name: "not a uuid", id: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := profiles.Get(context.Background(), tt.id)
			assert.Nil(t, got)
			assert.True(t, authstate.IsProfileNotFound(err))
		})
	}
}

func TestProfiles_InsertDuplicate(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, profiles.Insert(ctx, authstate.NewProfile(id, "Ana", "ana@x.com", time.Now())))

	err := profiles.Insert(ctx, authstate.NewProfile(id, "Ana", "ana@x.com", time.Now()))
	require.Error(t, err)
	assert.True(t, authstate.HasTextCode(err, authstate.TextCodeProfileExists))
}

func TestProfiles_InsertRejectsInvalidID(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	err := profiles.Insert(context.Background(), authstate.NewProfile("abc", "Ana", "ana@x.com", time.Now()))
	require.Error(t, err)
	assert.True(t, authstate.HasTextCode(err, "INVALID_PROFILE_ID"))
}

func TestProfiles_UpdatePartial(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, profiles.Insert(ctx, authstate.NewProfile(id, "Ana", "ana@x.com", time.Now())))

	bio := "likes long shots"
	avatar := "https://cdn.example.com/a.png"
	require.NoError(t, profiles.Update(ctx, id, authstate.ProfileFields{Bio: &bio, AvatarURL: &avatar}))

	got, err := profiles.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "ana", got.Username)
	assert.Equal(t, bio, got.Bio)
	require.NotNil(t, got.AvatarURL)
	assert.Equal(t, avatar, *got.AvatarURL)
	require.NotNil(t, got.UpdatedAt)
}

func TestProfiles_UpdateMissing(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	name := "Bob"
	err := profiles.Update(context.Background(), uuid.NewString(), authstate.ProfileFields{Name: &name})
	assert.True(t, authstate.IsProfileNotFound(err))
}

func TestProfiles_AddCounters(t *testing.T) {
	profiles, cleanup := setupProfiles(t)
	defer cleanup()

	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, profiles.Insert(ctx, authstate.NewProfile(id, "Ana", "ana@x.com", time.Now())))

	require.NoError(t, profiles.AddCounters(ctx, id, 10, 2, 1, 50))
	require.NoError(t, profiles.AddCounters(ctx, id, 5, 0, 1, 20))

	got, err := profiles.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Experience)
	assert.Equal(t, int64(2), got.Bubbles)
	assert.Equal(t, int64(2), got.Bets)
	assert.Equal(t, int64(50), got.BestBet)

	err = profiles.AddCounters(ctx, uuid.NewString(), 1, 1, 1, 1)
	assert.True(t, authstate.IsProfileNotFound(err))
}

func TestManager_SharesDatabase(t *testing.T) {
	db, err := repository.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	mgr := repository.NewManager(db)
	assert.Same(t, db, mgr.DB())

	ctx := context.Background()
	require.NoError(t, mgr.Migrate(ctx))
	require.NoError(t, mgr.Migrate(ctx))

	require.NoError(t, mgr.Profiles().Insert(ctx, authstate.NewProfile(uuid.NewString(), "Ana", "ana@x.com", time.Now())))

	count, err := mgr.DB().NewSelect().Model((*authstate.Profile)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
