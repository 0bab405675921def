package repository

import (
	"context"
	"database/sql"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	authstate "github.com/goliatone/go-authstate"
)

// Manager groups the repositories backed by one database.
type Manager struct {
	db       *bun.DB
	profiles *Profiles
}

func NewManager(db *bun.DB, opts ...ProfilesOption) *Manager {
	return &Manager{
		db:       db,
		profiles: NewProfiles(db, opts...),
	}
}

// DB returns the shared database handle.
func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Profiles() *Profiles {
	return m.profiles
}

// Validate checks that the manager is usable.
func (m *Manager) Validate() error {
	if m.db == nil {
		return goerrors.New("database is not configured", goerrors.CategoryValidation).
			WithTextCode(authstate.TextCodeInvalidConfig)
	}
	if m.profiles == nil {
		return goerrors.New("profiles repository is not configured", goerrors.CategoryValidation).
			WithTextCode(authstate.TextCodeInvalidConfig)
	}
	return nil
}

// Migrate creates the profiles table when it does not exist.
func (m *Manager) Migrate(ctx context.Context) error {
	return m.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewCreateTable().
			Model((*authstate.Profile)(nil)).
			IfNotExists().
			Exec(ctx)
		return err
	})
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	if err := m.db.RunInTx(ctx, opts, f); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "transaction failed")
	}
	return nil
}

// OpenSQLite opens a Bun database on the sqlite driver picked by sqliteshim.
// A single connection is kept so in memory databases survive between calls.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "open sqlite")
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}
