package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	authstate "github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/backend/memory"
	"github.com/goliatone/go-authstate/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "authstate-demo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := authstate.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	db, err := repository.OpenSQLite(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := repository.NewManager(db)
	if err := repos.Validate(); err != nil {
		return err
	}
	if err := repos.Migrate(ctx); err != nil {
		return err
	}

	backendOpts := []memory.Option{
		memory.WithIssuer(cfg.Issuer),
		memory.WithSessionTTL(cfg.SessionTTL),
	}
	if cfg.SigningKey != "" {
		backendOpts = append(backendOpts, memory.WithSigningKey([]byte(cfg.SigningKey)))
	}
	backend := memory.New(backendOpts...)

	sink := authstate.ActivitySinkFunc(func(_ context.Context, event authstate.ActivityEvent) error {
		fmt.Printf("activity %-24s user=%s %s -> %s\n", event.EventType, event.UserID, event.FromState, event.ToState)
		return nil
	})

	core, err := authstate.New(cfg, backend, repos.Profiles(), authstate.WithActivitySink(sink))
	if err != nil {
		return err
	}
	defer core.Close()

	states, cancel := core.State.Watch(0)
	defer cancel()
	go func() {
		for st := range states {
			name := "-"
			if st.Profile != nil {
				name = st.Profile.Name
			}
			fmt.Printf("state    %-14s seq=%d origin=%s profile=%s fallback=%t\n", st.Kind, st.Seq, st.Origin, name, st.Fallback)
		}
	}()

	if err := core.Start(ctx); err != nil {
		return err
	}

	if err := scenario(ctx, core, backend, repos.Profiles()); err != nil {
		return err
	}

	count, err := repos.DB().NewSelect().Model((*authstate.Profile)(nil)).Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("profiles stored=%d\n", count)
	return nil
}

func scenario(ctx context.Context, core *authstate.Core, backend *memory.Backend, profiles *repository.Profiles) error {
	ctrl := core.Controller

	profile, err := ctrl.Register(ctx, "Ana", "ana@example.com", "pw123456")
	if err != nil {
		return err
	}
	settle(ctx)

	if err := profiles.AddCounters(ctx, profile.ID, 120, 3, 4, 250); err != nil {
		return err
	}
	bio := "weekend punter"
	if _, err := ctrl.UpdateProfile(ctx, authstate.ProfileFields{Bio: &bio}); err != nil {
		return err
	}

	if _, err := backend.Refresh(ctx); err != nil {
		return err
	}
	settle(ctx)

	if err := backend.Revoke(ctx, profile.ID); err != nil {
		return err
	}
	settle(ctx)

	if _, err := ctrl.Login(ctx, "ana@example.com", "wrong-password"); err != nil {
		fmt.Printf("login rejected: %v\n", err)
	}

	if _, err := ctrl.Login(ctx, "ana@example.com", "pw123456"); err != nil {
		return err
	}
	settle(ctx)

	if err := ctrl.Logout(ctx); err != nil {
		return err
	}
	settle(ctx)

	return nil
}

// settle gives the listener time to apply pending notifications.
func settle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(50 * time.Millisecond):
	}
}
