package authstate

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Core wires the state store, resolver, listener and controller around one
// identity backend and one profile store.
type Core struct {
	State      *StateStore
	Resolver   *ProfileResolver
	Listener   *SessionListener
	Controller *AuthController

	logger Logger
	mu     sync.Mutex
	handle *ListenerHandle
}

// New builds a Core from cfg. Options passed explicitly take precedence over
// the ones derived from cfg.
func New(cfg Config, backend IdentityBackend, profiles ProfileStore, opts ...Option) (*Core, error) {
	if backend == nil {
		return nil, goerrors.New("identity backend is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig)
	}
	if profiles == nil {
		return nil, goerrors.New("profile store is required", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	all := append(cfg.Options(), opts...)
	o := buildOptions(all...)

	state := NewStateStore(all...)
	resolver := NewProfileResolver(profiles, all...)

	return &Core{
		State:      state,
		Resolver:   resolver,
		Listener:   NewSessionListener(backend, resolver, state, all...),
		Controller: NewAuthController(backend, profiles, resolver, state, all...),
		logger:     o.logger,
	}, nil
}

// Start subscribes to session changes and then restores the current session,
// so nothing emitted in between is lost. A failed restore is only logged.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return ErrListenerStarted
	}

	handle, err := c.Listener.Start(ctx)
	if err != nil {
		return err
	}
	c.handle = handle

	if _, err := c.Controller.Restore(ctx); err != nil {
		c.logger.Warn("initial session lookup failed: %v", err)
	}
	return nil
}

// Close stops the listener. It is safe to call more than once.
func (c *Core) Close() error {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	return nil
}
