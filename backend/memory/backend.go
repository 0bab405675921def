package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	authstate "github.com/goliatone/go-authstate"
)

// Operation names a backend call for fault injection.
type Operation string

const (
	OpSignIn         Operation = "sign_in"
	OpSignUp         Operation = "sign_up"
	OpSignOut        Operation = "sign_out"
	OpCurrentSession Operation = "current_session"
	OpDeleteIdentity Operation = "delete_identity"
)

const (
	DefaultSessionTTL  = time.Hour
	DefaultIssuer      = "go-authstate"
	DefaultEventBuffer = 16
)

type identity struct {
	id           string
	email        string
	passwordHash string
	createdAt    time.Time
}

// Backend is an in process identity service. It keeps one client session,
// the way a device bound auth client does, and notifies subscribers of every
// session change, including the ones that happen out of band (refresh,
// expiry, revocation).
type Backend struct {
	// emitMu serializes mutations with their notifications so subscribers
	// observe changes in the order they were applied.
	emitMu sync.Mutex

	mu      sync.Mutex
	byEmail map[string]*identity
	byID    map[string]*identity
	session *authstate.Session
	subs    map[uint64]*subscription
	subID   uint64
	faults  map[Operation]error

	tokens      *tokenIssuer
	cost        int
	now         func() time.Time
	logger      authstate.Logger
	hashIDs     bool
	autoConfirm bool
	buffer      int
}

var (
	_ authstate.IdentityBackend = (*Backend)(nil)
	_ authstate.IdentityRemover = (*Backend)(nil)
)

type Option func(*Backend)

func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		if len(key) > 0 {
			b.tokens.signingKey = key
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(b *Backend) {
		if issuer != "" {
			b.tokens.issuer = issuer
		}
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.tokens.ttl = ttl
		}
	}
}

// WithBcryptCost sets the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(b *Backend) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			b.cost = cost
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *Backend) {
		if clock != nil {
			b.now = clock
			b.tokens.now = clock
		}
	}
}

func WithLogger(logger authstate.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHashIDs derives identity ids from the email instead of random UUIDs.
func WithHashIDs(enabled bool) Option {
	return func(b *Backend) {
		b.hashIDs = enabled
	}
}

// WithAutoConfirm controls whether SignUp issues a session right away. When
// disabled SignUp only creates the identity.
func WithAutoConfirm(enabled bool) Option {
	return func(b *Backend) {
		b.autoConfirm = enabled
	}
}

// WithEventBuffer sets the channel size of each subscription.
func WithEventBuffer(size int) Option {
	return func(b *Backend) {
		if size > 0 {
			b.buffer = size
		}
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		byEmail: make(map[string]*identity),
		byID:    make(map[string]*identity),
		subs:    make(map[uint64]*subscription),
		faults:  make(map[Operation]error),
		tokens: &tokenIssuer{
			signingKey: []byte(uuid.NewString()),
			issuer:     DefaultIssuer,
			ttl:        DefaultSessionTTL,
			now:        time.Now,
		},
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
		logger:      authstate.NopLogger{},
		autoConfirm: true,
		buffer:      DefaultEventBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// SetFault makes every call to op fail with err until cleared with a nil err.
func (b *Backend) SetFault(op Operation, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.faults, op)
		return
	}
	b.faults[op] = err
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (*authstate.Session, error) {
	var out *authstate.Session
	err := b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if err := b.faults[OpSignIn]; err != nil {
			return nil, err
		}

		ident, ok := b.byEmail[normalizeEmail(email)]
		if !ok {
			return nil, ErrInvalidCredentials
		}
		if err := comparePassword(password, ident.passwordHash); err != nil {
			return nil, err
		}

		session, err := b.tokens.issue(ident.id, ident.email)
		if err != nil {
			return nil, err
		}
		b.session = session
		out = copySession(session)

		return b.event(authstate.SessionEventSignedIn, session), nil
	})
	return out, err
}

func (b *Backend) SignUp(ctx context.Context, email, password string) (*authstate.SignUpResult, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	// hashing is slow, keep it outside the lock
	hash, err := hashPassword(password, b.cost)
	if err != nil {
		return nil, err
	}

	var out *authstate.SignUpResult
	err = b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if err := b.faults[OpSignUp]; err != nil {
			return nil, err
		}

		key := normalizeEmail(email)
		if _, exists := b.byEmail[key]; exists {
			return nil, ErrEmailTaken
		}

		id, err := b.newID(key)
		if err != nil {
			return nil, err
		}

		ident := &identity{
			id:           id,
			email:        strings.TrimSpace(email),
			passwordHash: hash,
			createdAt:    b.now(),
		}
		b.byEmail[key] = ident
		b.byID[id] = ident
		b.logger.Info("identity %s created", id)

		out = &authstate.SignUpResult{UserID: id}
		if !b.autoConfirm {
			return nil, nil
		}

		session, err := b.tokens.issue(ident.id, ident.email)
		if err != nil {
			return nil, err
		}
		b.session = session
		out.Session = copySession(session)

		return b.event(authstate.SessionEventSignedIn, session), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignOut ends the client session. Signing out without a session is a no-op.
func (b *Backend) SignOut(ctx context.Context) error {
	return b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if err := b.faults[OpSignOut]; err != nil {
			return nil, err
		}
		if b.session == nil {
			return nil, nil
		}
		b.session = nil
		return b.event(authstate.SessionEventSignedOut, nil), nil
	})
}

// CurrentSession validates the access token of the held session. An expired
// session is dropped and reported to subscribers.
func (b *Backend) CurrentSession(ctx context.Context) (*authstate.Session, error) {
	var out *authstate.Session
	err := b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if err := b.faults[OpCurrentSession]; err != nil {
			return nil, err
		}
		if b.session == nil {
			return nil, nil
		}

		if _, err := b.tokens.parse(b.session.AccessToken); err != nil {
			if goerrors.Is(err, ErrTokenExpired) {
				b.session = nil
				return b.event(authstate.SessionEventExpired, nil), nil
			}
			return nil, err
		}

		out = copySession(b.session)
		return nil, nil
	})
	return out, err
}

// Refresh issues a new access token for the held session.
func (b *Backend) Refresh(ctx context.Context) (*authstate.Session, error) {
	var out *authstate.Session
	err := b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if b.session == nil {
			return nil, ErrNoSession
		}
		session, err := b.tokens.issue(b.session.UserID, b.session.Email)
		if err != nil {
			return nil, err
		}
		b.session = session
		out = copySession(session)
		return b.event(authstate.SessionEventTokenRefreshed, session), nil
	})
	return out, err
}

// Expire drops the held session as if its refresh token had lapsed.
func (b *Backend) Expire(ctx context.Context) error {
	return b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if b.session == nil {
			return nil, ErrNoSession
		}
		b.session = nil
		return b.event(authstate.SessionEventExpired, nil), nil
	})
}

// Revoke ends the session of userID from outside the client, for example
// from another device or an admin action.
func (b *Backend) Revoke(ctx context.Context, userID string) error {
	return b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if _, ok := b.byID[userID]; !ok {
			return nil, ErrIdentityNotFound
		}
		if b.session == nil || b.session.UserID != userID {
			return nil, nil
		}
		b.session = nil
		return b.event(authstate.SessionEventSignedOut, nil), nil
	})
}

// UpdateEmail changes the email of an identity. When it is the signed in
// user a fresh session is issued and announced as a user update.
func (b *Backend) UpdateEmail(ctx context.Context, userID, email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email")
	}

	return b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		ident, ok := b.byID[userID]
		if !ok {
			return nil, ErrIdentityNotFound
		}

		key := normalizeEmail(email)
		if other, taken := b.byEmail[key]; taken && other.id != userID {
			return nil, ErrEmailTaken
		}

		delete(b.byEmail, normalizeEmail(ident.email))
		ident.email = strings.TrimSpace(email)
		b.byEmail[key] = ident

		if b.session == nil || b.session.UserID != userID {
			return nil, nil
		}

		session, err := b.tokens.issue(ident.id, ident.email)
		if err != nil {
			return nil, err
		}
		b.session = session
		return b.event(authstate.SessionEventUserUpdated, session), nil
	})
}

// DeleteIdentity removes an identity. A session held by it is ended.
func (b *Backend) DeleteIdentity(ctx context.Context, userID string) error {
	return b.mutate(ctx, func() (*authstate.SessionEvent, error) {
		if err := b.faults[OpDeleteIdentity]; err != nil {
			return nil, err
		}

		ident, ok := b.byID[userID]
		if !ok {
			return nil, ErrIdentityNotFound
		}
		delete(b.byID, userID)
		delete(b.byEmail, normalizeEmail(ident.email))
		b.logger.Info("identity %s deleted", userID)

		if b.session == nil || b.session.UserID != userID {
			return nil, nil
		}
		b.session = nil
		return b.event(authstate.SessionEventSignedOut, nil), nil
	})
}

// HasIdentity reports whether an identity exists for userID.
func (b *Backend) HasIdentity(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.byID[userID]
	return ok
}

// Subscribe returns a new subscription. Notifications are delivered in the
// order the changes were applied; a subscriber that stops reading without
// unsubscribing stalls further changes.
func (b *Backend) Subscribe() authstate.SessionSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subID++
	sub := &subscription{
		id:      b.subID,
		events:  make(chan authstate.SessionEvent, b.buffer),
		done:    make(chan struct{}),
		backend: b,
	}
	b.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of active subscriptions.
func (b *Backend) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// mutate runs fn under the state lock and delivers the event it returns to
// every subscriber before the next mutation can start.
func (b *Backend) mutate(ctx context.Context, fn func() (*authstate.SessionEvent, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	evt, err := fn()
	var subs []*subscription
	if evt != nil {
		subs = make([]*subscription, 0, len(b.subs))
		for _, s := range b.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.send(*evt)
	}
	return err
}

func (b *Backend) event(kind authstate.SessionEventType, session *authstate.Session) *authstate.SessionEvent {
	return &authstate.SessionEvent{
		Type:       kind,
		Session:    copySession(session),
		OccurredAt: b.now(),
	}
}

func (b *Backend) newID(email string) (string, error) {
	if !b.hashIDs {
		return uuid.NewString(), nil
	}
	id, err := hashid.NewUUID(email)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive identity id")
	}
	return id.String(), nil
}

func (b *Backend) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

type subscription struct {
	id      uint64
	events  chan authstate.SessionEvent
	done    chan struct{}
	once    sync.Once
	backend *Backend
}

func (s *subscription) Events() <-chan authstate.SessionEvent {
	return s.events
}

// Unsubscribe stops delivery. The events channel is left open so a reader
// blocked on it is released through its own context instead.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.backend.unsubscribe(s.id)
	})
}

func (s *subscription) send(evt authstate.SessionEvent) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}

func validateCredentials(email, password string) error {
	err := validation.Errors{
		"email":    validation.Validate(email, validation.Required, is.Email),
		"password": validation.Validate(password, validation.Required, validation.Length(MinPasswordLength, 72)),
	}.Filter()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up request")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copySession(s *authstate.Session) *authstate.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
