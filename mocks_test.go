package authstate_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	authstate "github.com/goliatone/go-authstate"
)

// MockProfileStore implements authstate.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) Get(ctx context.Context, userID string) (*authstate.Profile, error) {
	args := m.Called(ctx, userID)
	profile, _ := args.Get(0).(*authstate.Profile)
	return profile, args.Error(1)
}

func (m *MockProfileStore) Insert(ctx context.Context, profile *authstate.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfileStore) Update(ctx context.Context, userID string, fields authstate.ProfileFields) error {
	args := m.Called(ctx, userID, fields)
	return args.Error(0)
}

// MockIdentityBackend implements authstate.IdentityBackend. Subscribe is not
// mocked, it hands out the embedded stream.
type MockIdentityBackend struct {
	mock.Mock
	stream *fakeStream
}

func (m *MockIdentityBackend) SignIn(ctx context.Context, email, password string) (*authstate.Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*authstate.Session)
	return session, args.Error(1)
}

func (m *MockIdentityBackend) SignUp(ctx context.Context, email, password string) (*authstate.SignUpResult, error) {
	args := m.Called(ctx, email, password)
	result, _ := args.Get(0).(*authstate.SignUpResult)
	return result, args.Error(1)
}

func (m *MockIdentityBackend) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityBackend) CurrentSession(ctx context.Context) (*authstate.Session, error) {
	args := m.Called(ctx)
	session, _ := args.Get(0).(*authstate.Session)
	return session, args.Error(1)
}

func (m *MockIdentityBackend) Subscribe() authstate.SessionSubscription {
	if m.stream == nil {
		m.stream = newFakeStream()
	}
	return m.stream
}

// streamBackend only supports Subscribe, enough for the listener.
type streamBackend struct {
	authstate.IdentityBackend
	stream *fakeStream
}

func (b *streamBackend) Subscribe() authstate.SessionSubscription {
	return b.stream
}

type fakeStream struct {
	events chan authstate.SessionEvent

	mu           sync.Mutex
	unsubscribed int
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan authstate.SessionEvent, 16)}
}

func (f *fakeStream) Events() <-chan authstate.SessionEvent {
	return f.events
}

func (f *fakeStream) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
}

func (f *fakeStream) Unsubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func (f *fakeStream) Emit(session *authstate.Session) {
	kind := authstate.SessionEventSignedIn
	if session == nil {
		kind = authstate.SessionEventSignedOut
	}
	f.events <- authstate.SessionEvent{Type: kind, Session: session}
}

// memProfiles is a map backed ProfileStore. Reads for a gated user block
// until the gate is released or ctx is done.
type memProfiles struct {
	mu        sync.Mutex
	records   map[string]*authstate.Profile
	gates     map[string]chan struct{}
	insertErr error
	updateErr error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{
		records: make(map[string]*authstate.Profile),
		gates:   make(map[string]chan struct{}),
	}
}

func (s *memProfiles) Gate(userID string) func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[userID] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

func (s *memProfiles) Get(ctx context.Context, userID string) (*authstate.Profile, error) {
	s.mu.Lock()
	gate := s.gates[userID]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[userID]
	if !ok {
		return nil, authstate.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (s *memProfiles) Insert(_ context.Context, profile *authstate.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.records[profile.ID]; ok {
		return authstate.ErrProfileExists
	}
	s.records[profile.ID] = profile.Clone()
	return nil
}

func (s *memProfiles) Update(_ context.Context, userID string, fields authstate.ProfileFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	p, ok := s.records[userID]
	if !ok {
		return authstate.ErrProfileNotFound
	}
	fields.Apply(p)
	return nil
}

func (s *memProfiles) Put(profile *authstate.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[profile.ID] = profile.Clone()
}

func (s *memProfiles) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type recordingSink struct {
	mu     sync.Mutex
	events []authstate.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event authstate.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []authstate.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]authstate.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *recordingSink) Last(kind authstate.ActivityEventType) (authstate.ActivityEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType == kind {
			return r.events[i], true
		}
	}
	return authstate.ActivityEvent{}, false
}

func quiet() authstate.Option {
	return authstate.WithLogger(authstate.NopLogger{})
}
