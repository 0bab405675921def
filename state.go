package authstate

import (
	"context"
	"sync"
	"time"
)

// StateKind identifies the active variant of UserState.
type StateKind string

const (
	StateSignedOut      StateKind = "signed_out"
	StateAuthenticating StateKind = "authenticating"
	StateSignedIn       StateKind = "signed_in"
)

func (k StateKind) valid() bool {
	switch k {
	case StateSignedOut, StateAuthenticating, StateSignedIn:
		return true
	}
	return false
}

// Origin names the writer that produced a state.
type Origin string

const (
	OriginInit       Origin = "init"
	OriginController Origin = "controller"
	OriginListener   Origin = "listener"
	OriginBootstrap  Origin = "bootstrap"
)

// UserState is the current user as seen by the application. Profile is only
// set when Kind is StateSignedIn. Fallback marks a synthesized profile.
type UserState struct {
	Kind      StateKind
	Profile   *Profile
	Fallback  bool
	Seq       uint64
	Origin    Origin
	ChangedAt time.Time
}

// SignedOut returns a state without session or profile.
func SignedOut() UserState {
	return UserState{Kind: StateSignedOut}
}

// Authenticating returns the state used while an explicit operation is in flight.
func Authenticating() UserState {
	return UserState{Kind: StateAuthenticating}
}

// SignedIn returns the state holding the resolved profile.
func SignedIn(profile *Profile) UserState {
	return UserState{Kind: StateSignedIn, Profile: profile}
}

func (s UserState) IsSignedIn() bool {
	return s.Kind == StateSignedIn && s.Profile != nil
}

// UserID returns the signed in user id or an empty string.
func (s UserState) UserID() string {
	if !s.IsSignedIn() {
		return ""
	}
	return s.Profile.ID
}

func (s UserState) clone() UserState {
	s.Profile = s.Profile.Clone()
	return s
}

// Ticket is a reserved slot in the commit sequence. A commit made with a
// ticket older than the last committed one is discarded.
type Ticket struct {
	Seq    uint64
	Origin Origin
}

// StateStats are simple counters for diagnostics.
type StateStats struct {
	Accepted  uint64 `json:"accepted"`
	Discarded uint64 `json:"discarded"`
	Dropped   uint64 `json:"dropped"`
	Watchers  int    `json:"watchers"`
}

// StateStore holds the CurrentUserState. It has exactly two writers, the
// AuthController and the SessionListener, and is shared by injection.
type StateStore struct {
	mu        sync.RWMutex
	current   UserState
	next      uint64
	committed uint64
	watchers  map[uint64]*watcher
	watcherID uint64
	now       func() time.Time
	logger    Logger
	buffer    int
	fenced    string

	accepted  uint64
	discarded uint64
	dropped   uint64
}

// NewStateStore returns a store in the SignedOut state.
func NewStateStore(opts ...Option) *StateStore {
	o := buildOptions(opts...)
	initial := SignedOut()
	initial.Origin = OriginInit
	initial.ChangedAt = o.now()

	return &StateStore{
		current:  initial,
		watchers: make(map[uint64]*watcher),
		now:      o.now,
		logger:   o.logger,
		buffer:   o.watchBuffer,
	}
}

// Current returns a snapshot of the state.
func (s *StateStore) Current() UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Begin reserves the next sequence number for a state setting attempt.
func (s *StateStore) Begin(origin Origin) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return Ticket{Seq: s.next, Origin: origin}
}

// Commit sets the state unless a newer ticket has already been committed, in
// which case the write is discarded and false is returned.
func (s *StateStore) Commit(t Ticket, next UserState) (bool, error) {
	if err := validateState(next); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Seq < s.committed {
		s.discarded++
		s.logger.Debug("discarding stale %s write from %s (seq %d < %d)", next.Kind, t.Origin, t.Seq, s.committed)
		return false, nil
	}

	if s.fenced != "" && t.Origin == OriginListener && next.Kind == StateSignedIn && next.Profile.ID == s.fenced {
		s.discarded++
		s.logger.Debug("discarding listener sign in for rejected user %s (seq %d)", s.fenced, t.Seq)
		return false, nil
	}

	s.apply(t, next)
	return true, nil
}

// Reject signs the user out with a sequence number newer than any ticket
// issued so far and fences that user: session notifications signing the same
// user back in are discarded until the backend confirms a sign out or an
// explicit operation signs someone in.
func (s *StateStore) Reject(origin Origin, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.fenced = userID
	s.apply(Ticket{Seq: s.next, Origin: origin}, SignedOut())
}

// apply must be called with mu held.
func (s *StateStore) apply(t Ticket, next UserState) {
	next = next.clone()
	if next.Fallback && s.current.IsSignedIn() && !s.current.Fallback && s.current.Profile.ID == next.Profile.ID {
		// a synthesized profile never replaces a stored one of the same user
		next.Profile = s.current.Profile.Clone()
		next.Fallback = false
	}
	next.Seq = t.Seq
	next.Origin = t.Origin
	next.ChangedAt = s.now()

	switch {
	case next.Kind == StateSignedOut && t.Origin == OriginListener:
		s.fenced = ""
	case next.Kind == StateSignedIn && t.Origin != OriginListener:
		s.fenced = ""
	}

	from := s.current.Kind
	s.current = next
	s.committed = t.Seq
	s.accepted++

	s.logger.Debug("state %s -> %s (seq %d, %s)", from, next.Kind, t.Seq, t.Origin)

	for _, w := range s.watchers {
		if w.push(next.clone()) {
			s.dropped++
		}
	}
}

// ReplaceProfile swaps the profile held by the SignedIn state without taking
// a new sequence number, so it never overrides a concurrent sign out.
func (s *StateStore) ReplaceProfile(profile *Profile) (bool, error) {
	if profile == nil || profile.ID == "" {
		return false, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"reason": "profile is empty",
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsSignedIn() {
		return false, ErrNotSignedIn
	}
	if s.current.Profile.ID != profile.ID {
		return false, ErrProfileMismatch.Clone().WithMetadata(map[string]any{
			"user_id":    s.current.Profile.ID,
			"profile_id": profile.ID,
		})
	}

	s.swapProfile(profile)
	return true, nil
}

// UpgradeProfile replaces a synthesized profile with a stored one for the
// same signed in user. It is a no-op in any other state.
func (s *StateStore) UpgradeProfile(profile *Profile) bool {
	if profile == nil || profile.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.current.IsSignedIn() || !s.current.Fallback || s.current.Profile.ID != profile.ID {
		return false
	}

	s.swapProfile(profile)
	return true
}

func (s *StateStore) swapProfile(profile *Profile) {
	next := s.current
	next.Profile = profile.Clone()
	next.Fallback = false
	next.ChangedAt = s.now()
	s.current = next
	s.accepted++

	for _, w := range s.watchers {
		if w.push(next.clone()) {
			s.dropped++
		}
	}
}

// Watch registers an observer notified on every accepted commit. When the
// buffer is full the oldest pending state is dropped so the latest one is
// always delivered. cancel releases the observer and closes the channel.
func (s *StateStore) Watch(buffer int) (<-chan UserState, func()) {
	if buffer <= 0 {
		buffer = s.buffer
	}
	if buffer <= 0 {
		buffer = 1
	}

	w := &watcher{ch: make(chan UserState, buffer)}

	s.mu.Lock()
	s.watcherID++
	id := s.watcherID
	s.watchers[id] = w
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			close(w.ch)
			s.mu.Unlock()
		})
	}

	return w.ch, cancel
}

// Wait blocks until the state satisfies pred or ctx is done.
func (s *StateStore) Wait(ctx context.Context, pred func(UserState) bool) (UserState, error) {
	ch, cancel := s.Watch(0)
	defer cancel()

	if current := s.Current(); pred(current) {
		return current, nil
	}

	for {
		select {
		case <-ctx.Done():
			return s.Current(), ctx.Err()
		case st, ok := <-ch:
			if !ok {
				return s.Current(), context.Canceled
			}
			if pred(st) {
				return st, nil
			}
		}
	}
}

// Stats returns commit counters.
func (s *StateStore) Stats() StateStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateStats{
		Accepted:  s.accepted,
		Discarded: s.discarded,
		Dropped:   s.dropped,
		Watchers:  len(s.watchers),
	}
}

func validateState(st UserState) error {
	if !st.Kind.valid() {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"to":     st.Kind,
			"reason": "unknown state",
		})
	}

	if st.Kind == StateSignedIn {
		if st.Profile == nil || st.Profile.ID == "" {
			return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
				"to":     st.Kind,
				"reason": "signed in state requires a profile",
			})
		}
		return nil
	}

	if st.Profile != nil || st.Fallback {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"to":     st.Kind,
			"reason": "profile is only held while signed in",
		})
	}

	return nil
}

type watcher struct {
	ch chan UserState
}

// push never blocks. It reports whether an older state had to be dropped.
func (w *watcher) push(st UserState) bool {
	dropped := false
	for {
		select {
		case w.ch <- st:
			return dropped
		default:
		}
		select {
		case <-w.ch:
			dropped = true
		default:
		}
	}
}
