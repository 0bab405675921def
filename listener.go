package authstate

import (
	"context"
	"sync"
	"time"
)

// SessionListener drives state transitions from session change
// notifications that happen outside of an explicit controller call.
type SessionListener struct {
	backend      IdentityBackend
	resolver     *ProfileResolver
	state        *StateStore
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	hook         func(*Session)

	mu      sync.Mutex
	started bool
}

func NewSessionListener(backend IdentityBackend, resolver *ProfileResolver, state *StateStore, opts ...Option) *SessionListener {
	o := buildOptions(opts...)
	return &SessionListener{
		backend:      backend,
		resolver:     resolver,
		state:        state,
		logger:       o.logger,
		activitySink: o.activitySink,
		now:          o.now,
		hook:         o.sessionHook,
	}
}

// ListenerHandle owns the backend subscription. Stop must be called on
// teardown.
type ListenerHandle struct {
	sub      SessionSubscription
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
	once     sync.Once

	mu      sync.RWMutex
	stopped bool
}

// Start subscribes to the backend. A listener subscribes once for its
// lifetime, a second call returns ErrListenerStarted.
func (l *SessionListener) Start(ctx context.Context) (*ListenerHandle, error) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil, ErrListenerStarted
	}
	l.started = true
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	h := &ListenerHandle{
		sub:    l.backend.Subscribe(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go l.run(ctx, h)

	return h, nil
}

func (l *SessionListener) run(ctx context.Context, h *ListenerHandle) {
	defer close(h.done)

	events := h.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.handle(ctx, h, evt)
		}
	}
}

// handle takes the ticket on arrival so the most recently arrived
// notification wins, whichever resolution finishes last.
func (l *SessionListener) handle(ctx context.Context, h *ListenerHandle, evt SessionEvent) {
	ticket := l.state.Begin(OriginListener)

	if l.hook != nil {
		l.hook(evt.Session)
	}

	if evt.Session == nil {
		from := l.state.Current().Kind
		if h.commit(l.state, ticket, SignedOut(), l.logger) {
			l.record(ctx, evt, "", from, StateSignedOut)
		}
		return
	}

	session := *evt.Session
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()

		res := l.resolver.Resolve(ctx, session.UserID, session.Email)
		if ctx.Err() != nil {
			return
		}

		from := l.state.Current().Kind
		if h.commit(l.state, ticket, res.State(), l.logger) {
			l.record(ctx, evt, session.UserID, from, StateSignedIn)
		}
	}()
}

func (l *SessionListener) record(ctx context.Context, evt SessionEvent, userID string, from, to StateKind) {
	recordActivity(ctx, l.activitySink, l.logger, l.now, ActivityEvent{
		EventType: ActivityEventSessionChanged,
		UserID:    userID,
		FromState: from,
		ToState:   to,
		Metadata:  map[string]any{"session_event": string(evt.Type)},
	})
}

// commit writes unless the handle has been stopped.
func (h *ListenerHandle) commit(state *StateStore, t Ticket, next UserState, logger Logger) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return false
	}

	ok, err := state.Commit(t, next)
	if err != nil {
		logger.Error("listener commit failed: %v", err)
		return false
	}
	return ok
}

// Stop unsubscribes exactly once and waits for in-flight resolutions. No
// state write happens after Stop returns.
func (h *ListenerHandle) Stop() {
	h.once.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		h.cancel()
		h.sub.Unsubscribe()
		<-h.done
		h.inflight.Wait()
	})
}

// Done is closed once the event loop has exited.
func (h *ListenerHandle) Done() <-chan struct{} {
	return h.done
}
