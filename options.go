package authstate

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-authstate"

// Option customizes the components built by this package.
type Option func(*options)

type options struct {
	logger        Logger
	now           func() time.Time
	activitySink  ActivitySink
	tracer        trace.Tracer
	fallbackName  string
	strictSignOut bool
	compensate    bool
	sessionHook   func(*Session)
	watchBuffer   int
}

func defaultOptions() options {
	return options{
		logger:       defLogger{},
		now:          time.Now,
		activitySink: noopActivitySink{},
		tracer:       otel.Tracer(instrumentationName),
		fallbackName: DefaultFallbackName,
		watchBuffer:  DefaultWatchBuffer,
	}
}

func buildOptions(opts ...Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish auth events.
func WithActivitySink(sink ActivitySink) Option {
	return func(o *options) {
		o.activitySink = normalizeActivitySink(sink)
	}
}

// WithTracer overrides the OpenTelemetry tracer, the global provider is used
// otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithFallbackName sets the display name used for a fallback profile when the
// email has no local part.
func WithFallbackName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.fallbackName = name
		}
	}
}

// WithStrictSignOut keeps the signed in state when the remote sign out fails.
func WithStrictSignOut(strict bool) Option {
	return func(o *options) {
		o.strictSignOut = strict
	}
}

// WithRegistrationCompensation deletes the identity created by a sign up
// whose profile insert failed. The backend must implement IdentityRemover.
func WithRegistrationCompensation(enabled bool) Option {
	return func(o *options) {
		o.compensate = enabled
	}
}

// WithSessionChangeHook registers a callback invoked by the SessionListener
// for every notification, with nil when the session went away.
func WithSessionChangeHook(hook func(*Session)) Option {
	return func(o *options) {
		o.sessionHook = hook
	}
}

// WithWatchBuffer sets the default buffer size for state watchers.
func WithWatchBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.watchBuffer = size
		}
	}
}
