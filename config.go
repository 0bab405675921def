package authstate

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	DefaultFallbackName = "user"
	DefaultWatchBuffer  = 16
)

// Config holds the runtime settings of the session core. Backend specific
// settings (DSN, token signing) are consumed by the demo command and the
// memory backend.
type Config struct {
	FallbackName           string        `env:"AUTHSTATE_FALLBACK_NAME" envDefault:"user"`
	StrictSignOut          bool          `env:"AUTHSTATE_STRICT_SIGN_OUT" envDefault:"false"`
	CompensateRegistration bool          `env:"AUTHSTATE_COMPENSATE_REGISTRATION" envDefault:"false"`
	WatchBuffer            int           `env:"AUTHSTATE_WATCH_BUFFER" envDefault:"16"`
	DatabaseDSN            string        `env:"AUTHSTATE_DATABASE_DSN" envDefault:"file::memory:?cache=shared"`
	SessionTTL             time.Duration `env:"AUTHSTATE_SESSION_TTL" envDefault:"1h"`
	SigningKey             string        `env:"AUTHSTATE_SIGNING_KEY"`
	Issuer                 string        `env:"AUTHSTATE_ISSUER" envDefault:"go-authstate"`
}

// DefaultConfig returns the values used when nothing is set in the environment.
func DefaultConfig() Config {
	return Config{
		FallbackName: DefaultFallbackName,
		WatchBuffer:  DefaultWatchBuffer,
		DatabaseDSN:  "file::memory:?cache=shared",
		SessionTTL:   time.Hour,
		Issuer:       "go-authstate",
	}
}

// LoadConfigFromEnv parses the AUTHSTATE_* variables and validates the result.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryValidation, "parse env").
			WithTextCode(TextCodeInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config values.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.FallbackName, validation.Required, validation.Length(1, 64)),
		validation.Field(&c.WatchBuffer, validation.Required, validation.Min(1)),
		validation.Field(&c.SessionTTL, validation.Required),
		validation.Field(&c.Issuer, validation.Required),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid config").
			WithTextCode(TextCodeInvalidConfig)
	}
	return nil
}

// Options translates the config into component options.
func (c Config) Options() []Option {
	return []Option{
		WithFallbackName(c.FallbackName),
		WithStrictSignOut(c.StrictSignOut),
		WithRegistrationCompensation(c.CompensateRegistration),
		WithWatchBuffer(c.WatchBuffer),
	}
}
