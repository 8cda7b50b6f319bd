package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid marks configuration errors. They are fatal at startup-of-use
// and never retryable.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError holds all validation failures for a config.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Invalidf returns an error wrapping ErrInvalid.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the settings every command needs. Platform credentials
// are checked separately by the components that use them.
func (c *Config) Validate() error {
	var errs []string

	if err := validateDriver(c.DB.Driver); err != nil {
		errs = append(errs, err.Error())
	}
	if c.DB.DSN == "" {
		errs = append(errs, "db dsn is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	if c.Platform.AgencyTokenTTL <= 0 {
		errs = append(errs, "agency token ttl must be positive")
	}
	if c.Platform.LocationTokenTTL <= 0 {
		errs = append(errs, "location token ttl must be positive")
	}
	if c.Platform.HTTPTimeout <= 0 {
		errs = append(errs, "http timeout must be positive")
	}
	if c.State.TTL <= 0 {
		errs = append(errs, "state ttl must be positive")
	}
	if c.Resolve.Rate <= 0 {
		errs = append(errs, "resolve rate must be positive")
	}
	if c.Gate.Secret != "" && c.Gate.Header == "" {
		errs = append(errs, "internal secret header is required when a secret is set")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateDriver(d string) error {
	switch d {
	case "sqlite", "postgres":
		return nil
	default:
		return fmt.Errorf("invalid db driver %q (must be sqlite or postgres)", d)
	}
}
