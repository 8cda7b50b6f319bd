// Package auth holds the shared-secret gate in front of internal endpoints.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/revittco/cshub/internal/config"
)

// ErrUnauthorized is returned when a request does not carry the shared
// secret.
var ErrUnauthorized = errors.New("unauthorized")

// AuthMode says how the gate treats requests.
type AuthMode int

const (
	// AuthModeDisabled lets every request through. It is selected when no
	// shared secret is configured, for local and dev setups.
	AuthModeDisabled AuthMode = iota
	// AuthModeSharedSecret requires the configured header to equal the
	// secret.
	AuthModeSharedSecret
)

func (m AuthMode) String() string {
	switch m {
	case AuthModeDisabled:
		return "disabled"
	case AuthModeSharedSecret:
		return "shared_secret"
	default:
		return "unknown"
	}
}

// Gate checks the shared-secret header.
type Gate struct {
	mode   AuthMode
	header string
	secret []byte
}

// NewGate builds a gate from cfg. An empty secret yields AuthModeDisabled.
func NewGate(cfg config.GateConfig) *Gate {
	header := cfg.Header
	if header == "" {
		header = "X-Internal-Secret"
	}
	if cfg.Secret == "" {
		return &Gate{mode: AuthModeDisabled, header: header}
	}
	return &Gate{mode: AuthModeSharedSecret, header: header, secret: []byte(cfg.Secret)}
}

// Mode returns the gate mode.
func (g *Gate) Mode() AuthMode { return g.mode }

// Header returns the header name the secret is read from.
func (g *Gate) Header() string { return g.header }

// Check returns ErrUnauthorized unless r may proceed.
func (g *Gate) Check(r *http.Request) error {
	if g.mode == AuthModeDisabled {
		return nil
	}
	got := r.Header.Get(g.header)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), g.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}
