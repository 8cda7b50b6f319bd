package oauth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/revittco/cshub/internal/config"
)

// Installer is the CSRF check in front of Manager.HandleInstall.
type Installer struct {
	manager    *Manager
	states     StateStore
	enforce    bool
	installURL string
}

// NewInstaller creates an Installer. With enforce false the callback
// accepts any state, including none.
func NewInstaller(m *Manager, states StateStore, installURL string, enforce bool) *Installer {
	return &Installer{manager: m, states: states, enforce: enforce, installURL: installURL}
}

// Enforced reports whether callbacks must carry a valid state.
func (in *Installer) Enforced() bool { return in.enforce }

// AuthorizeURL issues a state and returns the install URL carrying it.
func (in *Installer) AuthorizeURL(ctx context.Context) (string, error) {
	if in.installURL == "" {
		return "", config.Invalidf("install url not configured")
	}
	u, err := url.Parse(in.installURL)
	if err != nil {
		return "", config.Invalidf("install url: %v", err)
	}
	state, err := in.states.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("create oauth state: %w", err)
	}
	q := u.Query()
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Callback checks state and completes the installation.
func (in *Installer) Callback(ctx context.Context, code, state string) (*Installation, error) {
	if in.enforce {
		ok, err := in.states.Consume(ctx, state)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidState
		}
	}
	return in.manager.HandleInstall(ctx, code)
}
