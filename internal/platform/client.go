// Package platform is the HTTP client for the integrated platform's OAuth
// and location APIs. Every call is a single request with no retry; the
// circuit breaker and client timeout are the only guards.
package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/carlmjohnson/requests"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/metrics"
)

const maxErrorBody = 64 << 10

// Client calls the platform API with the integration's credentials.
type Client struct {
	cfg     config.PlatformConfig
	http    *http.Client
	breaker *breakerTransport
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default timeout and breaker wrapped client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New validates the platform registration and builds a client. Missing
// credentials or URLs fail here, before any network call.
func New(cfg config.PlatformConfig, opts ...Option) (*Client, error) {
	if err := checkConfig(cfg); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		var rt http.RoundTripper = http.DefaultTransport
		if !cfg.Breaker.Disabled {
			c.breaker = newBreakerTransport("platform", rt, cfg.Breaker, c.logger)
			rt = c.breaker
		}
		c.http = &http.Client{Timeout: cfg.HTTPTimeout, Transport: rt}
	}
	return c, nil
}

// BreakerState reports the circuit breaker state, or "disabled" when the
// client runs without one.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

func checkConfig(cfg config.PlatformConfig) error {
	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, "base url")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if cfg.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if len(missing) > 0 {
		return config.Invalidf("platform %s not configured", strings.Join(missing, ", "))
	}
	return nil
}

// request starts a builder with the shared base URL, client and headers.
func (c *Client) request(path string) *requests.Builder {
	return requests.
		URL(c.cfg.BaseURL).
		Path(path).
		Client(c.http).
		Accept("application/json").
		Header("Version", c.cfg.APIVersion)
}

// send runs rb, turning non-2xx responses and transport failures into
// *UpstreamError.
func (c *Client) send(ctx context.Context, op string, rb *requests.Builder) error {
	status := 0
	err := rb.
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			if res.StatusCode >= 200 && res.StatusCode < 300 {
				return nil
			}
			body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
			return &UpstreamError{
				Op:     op,
				Status: res.StatusCode,
				Body:   redactBody(strings.TrimSpace(string(body))),
			}
		}).
		Fetch(ctx)

	if ue, ok := IsUpstream(err); ok {
		metrics.UpstreamRequests.WithLabelValues(op, strconv.Itoa(ue.Status)).Inc()
		return ue
	}
	if err != nil {
		if status >= 200 && status < 300 {
			// The response arrived but could not be decoded.
			metrics.UpstreamRequests.WithLabelValues(op, "invalid_body").Inc()
			return &UpstreamError{Op: op, Status: http.StatusBadGateway, Err: err}
		}
		ue := transportError(op, err)
		metrics.UpstreamRequests.WithLabelValues(op, strconv.Itoa(ue.Status)).Inc()
		return ue
	}
	metrics.UpstreamRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	return nil
}

func invalidResponse(op, msg string) error {
	return &UpstreamError{Op: op, Status: http.StatusBadGateway, Err: errors.New(msg)}
}
