package platform

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/revittco/cshub/internal/config"
	"github.com/revittco/cshub/internal/metrics"
)

var errServerStatus = errors.New("platform server error")

// breakerTransport trips on transport errors and 5xx responses. A 5xx
// response is still handed back to the caller so its body can be reported.
type breakerTransport struct {
	next    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func newBreakerTransport(name string, next http.RoundTripper, cfg config.BreakerConfig, logger *slog.Logger) *breakerTransport {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.BreakerState.WithLabelValues(name).Set(metrics.StateValue(to))
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(0)

	return &breakerTransport{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	return resp, err
}

// State returns the breaker state.
func (t *breakerTransport) State() gobreaker.State {
	return t.breaker.State()
}
