package routing

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
	Jitter          float64 // fraction of the delay, applied both ways
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
	Jitter:          0.2,
}

// Rule maps an error signature to a decision. Rules are evaluated in order
// and the first match wins.
type Rule struct {
	Name     string
	Match    func(err error, apiErr *provider.APIError) bool
	Decision domain.RetryDecision
}

var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// Rules is the classification table.
var Rules = []Rule{
	{
		Name: "canceled",
		Match: func(err error, _ *provider.APIError) bool {
			return errors.Is(err, context.Canceled)
		},
		Decision: domain.Permanent("canceled"),
	},
	{
		Name: "access-token",
		Match: func(err error, apiErr *provider.APIError) bool {
			if apiErr != nil && (apiErr.Code == 190 || apiErr.StatusCode == http.StatusUnauthorized) {
				return true
			}
			return containsAny(err, "invalid oauth access token", "session has expired", "error validating access token")
		},
		Decision: domain.RetryDecision{Kind: domain.DecisionPermanent, Reason: "access token rejected", CredentialScoped: true},
	},
	{
		Name: "permission",
		Match: func(err error, apiErr *provider.APIError) bool {
			if apiErr != nil {
				if apiErr.Code == 10 || (apiErr.Code >= 200 && apiErr.Code <= 299) {
					return true
				}
				if apiErr.Code == 0 && apiErr.StatusCode == http.StatusForbidden {
					return true
				}
			}
			return containsAny(err, "permission", "not authorized", "ownership")
		},
		Decision: domain.Permanent("permission denied"),
	},
	{
		Name: "invalid-parameter",
		Match: func(err error, apiErr *provider.APIError) bool {
			if apiErr != nil && (apiErr.Code == 100 || apiErr.Code == 803 || apiErr.StatusCode == http.StatusNotFound) {
				return true
			}
			return containsAny(err, "invalid parameter", "does not exist")
		},
		Decision: domain.Permanent("invalid parameter"),
	},
	{
		Name: "rate-limit",
		Match: func(err error, apiErr *provider.APIError) bool {
			if apiErr != nil {
				if apiErr.StatusCode == http.StatusTooManyRequests || rateLimitCodes[apiErr.Code] {
					return true
				}
				if apiErr.Code >= 80000 && apiErr.Code <= 80014 {
					return true
				}
			}
			return containsAny(err, "rate limit", "request limit reached", "too many calls", "too many requests")
		},
		Decision: domain.RateLimited("rate limited"),
	},
	{
		Name: "network",
		Match: func(err error, apiErr *provider.APIError) bool {
			if apiErr != nil {
				return false
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				return true
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return true
			}
			return containsAny(err, "connection reset", "connection refused", "broken pipe", "timeout")
		},
		Decision: domain.Transient("network"),
	},
	{
		Name: "platform-transient",
		Match: func(_ error, apiErr *provider.APIError) bool {
			return apiErr != nil && apiErr.IsTransient && apiErr.StatusCode >= 500
		},
		Decision: domain.AmbiguousTransient("platform reported transient 5xx"),
	},
}

// Classify derives a retry decision from err. It holds no state.
func Classify(err error) domain.RetryDecision {
	if err == nil {
		return domain.RetryDecision{}
	}

	apiErr, _ := provider.AsAPIError(err)
	for _, r := range Rules {
		if r.Match(err, apiErr) {
			return r.Decision
		}
	}

	return domain.RetryDecision{
		Kind:         domain.DecisionTransient,
		Reason:       "unclassified",
		Unclassified: true,
	}
}

// Backoff returns the jittered delay before retry number attempt (0-based).
func Backoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter > 0 {
		delay += delay * config.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func containsAny(err error, phrases ...string) bool {
	s := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
