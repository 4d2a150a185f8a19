package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a provider failure. Retry policy is driven entirely by the
// kind, never by matching error message text at call sites.
type Kind string

const (
	// KindNotFound is terminal and represents absence, not failure. Callers
	// treat it as "no data".
	KindNotFound Kind = "not_found"
	// KindRateLimited is retryable with the extended backoff multiplier.
	KindRateLimited Kind = "rate_limited"
	// KindServerError is retryable with the base backoff.
	KindServerError Kind = "server_error"
	// KindNetworkError is retryable with the base backoff.
	KindNetworkError Kind = "network_error"
	// KindUnauthorized triggers key rotation inside the client and never
	// escapes it; a fully rotated pool surfaces KindAuthExhausted instead.
	KindUnauthorized Kind = "unauthorized"
	// KindAuthExhausted is fatal for the whole request: every credential in
	// the pool has been rejected, so no retry can succeed.
	KindAuthExhausted Kind = "auth_exhausted"
	// KindTerminal is any other non-retryable failure.
	KindTerminal Kind = "terminal"
)

// Retryable reports whether a failure of this kind may be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure. Attempts records how much of the
// retry budget was consumed before the error surfaced.
type Error struct {
	Kind     Kind
	Provider string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Provider, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classified wraps err with an explicit kind. Provider decoders use this to
// tag API-level failures (e.g. a rate-limit notice delivered in a 200 body).
func Classified(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// NotFound tags err as absence-of-data.
func NotFound(err error) error { return Classified(KindNotFound, err) }

// RateLimited tags err as a rate-limit failure.
func RateLimited(err error) error { return Classified(KindRateLimited, err) }

// Unauthorized tags err as a credential rejection.
func Unauthorized(err error) error { return Classified(KindUnauthorized, err) }

// KindOf extracts the failure kind from an error chain. Unclassified errors
// are classified from their transport characteristics; anything unrecognized
// defaults to terminal.
func KindOf(err error) Kind {
	if err == nil {
		return KindTerminal
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindNetworkError
		}
	}
	lower := strings.ToLower(err.Error())
	if containsAny(lower, networkMessageTokens) {
		return KindNetworkError
	}
	return KindTerminal
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsExhaustion reports whether err is an exhaustion-class failure: a
// transient failure that survived its retry budget, or a fully rotated key
// pool. The scheduler converts these into a retry-failure outcome.
func IsExhaustion(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindServerError, KindNetworkError, KindAuthExhausted:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code onto the failure taxonomy.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status >= 500:
		return KindServerError
	default:
		return KindTerminal
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var networkMessageTokens = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"server closed idle connection",
	"eof",
}
