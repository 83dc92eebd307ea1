// Package errs holds the error taxonomy shared by the fetcher, the LLM
// client and the run controllers.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrPrivateProfile     = errors.New("profile content is not accessible")
	ErrRateLimited        = errors.New("rate limited")
	ErrAuth               = errors.New("authentication failed")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNetwork            = errors.New("network failure")
	ErrUnparsableResponse = errors.New("unparsable model response")
	ErrNoContent          = errors.New("no content available")
	ErrConfig             = errors.New("invalid configuration")

	// ErrPromptTooLarge is an invalid request the caller can recover from by
	// sending a smaller prompt.
	ErrPromptTooLarge = fmt.Errorf("%w: prompt exceeds model context", ErrInvalidRequest)
)

// RateLimitError is returned when an upstream throttles us. RetryAfter is
// zero when the upstream gave no hint.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Service)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Recoverable reports whether a caller may back off and try again.
func Recoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// Exit codes returned by the CLI.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfig      = 2
	ExitNotFound    = 3
	ExitPrivate     = 4
	ExitRateLimited = 5
	ExitRejected    = 6
	ExitNetwork     = 7
	ExitUnparsable  = 8
	ExitNoContent   = 9
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrUserNotFound):
		return ExitNotFound
	case errors.Is(err, ErrPrivateProfile):
		return ExitPrivate
	case errors.Is(err, ErrRateLimited):
		return ExitRateLimited
	case errors.Is(err, ErrAuth), errors.Is(err, ErrInvalidRequest):
		return ExitRejected
	case errors.Is(err, ErrNetwork):
		return ExitNetwork
	case errors.Is(err, ErrUnparsableResponse):
		return ExitUnparsable
	case errors.Is(err, ErrNoContent):
		return ExitNoContent
	default:
		return ExitFailure
	}
}

// HTTPStatus maps an error to the status the API server replies with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPrivateProfile):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoContent), errors.Is(err, ErrUnparsableResponse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var contextLengthMarkers = []string{
	"context_length",
	"context length",
	"maximum context",
	"too many tokens",
	"prompt is too long",
	"request too large",
}

// FromStatus classifies a non-2xx upstream response. body is the upstream
// error message, used for the error text and for spotting context overflow.
func FromStatus(service string, code int, body string, retryAfter time.Duration) error {
	msg := strings.TrimSpace(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	switch {
	case code == http.StatusTooManyRequests:
		return &RateLimitError{Service: service, RetryAfter: retryAfter}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s %d: %s: %w", service, code, msg, ErrAuth)
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge ||
		code == http.StatusNotFound || code == http.StatusUnprocessableEntity:
		if isContextOverflow(msg) || code == http.StatusRequestEntityTooLarge {
			return fmt.Errorf("%s %d: %s: %w", service, code, msg, ErrPromptTooLarge)
		}
		return fmt.Errorf("%s %d: %s: %w", service, code, msg, ErrInvalidRequest)
	case code >= 500:
		return fmt.Errorf("%s %d: %s: %w", service, code, msg, ErrNetwork)
	default:
		return fmt.Errorf("%s unexpected status %d: %s", service, code, msg)
	}
}

func isContextOverflow(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range contextLengthMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Kind names the error class for machine-readable payloads.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrPrivateProfile):
		return "private_profile"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrPromptTooLarge):
		return "prompt_too_large"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrUnparsableResponse):
		return "unparsable_response"
	case errors.Is(err, ErrNoContent):
		return "no_content"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
