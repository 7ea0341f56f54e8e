package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meal-assistant/internal/llm"

	"google.golang.org/api/googleapi"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	KindRateLimited   Kind = "RateLimited"
	KindQuotaExceeded Kind = "QuotaExceeded"
	KindAuthFailed    Kind = "AuthFailed"
	KindUnknown       Kind = "Unknown"
)

// Error is a classified generation failure. Each kind maps to a distinct
// user-actionable message; callers surface the kind, never a stack trace.
type Error struct {
	Kind      Kind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Guidance returns the user-facing message for the failure kind.
func (e *Error) Guidance() string {
	switch e.Kind {
	case KindRateLimited:
		return "The meal service is receiving too many requests. Wait a moment and try again."
	case KindQuotaExceeded:
		return "The meal service's usage quota is exhausted for now. Try again later or check your plan limits."
	case KindAuthFailed:
		return "The meal service rejected the configured API key. Check the API key settings."
	default:
		if e.Retryable {
			return "The meal service took too long to respond. Try again."
		}
		return "Something went wrong generating content. Try again."
	}
}

// AsError unwraps a classified Error from an error chain.
func AsError(err error) (*Error, bool) {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr, true
	}
	return nil, false
}

// classify wraps a raw collaborator error in a kinded Error. Timeouts are
// marked retryable and kept distinct from outright rejection.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindUnknown, Retryable: true, Err: err}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &Error{Kind: kindFromStatus(gerr.Code, gerr.Message), Err: err}
	}
	var serr *llm.StatusError
	if errors.As(err, &serr) {
		return &Error{Kind: kindFromStatus(serr.StatusCode, serr.Body), Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

func kindFromStatus(status int, body string) Kind {
	lower := strings.ToLower(body)
	switch status {
	case 429:
		if strings.Contains(lower, "quota") {
			return KindQuotaExceeded
		}
		return KindRateLimited
	case 401:
		return KindAuthFailed
	case 403:
		if strings.Contains(lower, "quota") {
			return KindQuotaExceeded
		}
		return KindAuthFailed
	default:
		return KindUnknown
	}
}
