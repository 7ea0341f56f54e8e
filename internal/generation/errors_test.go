package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"meal-assistant/internal/llm"

	"google.golang.org/api/googleapi"
)

func TestClassifyKinds(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{
			name:     "gemini rate limit",
			err:      &googleapi.Error{Code: 429, Message: "Resource has been exhausted"},
			wantKind: KindRateLimited,
		},
		{
			name:     "gemini quota",
			err:      &googleapi.Error{Code: 429, Message: "You exceeded your current quota"},
			wantKind: KindQuotaExceeded,
		},
		{
			name:     "gemini bad key",
			err:      &googleapi.Error{Code: 401, Message: "API key not valid"},
			wantKind: KindAuthFailed,
		},
		{
			name:     "groq rate limit",
			err:      &llm.StatusError{StatusCode: 429, Body: "rate limit reached"},
			wantKind: KindRateLimited,
		},
		{
			name:     "groq forbidden quota",
			err:      &llm.StatusError{StatusCode: 403, Body: "monthly quota exhausted"},
			wantKind: KindQuotaExceeded,
		},
		{
			name:     "groq forbidden",
			err:      &llm.StatusError{StatusCode: 403, Body: "forbidden"},
			wantKind: KindAuthFailed,
		},
		{
			name:      "timeout",
			err:       fmt.Errorf("request failed: %w", context.DeadlineExceeded),
			wantKind:  KindUnknown,
			retryable: true,
		},
		{
			name:     "plain error",
			err:      errors.New("connection reset"),
			wantKind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			genErr, ok := AsError(classified)
			if !ok {
				t.Fatalf("classify returned unclassified error: %v", classified)
			}
			if genErr.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", genErr.Kind, tt.wantKind)
			}
			if genErr.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", genErr.Retryable, tt.retryable)
			}
			if !errors.Is(classified, tt.err) && !errors.Is(classified, context.DeadlineExceeded) {
				// Unwrap must reach the original cause.
				if genErr.Unwrap() == nil {
					t.Error("classified error lost its cause")
				}
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("classify(nil) must be nil")
	}
}

func TestClassifyAlreadyClassified(t *testing.T) {
	orig := &Error{Kind: KindRateLimited, Err: errors.New("x")}
	if got := classify(orig); got != orig {
		t.Fatalf("classify rewrapped an already classified error: %v", got)
	}
}

func TestGuidanceIsKindSpecific(t *testing.T) {
	kinds := []Kind{KindRateLimited, KindQuotaExceeded, KindAuthFailed, KindUnknown}
	seen := make(map[string]Kind)
	for _, k := range kinds {
		e := &Error{Kind: k, Err: errors.New("x")}
		msg := e.Guidance()
		if msg == "" {
			t.Errorf("empty guidance for kind %q", k)
		}
		if prev, dup := seen[msg]; dup {
			t.Errorf("kinds %q and %q share guidance %q", prev, k, msg)
		}
		seen[msg] = k
	}

	retry := &Error{Kind: KindUnknown, Retryable: true, Err: context.DeadlineExceeded}
	if retry.Guidance() == (&Error{Kind: KindUnknown}).Guidance() {
		t.Error("timeout guidance should differ from generic failure")
	}
}
