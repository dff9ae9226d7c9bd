package reliability

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false}, {400, false}, {401, false}, {404, false},
		{429, true}, {500, true}, {502, true}, {503, true}, {504, true},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second
	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, cap); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want 200ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", got, cap)
	}
}

func TestServiceErrorClassification(t *testing.T) {
	err := ServiceError("elevenlabs", "tts_http", 503, errors.New("boom"))
	var e *ExternalServiceError
	if !errors.As(err, &e) {
		t.Fatalf("errors.As failed for %v", err)
	}
	if !e.Retryable {
		t.Fatalf("503 should classify retryable")
	}
	if !IsExternal(fmt.Errorf("wrapped: %w", err)) {
		t.Fatalf("IsExternal should see through wrapping")
	}
	if IsExternal(errors.New("plain")) {
		t.Fatalf("plain error misclassified as external")
	}
}
