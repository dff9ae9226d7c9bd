package reliability

import (
	"errors"
	"fmt"
	"time"
)

// ExternalServiceError marks a failed or timed-out call to one of the
// external collaborators (LLM, TTS, STT, image generation). It is always
// recovered locally: the session emits a fixed apology and stays alive.
type ExternalServiceError struct {
	Provider  string
	Code      string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ServiceError wraps err as an ExternalServiceError, classifying
// retryability from the HTTP status when one is known (0 if not).
func ServiceError(provider, code string, status int, err error) error {
	return &ExternalServiceError{
		Provider:  provider,
		Code:      code,
		Retryable: status != 0 && IsRetryableHTTPStatus(status),
		Err:       err,
	}
}

// IsExternal reports whether err is an external-service failure.
func IsExternal(err error) bool {
	var e *ExternalServiceError
	return errors.As(err, &e)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
