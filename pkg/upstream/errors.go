package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// AuthorizationError reports an upstream 401/403: the session credential was
// rejected. The gateway reacts with its refresh-and-retry-once policy.
type AuthorizationError struct {
	Status  int
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("upstream rejected credential (HTTP %d): %s", e.Status, e.Message)
}

// RetryableError reports a transient upstream failure (429, 5xx, or a
// network-level error). The client retries these internally with a bounded
// backoff before surfacing them.
type RetryableError struct {
	Status  int // 0 for network errors
	Message string
	Err     error
}

func (e *RetryableError) Error() string {
	if e.Status == 0 {
		return "upstream connection error: " + e.Message
	}
	return fmt.Sprintf("upstream transient error (HTTP %d): %s", e.Status, e.Message)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// RequestError reports a non-retryable upstream 4xx caused by the request
// itself. Passed through to the caller without touching the credential.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("upstream rejected request (HTTP %d): %s", e.Status, e.Message)
}

// IsAuthorization reports whether err is an upstream authorization failure.
func IsAuthorization(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// mapHTTPError converts a non-2xx upstream response into the matching error
// kind, pulling a descriptive message out of the body when one is present.
func mapHTTPError(resp *http.Response) error {
	message := extractErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if message == "" {
			message = "credential rejected"
		}
		return &AuthorizationError{Status: resp.StatusCode, Message: message}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		if message == "" {
			message = "upstream unavailable"
		}
		return &RetryableError{Status: resp.StatusCode, Message: message}

	default:
		if message == "" {
			message = fmt.Sprintf("unexpected upstream status %d", resp.StatusCode)
		}
		return &RequestError{Status: resp.StatusCode, Message: message}
	}
}

// extractErrorMessage tries to parse the response body as an upstream error
// payload and returns the message if found.
func extractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var errResp chatErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return ""
}
