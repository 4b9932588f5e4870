package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoRefreshToken means the session has no refresh token to present.
// This is terminal for the session: the client clears it and forces logout.
var ErrNoRefreshToken = errors.New("no refresh token in session")

// APIError is a response from the partners API with status >= 400.
// Message carries the backend-provided text verbatim when available.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("partners api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("partners api: status %d: %s", e.StatusCode, e.Message)
}

// RefreshError means the token refresh itself failed. By the time it
// propagates, the session has already been cleared and revocation
// notifications sent, so callers only need to surface the login redirect.
type RefreshError struct {
	Cause error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Cause)
}

func (e *RefreshError) Unwrap() error {
	return e.Cause
}

// IsRefreshError reports whether err is a refresh failure.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// tokenKeywords mark a 403 body as a credential problem rather than a
// plain permission denial.
var tokenKeywords = []string{"token", "jwt", "expired", "invalid"}

// isAuthFailure reports whether a response status and backend message
// indicate a failure that a token refresh could recover from. 401 always
// qualifies; 403 only when the message text points at the credential.
func isAuthFailure(statusCode int, message string) bool {
	if statusCode == 401 {
		return true
	}
	if statusCode != 403 {
		return false
	}
	m := strings.ToLower(message)
	for _, kw := range tokenKeywords {
		if strings.Contains(m, kw) {
			return true
		}
	}
	return false
}

// backendMessage extracts the human-readable message from an error body.
// The partners API uses both "message" and "error" envelopes.
func backendMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
