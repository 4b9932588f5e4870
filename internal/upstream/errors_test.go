package upstream

import (
	"errors"
	"testing"
)

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		expected bool
	}{
		{"401_always", 401, "", true},
		{"401_with_message", 401, "anything", true},
		{"403_token", 403, "Token malformed", true},
		{"403_jwt", 403, "jwt signature mismatch", true},
		{"403_expired", 403, "Session Expired", true},
		{"403_invalid", 403, "invalid bearer", true},
		{"403_plain", 403, "you shall not pass", false},
		{"403_empty", 403, "", false},
		{"500", 500, "token", false},
		{"200", 200, "token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthFailure(tt.status, tt.message); got != tt.expected {
				t.Errorf("isAuthFailure(%d, %q) = %v, want %v", tt.status, tt.message, got, tt.expected)
			}
		})
	}
}

func TestBackendMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"message_field", `{"message":"bad input"}`, "bad input"},
		{"error_field", `{"error":"nope"}`, "nope"},
		{"message_wins", `{"message":"a","error":"b"}`, "a"},
		{"empty_body", ``, ""},
		{"not_json", `<html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backendMessage([]byte(tt.body)); got != tt.expected {
				t.Errorf("backendMessage(%q) = %q, want %q", tt.body, got, tt.expected)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	withMsg := &APIError{StatusCode: 422, Message: "msrp required"}
	if withMsg.Error() != "partners api: status 422: msrp required" {
		t.Errorf("Unexpected error string: %q", withMsg.Error())
	}

	bare := &APIError{StatusCode: 500}
	if bare.Error() != "partners api: status 500" {
		t.Errorf("Unexpected error string: %q", bare.Error())
	}
}

func TestRefreshError_Unwrap(t *testing.T) {
	err := &RefreshError{Cause: ErrNoRefreshToken}
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Error("Expected RefreshError to unwrap its cause")
	}
	if !IsRefreshError(err) {
		t.Error("Expected IsRefreshError to match")
	}
	if IsRefreshError(errors.New("other")) {
		t.Error("Expected IsRefreshError to reject other errors")
	}
}
