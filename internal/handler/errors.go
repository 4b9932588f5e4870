package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"partner-portal/internal/middleware"
	"partner-portal/internal/observability"
	"partner-portal/internal/upstream"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeProxyError translates upstream client errors into portal
// responses. A RefreshError means the session is already gone; the
// browser gets its cookie cleared and a login redirect hint. Backend
// errors pass through with their status and message verbatim so
// validation failures read the same as they would against the backend
// directly. Anything else is a gateway-side transport problem.
func writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	if upstream.IsRefreshError(err) {
		clearSessionCookie(w)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "Session expired",
			"redirect": middleware.LoginPath,
		})
		return
	}

	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.StatusCode, apiErr.Message)
		return
	}

	observability.FromContext(r.Context()).Error("upstream request failed", "error", err.Error())
	writeError(w, http.StatusBadGateway, "partners api unreachable")
}

// writeProxyResponse relays a successful backend response unchanged.
func writeProxyResponse(w http.ResponseWriter, resp *upstream.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
