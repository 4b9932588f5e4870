package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"partner-portal/internal/domain"
	"partner-portal/internal/observability"

	"golang.org/x/sync/singleflight"
)

const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
	MePath      = "/auth/me"
)

// SessionNotifier is told when a session is forcibly terminated because
// its refresh token was rejected. The websocket hub and the audit
// publisher both implement it.
type SessionNotifier interface {
	SessionRevoked(ctx context.Context, sessionID, reason string)
}

// Request describes one call against the partners API.
type Request struct {
	Method string
	Path   string // relative to the base URL, e.g. "/products"
	Query  url.Values
	Header http.Header

	// JSON, when non-nil, is marshaled as an application/json body.
	JSON any

	// Body is a raw payload sent as-is. ContentType applies to it; when
	// empty no Content-Type header is set, which keeps multipart bodies
	// intact (the browser-computed boundary survives the proxy hop).
	Body        []byte
	ContentType string
}

// Response is a buffered partners API response with status < 400.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client performs requests against the partners API on behalf of portal
// sessions. It attaches the session's bearer token and transparently
// recovers from expired access tokens: the first request to hit an auth
// failure runs the refresh, concurrent failers wait on that same flight,
// and every original request retries at most once with the new token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      domain.CredentialStore
	refresh    singleflight.Group
	notifiers  []SessionNotifier
}

// NewClient creates a partners API client over the given credential store.
func NewClient(baseURL string, timeout time.Duration, store domain.CredentialStore, notifiers ...SessionNotifier) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		store:     store,
		notifiers: notifiers,
	}
}

// Do performs the request for the given portal session. It returns the
// response on 2xx/3xx, or an *APIError carrying the upstream status and
// message, a *RefreshError after a failed recovery, or a wrapped transport
// error when no response was received.
func (c *Client) Do(ctx context.Context, sessionID string, req Request) (*Response, error) {
	return c.do(ctx, sessionID, req, false)
}

func (c *Client) do(ctx context.Context, sessionID string, req Request, retried bool) (*Response, error) {
	creds, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read session credentials: %w", err)
	}

	resp, err := c.send(ctx, req, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 400 {
		return resp, nil
	}

	message := backendMessage(resp.Body)

	// Auth endpoints never trigger recovery: a 401 from login or refresh
	// means bad credentials, and recursing would loop forever.
	if !retried && !isAuthEndpoint(req.Path) && isAuthFailure(resp.StatusCode, message) {
		token, err := c.refreshAccessToken(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		retry := req
		retry.Header = cloneHeader(req.Header)
		retry.Header.Set("Authorization", "Bearer "+token)
		return c.do(ctx, sessionID, retry, true)
	}

	return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
}

// refreshAccessToken runs the single-flight refresh for a session. All
// concurrent callers for the same session share one upstream call and one
// outcome; the flight itself is detached from any caller's deadline so an
// early cancellation cannot poison the shared result.
func (c *Client) refreshAccessToken(ctx context.Context, sessionID string) (string, error) {
	v, err, _ := c.refresh.Do(sessionID, func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), sessionID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) doRefresh(ctx context.Context, sessionID string) (string, error) {
	log := observability.FromContext(ctx)

	creds, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to read session credentials: %w", err)
	}
	if creds.RefreshToken == "" {
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", c.failSession(ctx, sessionID, ErrNoRefreshToken)
	}

	resp, err := c.send(ctx, Request{
		Method: http.MethodPost,
		Path:   RefreshPath,
		JSON:   map[string]string{"token": creds.RefreshToken},
	}, "")
	if err != nil {
		// A transport timeout on the refresh call is a refresh failure:
		// the queued requests cannot be left waiting on a dead session.
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", c.failSession(ctx, sessionID, err)
	}
	if resp.StatusCode >= 400 {
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", c.failSession(ctx, sessionID, &APIError{
			StatusCode: resp.StatusCode,
			Message:    backendMessage(resp.Body),
		})
	}

	token := ExtractAccessToken(ctx, resp.Body)
	if token == "" {
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", c.failSession(ctx, sessionID, fmt.Errorf("refresh response carried no access token"))
	}

	// Only the access token changes; refresh token, role and email are
	// preserved untouched.
	if err := c.store.Set(ctx, sessionID, domain.CredentialPatch{AccessToken: domain.Ptr(token)}); err != nil {
		observability.TokenRefreshTotal.WithLabelValues("failure").Inc()
		return "", c.failSession(ctx, sessionID, fmt.Errorf("failed to store refreshed token: %w", err))
	}

	observability.TokenRefreshTotal.WithLabelValues("success").Inc()
	log.Debug("access token refreshed")
	return token, nil
}

// failSession tears the session down before the error propagates: clear
// the store, notify listeners, and wrap the cause so handlers know the
// cleanup already happened.
func (c *Client) failSession(ctx context.Context, sessionID string, cause error) error {
	log := observability.FromContext(ctx)
	log.Warn("refresh failed, forcing logout", "error", cause.Error())

	if err := c.store.Clear(ctx, sessionID); err != nil {
		log.Error("failed to clear session after refresh failure", "error", err.Error())
	}
	observability.ForcedLogoutsTotal.Inc()

	for _, n := range c.notifiers {
		n.SessionRevoked(ctx, sessionID, "refresh_failed")
	}

	return &RefreshError{Cause: cause}
}

// send performs one HTTP exchange and buffers the response body.
func (c *Client) send(ctx context.Context, req Request, accessToken string) (*Response, error) {
	var body io.Reader
	contentType := req.ContentType

	if req.JSON != nil {
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	} else if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" && httpReq.Header.Get("Authorization") == "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return nil, fmt.Errorf("partners api unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	status := strconv.Itoa(httpResp.StatusCode)
	observability.UpstreamRequestDuration.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
	observability.UpstreamRequestsTotal.WithLabelValues(req.Method, status).Inc()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// ExtractAccessToken pulls the access token from an auth response body.
// The canonical field is accessToken; the legacy access_token and token
// spellings are tolerated with a warning until the backend converges.
func ExtractAccessToken(ctx context.Context, body []byte) string {
	var payload struct {
		AccessToken string `json:"accessToken"`
		Snake       string `json:"access_token"`
		Token       string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.AccessToken != "" {
		return payload.AccessToken
	}
	if payload.Snake != "" {
		observability.FromContext(ctx).Warn("auth response used legacy access_token field")
		return payload.Snake
	}
	if payload.Token != "" {
		observability.FromContext(ctx).Warn("auth response used legacy token field")
		return payload.Token
	}
	return ""
}

func isAuthEndpoint(path string) bool {
	return path == LoginPath || path == RefreshPath || path == LogoutPath
}

func cloneHeader(h http.Header) http.Header {
	clone := make(http.Header, len(h)+1)
	for key, values := range h {
		clone[key] = append([]string(nil), values...)
	}
	return clone
}
