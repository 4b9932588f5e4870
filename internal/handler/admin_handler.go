package handler

import (
	"encoding/json"
	"net/http"

	"partner-portal/internal/domain"
	"partner-portal/internal/messaging"
	"partner-portal/internal/middleware"
	"partner-portal/internal/observability"
	"partner-portal/internal/upstream"

	"github.com/go-chi/chi/v5"
)

// AdminHandler proxies partner account management. Routes using it sit
// behind an admin-only guard.
type AdminHandler struct {
	client *upstream.Client
	audit  messaging.AuditPublisher
}

func NewAdminHandler(client *upstream.Client, audit messaging.AuditPublisher) *AdminHandler {
	return &AdminHandler{client: client, audit: audit}
}

// ApproveRequest carries the role granted to a pending partner.
type ApproveRequest struct {
	Role string `json:"role"`
}

// ListUsers proxies the full account list.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := middleware.GetSessionID(r.Context())

	resp, err := h.client.Do(r.Context(), sessionID, upstream.Request{
		Method: http.MethodGet,
		Path:   "/admin/users",
		Query:  r.URL.Query(),
	})
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	writeProxyResponse(w, resp)
}

// ListApplications returns only the accounts still awaiting approval.
// The backend has no filtered endpoint, so the gateway narrows the full
// list by peeking at each entry's role.
func (h *AdminHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := middleware.GetSessionID(r.Context())

	resp, err := h.client.Do(r.Context(), sessionID, upstream.Request{
		Method: http.MethodGet,
		Path:   "/admin/users",
	})
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	var users []json.RawMessage
	if err := resp.Decode(&users); err != nil {
		writeError(w, http.StatusBadGateway, "Unexpected user list format")
		return
	}

	pending := make([]json.RawMessage, 0, len(users))
	for _, user := range users {
		var peek struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(user, &peek); err != nil {
			continue
		}
		if peek.Role == string(domain.RolePending) {
			pending = append(pending, user)
		}
	}

	writeJSON(w, http.StatusOK, pending)
}

// Approve grants a role to a pending partner.
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	role := domain.Role(req.Role)
	if !role.In(domain.PartnerRoles) {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	sessionID, _ := middleware.GetSessionID(r.Context())

	resp, err := h.client.Do(r.Context(), sessionID, upstream.Request{
		Method: http.MethodPut,
		Path:   "/auth/approve/" + userID,
		JSON:   map[string]string{"role": req.Role},
	})
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	h.auditEvent(r, messaging.AuditEvent{
		Action: messaging.ActionUserApproved,
		Detail: userID,
		Role:   req.Role,
	})

	writeProxyResponse(w, resp)
}

// Delete removes a partner account.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	sessionID, _ := middleware.GetSessionID(r.Context())

	resp, err := h.client.Do(r.Context(), sessionID, upstream.Request{
		Method: http.MethodDelete,
		Path:   "/admin/users/" + userID,
	})
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	h.auditEvent(r, messaging.AuditEvent{
		Action: messaging.ActionUserDeleted,
		Detail: userID,
	})

	writeProxyResponse(w, resp)
}

func (h *AdminHandler) auditEvent(r *http.Request, event messaging.AuditEvent) {
	if sessionID, ok := middleware.GetSessionID(r.Context()); ok {
		event.SessionID = sessionID
	}
	if err := h.audit.Publish(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).Error("failed to publish audit event",
			"action", event.Action,
			"error", err.Error())
	}
}
