package handler

import (
	"io"
	"net/http"

	"partner-portal/internal/middleware"
	"partner-portal/internal/upstream"

	"github.com/go-chi/chi/v5"
)

// ProductHandler proxies the product catalog. Bodies are forwarded
// byte-for-byte in both directions; multipart uploads keep their
// browser-computed boundary because the original Content-Type header
// travels with them.
type ProductHandler struct {
	client *upstream.Client
}

func NewProductHandler(client *upstream.Client) *ProductHandler {
	return &ProductHandler{client: client}
}

// List proxies GET /products with the query string intact.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, http.MethodGet, "/products")
}

// Create proxies POST /products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, http.MethodPost, "/products")
}

// Update proxies PUT /products/{id}.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, http.MethodPut, "/products/"+chi.URLParam(r, "id"))
}

// Delete proxies DELETE /products/{id}.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, http.MethodDelete, "/products/"+chi.URLParam(r, "id"))
}

func (h *ProductHandler) proxy(w http.ResponseWriter, r *http.Request, method, path string) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "Not authenticated",
			"redirect": middleware.LoginPath,
		})
		return
	}

	var body []byte
	if r.Body != nil && method != http.MethodGet && method != http.MethodDelete {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read request body")
			return
		}
	}

	resp, err := h.client.Do(r.Context(), sessionID, upstream.Request{
		Method:      method,
		Path:        path,
		Query:       r.URL.Query(),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	writeProxyResponse(w, resp)
}
