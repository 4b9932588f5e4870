package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"partner-portal/internal/middleware"
	"partner-portal/internal/testutil"
	"partner-portal/internal/upstream"

	"github.com/go-chi/chi/v5"
)

func newProductTestServer(api *testutil.FakePartnersAPI) (*chi.Mux, *testutil.MockCredentialStore) {
	store := testutil.NewMockCredentialStore()
	client := upstream.NewClient(api.URL(), 5*time.Second, store)
	h := NewProductHandler(client)

	r := chi.NewRouter()
	r.Use(middleware.Session())
	r.Get("/api/v1/products", h.List)
	r.Post("/api/v1/products", h.Create)
	r.Put("/api/v1/products/{id}", h.Update)
	r.Delete("/api/v1/products/{id}", h.Delete)
	return r, store
}

func authedSession(api *testutil.FakePartnersAPI, store *testutil.MockCredentialStore) string {
	store.Sessions["s1"] = testutil.NewTestCredentials(
		testutil.WithAccessToken(api.AccessToken))
	creds := store.Sessions["s1"]
	creds.RefreshToken = api.RefreshToken
	store.Sessions["s1"] = creds
	return "s1"
}

func withSession(req *http.Request, sessionID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionID})
	return req
}

func TestProductList_ProxiesBackendResponse(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil), sid)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)

	var products []map[string]any
	testutil.DecodeJSON(t, w, &products)
	testutil.AssertEqual(t, 2, len(products))
}

func TestProductList_ExpiredTokenRecoversTransparently(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)

	api.ExpireAccessToken()

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil), sid)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertEqual(t, 1, api.RefreshCalls())

	// The stored session now carries the rotated access token
	testutil.AssertEqual(t, api.AccessToken, store.Sessions[sid].AccessToken)
}

func TestProductList_RevokedRefreshForcesLogout(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)

	api.ExpireAccessToken()
	api.RevokeRefreshToken()

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil), sid)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusUnauthorized)

	var body struct {
		Error    string `json:"error"`
		Redirect string `json:"redirect"`
	}
	testutil.DecodeJSON(t, w, &body)
	testutil.AssertEqual(t, middleware.LoginPath, body.Redirect)

	if _, ok := store.Sessions[sid]; ok {
		t.Error("session must be cleared after a failed refresh")
	}
	cookie := sessionCookie(t, w)
	testutil.AssertTrue(t, cookie.MaxAge < 0, "session cookie must be expired")
}

func TestProductCreate_MultipartBodyForwardedVerbatim(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)

	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("product_name", "Smart Hub")
	fw, _ := mw.CreateFormFile("image", "hub.png")
	_, _ = fw.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	mw.Close()

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/products", body), sid)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusCreated)

	// The boundary survives the proxy hop
	testutil.AssertEqual(t, mw.FormDataContentType(), api.LastContentType())
}

func TestProductCreate_ValidationErrorPassesThroughVerbatim(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"product_name is required"}`))
	}))
	defer backend.Close()

	store := testutil.NewMockCredentialStore()
	store.Sessions["s1"] = testutil.NewTestCredentials()
	client := upstream.NewClient(backend.URL, 5*time.Second, store)
	h := NewProductHandler(client)

	r := chi.NewRouter()
	r.Use(middleware.Session())
	r.Post("/api/v1/products", h.Create)

	req := withSession(httptest.NewRequest(http.MethodPost, "/api/v1/products",
		strings.NewReader(`{}`)), "s1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusUnprocessableEntity)

	var body struct {
		Error string `json:"error"`
	}
	testutil.DecodeJSON(t, w, &body)
	testutil.AssertEqual(t, "product_name is required", body.Error)
}

func TestProductUpdate_AndDelete_RouteByID(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)

	req := withSession(httptest.NewRequest(http.MethodPut, "/api/v1/products/p1",
		strings.NewReader(`{"msrp":249.0}`)), sid)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w, http.StatusCreated)

	req = withSession(httptest.NewRequest(http.MethodDelete, "/api/v1/products/p1", nil), sid)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	testutil.AssertStatusCode(t, w, http.StatusOK)
}

func TestProductList_BackendDownIs502(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	router, store := newProductTestServer(api)
	sid := authedSession(api, store)
	api.Close()

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/v1/products", nil), sid)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusBadGateway)
}

func TestProduct_AnonymousIsRejected(t *testing.T) {
	api := testutil.NewFakePartnersAPI()
	defer api.Close()
	router, _ := newProductTestServer(api)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))

	testutil.AssertStatusCode(t, w, http.StatusUnauthorized)
}
