package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"docket/api/internal/store"
)

func newTestServer(t *testing.T, st *fakeStore) *httptest.Server {
	t.Helper()
	svc := newTestService(st, &recordingTransport{})
	server := httptest.NewServer(NewHTTPServer(svc, "http://localhost:3000").Handler())
	t.Cleanup(server.Close)
	return server
}

func loginToken(t *testing.T, server *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"email":"dana@example.com","password":"password123"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.Token == "" {
		t.Fatal("empty token")
	}
	return body.Token
}

func storeWithUser(t *testing.T) *fakeStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) {
			return store.User{ID: "usr_1", Name: "Dana", Role: "attorney", PasswordHash: string(hash)}, nil
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	resp, err := http.Get(server.URL + "/api/matters")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/matters", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginThenListMatters(t *testing.T) {
	st := storeWithUser(t)
	st.getMatterFn = func(_ context.Context, matterID string) (store.Matter, error) {
		return store.Matter{ID: matterID, Title: "Smith v. Jones", Status: store.MatterOpen}, nil
	}
	server := newTestServer(t, st)
	token := loginToken(t, server)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/matters/mat_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var matter store.Matter
	if err := json.NewDecoder(resp.Body).Decode(&matter); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if matter.Title != "Smith v. Jones" {
		t.Fatalf("unexpected matter %+v", matter)
	}
}

func TestCreateCommentOverHTTP(t *testing.T) {
	server := newTestServer(t, storeWithUser(t))
	token := loginToken(t, server)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/documents/doc_1/comments",
		strings.NewReader(`{"body":"see page 4","kind":"highlight"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var comment struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if comment.Kind != "highlight" || comment.Body != "see page 4" {
		t.Fatalf("unexpected comment %+v", comment)
	}
}

func TestForbiddenMapsTo403(t *testing.T) {
	st := storeWithUser(t)
	st.getMemberRoleFn = func(context.Context, string, string) (string, error) {
		return "viewer", nil
	}
	server := newTestServer(t, st)
	token := loginToken(t, server)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/matters/mat_1/documents",
		strings.NewReader(`{"title":"Brief","body":"..."}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "FORBIDDEN" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, &fakeStore{})

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/matters", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server := newTestServer(t, storeWithUser(t))
	token := loginToken(t, server)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/nope", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
