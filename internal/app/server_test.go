package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"prdigy/api/internal/config"
	"prdigy/api/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		PublicURL:   "http://localhost:5173",
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
		GuestTTL:    time.Hour,
		CORSOrigin:  "*",
	}
}

func newTestService(fs *fakeStore, opts ...Option) *Service {
	opts = append([]Option{WithPasswordCost(bcrypt.MinCost)}, opts...)
	return New(testConfig(), fs, opts...)
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	return NewHTTPServer(newTestService(fs), "*"), fs
}

// addUser stores a user and returns a live access token for it.
func addUser(t *testing.T, server *HTTPServer, fs *fakeStore, user store.User) string {
	t.Helper()
	if err := fs.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	session, err := server.service.issueSession(context.Background(), user, time.Hour)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func verifiedUser(id, email string) store.User {
	return store.User{ID: id, DisplayName: id, Email: email, IsEmailVerified: true}
}

type call struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
}

func do(t *testing.T, server *HTTPServer, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	payload := decode[map[string]any](t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}
