package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newAuthStack(t *testing.T) (*TokenIssuer, *MemoryStore) {
	t.Helper()
	return NewTokenIssuer([]byte("test-signing-key"), time.Hour), NewMemoryStore(time.Hour)
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	e := echo.New()
	var username string
	handler := mw(func(c echo.Context) error {
		username = UsernameFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/review/doc-1/codes", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/review/:docID/codes")
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, username
}

func TestMiddleware_ValidToken(t *testing.T) {
	issuer, store := newAuthStack(t)
	sess := store.Create("jlee", "upstream-tok")
	token, err := issuer.Issue(sess)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rec, username := doRequest(t, Middleware(issuer, store), "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if username != "jlee" {
		t.Errorf("username from context = %q", username)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	issuer, store := newAuthStack(t)
	rec, _ := doRequest(t, Middleware(issuer, store), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_GarbageToken(t *testing.T) {
	issuer, store := newAuthStack(t)
	rec, _ := doRequest(t, Middleware(issuer, store), "Bearer not-a-jwt")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_DeletedSession(t *testing.T) {
	issuer, store := newAuthStack(t)
	sess := store.Create("jlee", "tok")
	token, err := issuer.Issue(sess)
	if err != nil {
		t.Fatal(err)
	}
	store.Delete(sess.ID)

	rec, _ := doRequest(t, Middleware(issuer, store), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 after session teardown", rec.Code)
	}
}

func TestMiddleware_WrongSigningKey(t *testing.T) {
	issuer, store := newAuthStack(t)
	sess := store.Create("jlee", "tok")
	otherIssuer := NewTokenIssuer([]byte("different-key"), time.Hour)
	token, err := otherIssuer.Issue(sess)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := doRequest(t, Middleware(issuer, store), "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for foreign signature", rec.Code)
	}
}

func TestAuthSkipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/auth/login")
	if !AuthSkipper(c) {
		t.Error("login path must skip auth")
	}
	c.SetPath("/api/v1/review/:docID/codes")
	if AuthSkipper(c) {
		t.Error("review paths must not skip auth")
	}
}
