package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var authTestSecret = []byte("auth-test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeToken(t *testing.T, secret []byte, method jwt.SigningMethod, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{Subject: sub})
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseToken(t *testing.T) {
	claims, err := ParseToken(makeToken(t, authTestSecret, jwt.SigningMethodHS256, "alice"), authTestSecret)
	if err != nil {
		t.Fatalf("parse valid token: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("subject = %q, want alice", claims.Subject)
	}
}

func TestParseTokenRejectsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.jwt"},
		{"wrong secret", makeToken(t, []byte("other-secret"), jwt.SigningMethodHS256, "alice")},
		{"wrong alg", makeToken(t, authTestSecret, jwt.SigningMethodHS512, "alice")},
		{"missing sub", makeToken(t, authTestSecret, jwt.SigningMethodHS256, "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseToken(tc.token, authTestSecret); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(authTestSecret, discardLogger()))
	handler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(ContextUserKey)})
	}
	r.GET("/health", handler)
	r.GET("/api/v1/docs/1", handler)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	valid := makeToken(t, authTestSecret, jwt.SigningMethodHS256, "alice")

	cases := []struct {
		name   string
		path   string
		header string
		query  string
		want   int
	}{
		{"no token", "/api/v1/docs/1", "", "", http.StatusUnauthorized},
		{"bad header token", "/api/v1/docs/1", "Bearer nope", "", http.StatusUnauthorized},
		{"valid header token", "/api/v1/docs/1", "Bearer " + valid, "", http.StatusOK},
		{"valid query token", "/api/v1/docs/1", "", valid, http.StatusOK},
		{"health skips auth", "/health", "", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := tc.path
			if tc.query != "" {
				path += "?token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestAuthInjectsUserID(t *testing.T) {
	r := newAuthRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/docs/1", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, authTestSecret, jwt.SigningMethodHS256, "bob"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"user_id":"bob"}` {
		t.Errorf("body = %s", got)
	}
}
