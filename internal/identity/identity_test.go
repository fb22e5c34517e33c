package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	token := v.Issue("user-42", time.Minute)

	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("expected user-42, got %q", userID)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	token := v.Issue("user-42", -time.Minute)

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	good := v.Issue("user-42", time.Minute)

	cases := map[string]string{
		"swapped user": strings.Replace(good, "user-42", "user-43", 1),
		"wrong secret": NewHMACVerifier("other-secret").Issue("user-42", time.Minute),
		"bad signature": func() string {
			parts := strings.Split(good, ".")
			return parts[0] + "." + parts[1] + "." + strings.Repeat("00", 32)
		}(),
		"not hex sig":  good[:strings.LastIndex(good, ".")+1] + "zzzz",
		"empty user":   "." + strings.SplitN(good, ".", 2)[1],
		"malformed":    "user-42",
		"bad expiry":   "user-42.notanumber.abcd",
		"empty string": "",
	}
	for name, token := range cases {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/consultations", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := TokenFromRequest(r); got != "abc123" {
		t.Errorf("expected header token, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/chat/ws/c1?token=query456", nil)
	if got := TokenFromRequest(r); got != "query456" {
		t.Errorf("expected query token, got %q", got)
	}

	// The header wins when both are present.
	r = httptest.NewRequest(http.MethodGet, "/chat/ws/c1?token=query456", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := TokenFromRequest(r); got != "abc123" {
		t.Errorf("expected header to win, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/consultations", nil)
	r.Header.Set("Authorization", "Basic abc123")
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("non-bearer scheme must yield no token, got %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	var seenUserID string
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/consultations", nil)
	r.Header.Set("Authorization", "Bearer "+v.Issue("user-42", time.Minute))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seenUserID != "user-42" {
		t.Errorf("expected user id in context, got %q", seenUserID)
	}

	// Missing token.
	seenUserID = ""
	r = httptest.NewRequest(http.MethodGet, "/consultations", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if seenUserID != "" {
		t.Error("handler must not run without a valid token")
	}

	// Invalid token.
	r = httptest.NewRequest(http.MethodGet, "/consultations", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestUserIDFromContextEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := UserIDFromContext(r.Context()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
}
