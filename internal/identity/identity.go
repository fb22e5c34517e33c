// Package identity resolves externally-issued identity tokens to user ids.
//
// Token issuance belongs to the marketplace's auth service; this package only
// consumes tokens. Verifier is the seam: production deployments plug in the
// real issuer's verification, while HMACVerifier covers development and tests.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid identity token")

// Verifier validates an identity token and returns the user id it asserts.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// HMACVerifier verifies tokens of the form "userID.expiryUnix.signature"
// where signature is hex(HMAC-SHA256(secret, "userID.expiryUnix")).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier keyed by secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify checks the token's signature and expiry.
func (v *HMACVerifier) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrInvalidToken
	}

	userID, expStr, sig := parts[0], parts[1], parts[2]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	if time.Now().Unix() > exp {
		return "", fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	want := v.sign(userID, exp)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Issue mints a token for userID valid for ttl. Intended for development
// tooling and tests; production tokens come from the external auth service.
func (v *HMACVerifier) Issue(userID string, ttl time.Duration) string {
	exp := time.Now().Add(ttl).Unix()
	return userID + "." + strconv.FormatInt(exp, 10) + "." + hex.EncodeToString(v.sign(userID, exp))
}

func (v *HMACVerifier) sign(userID string, exp int64) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(userID + "." + strconv.FormatInt(exp, 10)))
	return mac.Sum(nil)
}

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// TokenFromRequest extracts the identity token from the Authorization header
// (Bearer scheme) or, for websocket upgrades where headers are awkward for
// browser clients, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request via the verifier and injects the
// user id into the request context. Unauthenticated requests get a 401.
func Middleware(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, `{"error":"missing identity token"}`, http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid identity token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
