// Package jwt issues and checks the bearer tokens handed out at login.
// Handlers treat the token as a convenience: when present, its email and
// user id fill fields the request body left empty.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "cabshare"

// ErrInvalidToken wraps every parse or verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the token payload. Subject duplicates UserID.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	gojwt.RegisteredClaims
}

type ctxKey struct{}

var (
	secret []byte
	ttl    = 24 * time.Hour
	parser = gojwt.NewParser(
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithIssuer(issuer),
		gojwt.WithExpirationRequired(),
		gojwt.WithLeeway(30*time.Second),
	)
)

// Init sets the HMAC secret and token lifetime. It must run before any
// token is issued or checked.
func Init(s string, lifetime time.Duration) error {
	if s == "" {
		return errors.New("JWT_SECRET is required")
	}
	secret = []byte(s)
	if lifetime > 0 {
		ttl = lifetime
	}
	return nil
}

// Generate signs a token for a rider.
func Generate(userID, email string) (string, error) {
	now := time.Now()
	c := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, c).SignedString(secret)
}

// Validate parses raw and returns its claims. Failures match ErrInvalidToken.
func Validate(raw string) (*Claims, error) {
	var c Claims
	if _, err := parser.ParseWithClaims(raw, &c, func(*gojwt.Token) (any, error) { return secret, nil }); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.UserID == "" || c.UserID != c.Subject {
		return nil, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return &c, nil
}

func bearer(r *http.Request) (string, bool) {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}

// OptionalAuth puts the claims of a valid bearer token into the request
// context. Missing or bad tokens are ignored.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := bearer(r); ok {
			if c, err := Validate(raw); err == nil {
				r = r.WithContext(WithClaims(r.Context(), c))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth answers 401 unless OptionalAuth found valid claims.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="cabshare"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// GetClaims returns nil when the request carried no valid token.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(ctxKey{}).(*Claims)
	return c
}

// EmailOr returns email, or the token's email when email is empty.
func EmailOr(ctx context.Context, email string) string {
	if email != "" {
		return email
	}
	if c := GetClaims(ctx); c != nil {
		return c.Email
	}
	return ""
}
