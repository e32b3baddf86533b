// Package auth identifies callers from bearer tokens issued by the
// identity provider. The uid is the token subject.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"apirelay/internal/errdef"
)

const (
	ModeJWT  = "jwt"
	ModeNone = "none"

	// UserHeader carries the uid when the mode is none.
	UserHeader = "X-User-ID"
)

type ctxKey struct{}

// WithUID stores uid in ctx.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, uid)
}

// UIDFrom returns the uid stored by the auth middleware, or "".
func UIDFrom(ctx context.Context) string {
	uid, _ := ctx.Value(ctxKey{}).(string)
	return uid
}

// Claims are the token claims the relay reads.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Verify parses token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", errdef.Wrap(err, errdef.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errdef.New(errdef.CodeUnauthorized, "token has no subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for uid. Used by the CLI and tests; production
// tokens come from the identity provider.
func (v *Verifier) Issue(uid string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", errdef.Wrap(err, errdef.CodeInternal, "sign token")
	}
	return signed, nil
}

// Authenticator resolves the caller of an HTTP request.
type Authenticator struct {
	mode     string
	verifier *Verifier
}

// NewAuthenticator returns an authenticator for mode. verifier may be nil
// when mode is none.
func NewAuthenticator(mode string, verifier *Verifier) *Authenticator {
	return &Authenticator{mode: mode, verifier: verifier}
}

// Identify returns the caller's uid, "" for anonymous callers. A bearer
// token that is present but invalid is an error.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	if a.mode == ModeNone {
		return strings.TrimSpace(r.Header.Get(UserHeader)), nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errdef.New(errdef.CodeUnauthorized, "malformed authorization header")
	}
	if a.verifier == nil {
		return "", errdef.New(errdef.CodeUnauthorized, "token verification is not configured")
	}
	return a.verifier.Verify(strings.TrimSpace(token))
}
