package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEARER TOKEN IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// ErrMissingSecret is returned when a verifier is built without a key.
var ErrMissingSecret = errors.New("handlers: jwt secret is empty")

// TokenVerifier validates HMAC-signed bearer tokens and resolves the learner
// from the sub claim.
type TokenVerifier struct {
	secret []byte
	parser *jwt.Parser
	issuer string
}

// TokenOptions tightens verification. Empty fields are not checked.
type TokenOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// NewTokenVerifier creates a verifier for secret.
func NewTokenVerifier(secret string, opts TokenOptions) (*TokenVerifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &TokenVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(parserOpts...),
		issuer: opts.Issuer,
	}, nil
}

// Verify parses tokenString and returns its subject.
func (v *TokenVerifier) Verify(tokenString string) (shared.UserID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", shared.WrapError("identity", "Verify", shared.ErrUnauthenticated, "invalid token", err)
	}
	if !token.Valid {
		return "", shared.NewDomainError("identity", "Verify", shared.ErrUnauthenticated, "invalid token")
	}
	userID, err := shared.NewUserID(claims.Subject)
	if err != nil {
		return "", shared.WrapError("identity", "Verify", shared.ErrUnauthenticated, "token has no usable subject", err)
	}
	return userID, nil
}

// Issue signs a token for userID valid for ttl. Used by local tooling and
// tests; production tokens come from the identity provider.
func (v *TokenVerifier) Issue(userID shared.UserID, ttl time.Duration, audience ...string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    v.issuer,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware resolves the caller and stores it on the request context.
// Requests without a valid bearer token get 401.
func (v *TokenVerifier) Middleware(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				onError(w, r, shared.ErrNoUserContext)
				return
			}
			userID, err := v.Verify(raw)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
