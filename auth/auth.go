// Package auth derives the AccessContext of a request from its JWT.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
)

// DefaultRole is the role of requests without a token.
const DefaultRole = "capi_anon"

// RoleClaim names the claim holding the database role.
const RoleClaim = "role"

// Authenticator verifies HS256 tokens signed with a shared secret.
type Authenticator struct {
	secret      []byte
	defaultRole string
	parser      *jwt.Parser
}

// New returns an authenticator. With an empty secret every token is
// rejected and anonymous requests get defaultRole.
func New(secret, defaultRole string) *Authenticator {
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	return &Authenticator{
		secret:      []byte(secret),
		defaultRole: defaultRole,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})),
	}
}

func unauthenticated(format string, args ...interface{}) error {
	return status.Errorf(codes.Unauthenticated, format, args...)
}

// Parse verifies token and returns the caller it names.
func (a *Authenticator) Parse(token string) (schemagraph.AccessContext, error) {
	if len(a.secret) == 0 {
		return schemagraph.AccessContext{}, unauthenticated("tokens are not accepted")
	}
	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return schemagraph.AccessContext{}, unauthenticated("invalid token: %v", err)
	}

	ac := schemagraph.AccessContext{Role: a.defaultRole, Claims: map[string]interface{}(claims)}
	if role, ok := claims[RoleClaim]; ok {
		s, ok := role.(string)
		if !ok || s == "" {
			return schemagraph.AccessContext{}, unauthenticated("claim %s must be a non-empty string", RoleClaim)
		}
		ac.Role = s
	}
	return ac, nil
}

// Anonymous is the caller of requests without a token.
func (a *Authenticator) Anonymous() schemagraph.AccessContext {
	return schemagraph.AccessContext{Role: a.defaultRole, Claims: map[string]interface{}{}}
}

// FromRequest reads a bearer token from the Authorization header.
func (a *Authenticator) FromRequest(r *http.Request) (schemagraph.AccessContext, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return a.Anonymous(), nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return schemagraph.AccessContext{}, unauthenticated("authorization header must be a bearer token")
	}
	return a.Parse(strings.TrimSpace(token))
}

// Middleware stores the caller in the request context. Requests with an
// invalid token are answered with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := a.FromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
				"data":   nil,
				"errors": []*jerrors.Error{jerrors.ConvertError(err)},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(schemagraph.WithAccess(r.Context(), ac)))
	})
}

// WebSocket authenticates a graphql-ws connection from the authToken or
// Authorization field of connection_init, falling back to the upgrade
// request.
func (a *Authenticator) WebSocket(ctx context.Context, r *http.Request, params map[string]interface{}) (schemagraph.AccessContext, error) {
	for _, key := range []string{"authToken", "Authorization", "authorization"} {
		v, ok := params[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return schemagraph.AccessContext{}, unauthenticated("%s must be a string", key)
		}
		if scheme, token, ok := strings.Cut(s, " "); ok && strings.EqualFold(scheme, "Bearer") {
			s = token
		}
		return a.Parse(strings.TrimSpace(s))
	}
	return a.FromRequest(r)
}

// Sign issues a token for claims. It is used by tests and tooling.
func (a *Authenticator) Sign(claims map[string]interface{}) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("no secret configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims)).SignedString(a.secret)
}
