package core

import (
	"errors"
	"net/http"
	"strings"

	"contracthub/internal/types"
)

// authExemptPrefixes lists path prefixes that never require a session:
// the health endpoint and the provider webhooks, which authenticate by
// signature instead.
var authExemptPrefixes = []string{
	"/health",
	"/webhooks/",
}

// authOptionalPaths lists paths a visitor may call before having an account.
// When a credential is presented anyway, it is resolved and attached, but a
// missing or bad credential does not reject the request.
var authOptionalPaths = map[string]bool{
	"/v1/signup":                true,
	"/v1/login":                 true,
	"/v1/check-email":           true,
	"/v1/setup-password":        true,
	"/v1/provisioning/checkout": true,
	"/v1/provisioning/complete": true,
	"/v1/catalog":               true,
}

// AuthMiddleware resolves the Bearer session credential to an Identity and
// injects it into the request context. Paths in authOptionalPaths proceed
// without one; everything else under /v1 requires a valid session.
//
// A nil Authenticator disables authentication entirely, which only test
// setups use.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			next.ServeHTTP(w, r)
			return
		}

		for _, prefix := range authExemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		optional := authOptionalPaths[r.URL.Path]

		credential := extractBearerToken(r.Header.Get("Authorization"))
		if credential == "" {
			if optional {
				next.ServeHTTP(w, r)
				return
			}
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header with a Bearer credential is required")
			return
		}

		identity, err := s.Authenticator.Verify(r.Context(), credential)
		if err != nil {
			if optional {
				next.ServeHTTP(w, r)
				return
			}
			s.handleAuthError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithIdentity(r.Context(), identity)))
	})
}

// extractBearerToken parses "Bearer <token>" with a case-insensitive scheme
// per RFC 7235. Returns "" when the header does not match.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.writeAuthError(w, r, types.ErrCodeAuthTokenExpired, "session has expired")
			return
		case types.ErrCodeAuthTokenInvalid:
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "invalid session credential")
			return
		}
	}
	// Resolution failures that are not a recognized auth error (DB down,
	// etc.) must not masquerade as a bad credential.
	Error(w, r, err)
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	Error(w, r, types.NewAppError(code, message, nil))
}
