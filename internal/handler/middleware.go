package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"session-service/internal/service"
)

type contextKey string

const authContextKey contextKey = "auth_context"

var errMissingBearer = errors.New("missing or malformed authorization header")

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingBearer
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errMissingBearer
	}

	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", errMissingBearer
	}
	return tokenStr, nil
}

// Authenticator is the middleware guarding every protected route: it
// validates the access token and attaches the identity and claims to the
// request context.
func (h *AuthHandler) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := bearerToken(r)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, err, "Authentication required")
			return
		}

		auth, err := h.sessions.Authorize(r.Context(), tokenStr)
		if err != nil {
			h.respondWithError(w, h.getStatusCode(err), err, "Authentication failed")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthFromContext returns the identity attached by Authenticator.
func AuthFromContext(ctx context.Context) (*service.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey).(*service.AuthContext)
	return auth, ok
}
