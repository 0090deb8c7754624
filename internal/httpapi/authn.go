package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth attaches the bearer token's identity to the request context.
// Requests without a token pass through anonymously; handlers that act for
// a caller reject them with callerIdentity. A present but invalid token is
// always rejected.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			challenge(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				challenge(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		id, err := claims.Identity()
		if err != nil {
			challenge(w, r, http.StatusUnauthorized, "invalid token subject")
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerIdentity returns the authenticated caller or writes 401.
func callerIdentity(w http.ResponseWriter, r *http.Request) (chain.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		challenge(w, r, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return chain.NoIdentity, false
	}
	return id, true
}

// RequireRole admits only authenticated callers holding role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.IdentityFromContext(r.Context()); !ok {
				challenge(w, r, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, auth.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func challenge(w http.ResponseWriter, r *http.Request, code int, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, code, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
