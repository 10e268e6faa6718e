package httpapi

import (
	"net/http"
	"strings"

	"afiliados.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a valid, non-revoked bearer token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="afiliados"`)
			writeAuthError(w, r, err)
			return
		}
		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="afiliados", error="invalid_token"`)
			writeAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRole requires a bearer token holding at least one of roles.
func (a *API) withRole(fn http.HandlerFunc, roles ...string) http.Handler {
	return a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := requireRole(r, roles...); err != nil {
			writeAuthError(w, r, err)
			return
		}
		fn(w, r)
	}))
}

func (a *API) adminOnly(fn http.HandlerFunc) http.Handler {
	return a.withRole(fn, auth.RoleAdmin)
}

func requireRole(r *http.Request, roles ...string) error {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return auth.ErrMissingToken
	}
	for _, role := range roles {
		if principal.HasRole(role) {
			return nil
		}
	}
	return auth.ErrForbidden
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", auth.ErrMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", auth.ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}
