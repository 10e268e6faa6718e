package httpapi

import (
	"net/http"
	"time"

	"afiliados.org/internal/auth"
)

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Password   string `json:"password" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty" validate:"omitempty,max=256"`
}

type roleView struct {
	Name     string `json:"name"`
	IsEntity bool   `json:"is_entity,omitempty"`
}

type sessionResponse struct {
	AccountID        string     `json:"account_id"`
	AccessToken      string     `json:"access_token"`
	TokenType        string     `json:"token_type"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshToken     string     `json:"refresh_token"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	Roles            []roleView `json:"roles"`
}

type refreshResponse struct {
	AccountID    string    `json:"account_id"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type principalResponse struct {
	AccountID string            `json:"account_id"`
	Roles     []roleView        `json:"roles"`
	Org       auth.OrgHierarchy `json:"org"`
	TokenID   string            `json:"jti"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func rolesView(roles []auth.RoleAssignment) []roleView {
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleView{Name: r.Name, IsEntity: r.IsEntity})
	}
	return out
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
		return
	}
	sess, err := a.svc.Login(r.Context(), auth.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Client:     auth.ClientFromContext(r.Context()),
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccountID:        sess.AccountID,
		AccessToken:      sess.AccessToken,
		TokenType:        "Bearer",
		ExpiresAt:        sess.AccessExpiresAt,
		RefreshToken:     sess.RefreshToken,
		RefreshExpiresAt: sess.RefreshExpiresAt,
		Roles:            rolesView(sess.Roles),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
		return
	}
	res, err := a.svc.Refresh(r.Context(), req.RefreshToken, auth.ClientFromContext(r.Context()))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		AccountID:    res.AccountID,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
	})
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
		return
	}
	tok, err := a.svc.ExchangeAccess(r.Context(), req.RefreshToken)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresAt:   tok.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := a.decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
			return
		}
	}
	if err := a.svc.Logout(r.Context(), principal, req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if _, err := a.svc.LogoutAll(r.Context(), principal.AccountID); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, principalResponse{
		AccountID: principal.AccountID,
		Roles:     rolesView(principal.Roles),
		Org:       principal.Org,
		TokenID:   principal.TokenID,
		ExpiresAt: principal.ExpiresAt,
	})
}
