package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"afiliados.org/internal/auth"
)

type createAccountRequest struct {
	Handle      string            `json:"handle" validate:"required,min=3,max=64"`
	Email       string            `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Password    string            `json:"password" validate:"required,min=8,max=1024"`
	DisplayName string            `json:"display_name,omitempty" validate:"max=128"`
	Org         auth.OrgHierarchy `json:"org"`
	Roles       []roleView        `json:"roles" validate:"dive"`
}

type accountResponse struct {
	ID          string            `json:"id"`
	Handle      string            `json:"handle"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Status      string            `json:"status"`
	Org         auth.OrgHierarchy `json:"org"`
	CreatedAt   time.Time         `json:"created_at"`
}

type revokeTokenRequest struct {
	JTI       string    `json:"jti" validate:"required,uuid"`
	AccountID string    `json:"account_id,omitempty" validate:"max=64"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
	Reason    string    `json:"reason,omitempty" validate:"max=128"`
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
		return
	}
	roles := make([]auth.RoleAssignment, 0, len(req.Roles))
	for _, role := range req.Roles {
		if strings.TrimSpace(role.Name) == "" {
			continue
		}
		roles = append(roles, auth.RoleAssignment{Name: role.Name, IsEntity: role.IsEntity})
	}
	acct, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Handle:      req.Handle,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Org:         req.Org,
		Roles:       roles,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/accounts/%s", acct.ID))
	writeJSON(w, http.StatusCreated, accountResponse{
		ID:          acct.ID,
		Handle:      acct.Handle,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		Status:      acct.Status,
		Org:         acct.Org,
		CreatedAt:   acct.CreatedAt,
	})
}

func (a *API) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.PathValue("id"))
	n, err := a.svc.LogoutAll(r.Context(), accountID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"revoked":    n,
	})
}

func (a *API) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeTokenRequest
	if err := a.decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, auth.OutcomeInvalidInput.String(), err.Error())
		return
	}
	if err := a.svc.Revoke(r.Context(), auth.RevokeRequest{
		JTI:       req.JTI,
		AccountID: req.AccountID,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
	}); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	jti := r.PathValue("jti")
	denied, err := a.svc.IsDenylisted(r.Context(), jti)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jti":        jti,
		"denylisted": denied,
	})
}
