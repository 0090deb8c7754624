package httpapi

import (
	"net/http"
	"strings"
	"time"

	"blindbid.org/internal/audit"
	"blindbid.org/internal/auth"
	"blindbid.org/internal/chain"
)

type tokenRequest struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken issues a bearer token for any identity. Dev mode only:
// production callers bring tokens minted with the shared secret.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.devMode {
		writeError(w, r, http.StatusNotFound, "token issuance disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := chain.ParseIdentity(req.Identity)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "identity must be a non-zero 0x-prefixed address")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}

	token, err := auth.GenerateToken(id, roles, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	fields := map[string]any{
		"identity":   id.Hex(),
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issued", fields)

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Identity:  id.Hex(),
		ExpiresAt: expiresAt,
	})
}
