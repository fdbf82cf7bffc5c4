package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/oauthx"
)

// RevokeHandler implements RFC 7009 token revocation. Once the client
// authenticates, revocation always reports success; the response must not
// reveal whether the token existed.
type RevokeHandler struct {
	TokenService *service.TokenService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret, token, ok := parseRevokeRequest(r)
	if !ok {
		oauthx.ErrInvalidFormBody.WriteError(w)
		return
	}

	if err := h.TokenService.Revoke(r.Context(), clientID, clientSecret, token); err != nil {
		writeOAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseRevokeRequest accepts the RFC 7009 form encoding and, as a
// convenience for JSON-first clients, an equivalent JSON body.
func parseRevokeRequest(r *http.Request) (clientID, clientSecret, token string, ok bool) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return "", "", "", false
		}
		clientID, clientSecret = clientCredentials(r)
		return clientID, clientSecret, r.PostForm.Get("token"), true

	case strings.HasPrefix(contentType, "application/json"):
		var body struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
			Token        string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", "", "", false
		}
		if id, secret, basic := r.BasicAuth(); basic {
			body.ClientID, body.ClientSecret = id, secret
		}
		return body.ClientID, body.ClientSecret, body.Token, true

	default:
		return "", "", "", false
	}
}
