package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/oauthx"
)

// RegisterHandler implements dynamic client registration on
// POST /oauth/register.
type RegisterHandler struct {
	RegistryService *service.RegistryService
}

type registerRequest struct {
	ClientName   string   `json:"client_name"`
	ClientType   string   `json:"client_type"`
	RedirectURIs []string `json:"redirect_uris"`
	Scope        string   `json:"scope"`
	ClientURI    string   `json:"client_uri"`
	LogoURI      string   `json:"logo_uri"`
}

type registerResponse struct {
	ClientID string `json:"client_id"`

	// ClientSecret is present exactly once, for confidential clients.
	ClientSecret string `json:"client_secret,omitempty"`

	ClientName       string   `json:"client_name"`
	ClientType       string   `json:"client_type"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scope            string   `json:"scope"`
	RequiresApproval bool     `json:"requires_approval"`
	InvalidScopes    []string `json:"invalid_scopes,omitempty"`
	ClientIDIssued   int64    `json:"client_id_issued_at"`
}

func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		oauthx.ErrInvalidRequest.WithDescription("failed to parse request body").WriteError(w)
		return
	}

	res, err := h.RegistryService.Register(r.Context(), service.RegisterRequest{
		Name:         req.ClientName,
		Type:         domain.ClientType(req.ClientType),
		RedirectURIs: req.RedirectURIs,
		Scopes:       httpx.ParseSpaceDelimitedFields(req.Scope),
		ClientURI:    req.ClientURI,
		LogoURI:      req.LogoURI,
	})
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, registerResponse{
		ClientID:         res.Client.ID,
		ClientSecret:     res.Secret,
		ClientName:       res.Client.Name,
		ClientType:       string(res.Client.Type),
		RedirectURIs:     res.Client.RedirectURIs,
		Scope:            strings.Join(res.Client.Scopes, " "),
		RequiresApproval: res.Client.RequiresApproval,
		InvalidScopes:    res.InvalidScopes,
		ClientIDIssued:   res.Client.CreatedAt.Unix(),
	})
}
