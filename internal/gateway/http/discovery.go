package http

import (
	"encoding/json"
	"net/http"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/pkg/httpx"
)

// discoveryMetadata follows the RFC 8414 authorization server metadata
// shape, extended with the gateway's tool catalog.
type discoveryMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`

	ApprovalsEndpoint string            `json:"approvals_endpoint"`
	Tools             []toolDescription `json:"tools"`
}

type toolDescription struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Scope            string `json:"scope"`
	RequiresApproval bool   `json:"requires_approval"`
	Endpoint         string `json:"endpoint"`
}

func (r *Router) registerDiscovery() {
	r.Mux.HandleFunc("GET /.well-known/mcp", r.handleDiscovery)
	r.Mux.HandleFunc("GET /.well-known/jwks.json", r.handleJWKS)
}

func (r *Router) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	meta := discoveryMetadata{
		Issuer:                            r.issuer,
		AuthorizationEndpoint:             r.issuer + "/oauth/authorize",
		TokenEndpoint:                     r.issuer + "/oauth/token",
		RevocationEndpoint:                r.issuer + "/oauth/revoke",
		RegistrationEndpoint:              r.issuer + "/oauth/register",
		JWKSURI:                           r.issuer + "/.well-known/jwks.json",
		ScopesSupported:                   r.policy.All(),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{domain.CodeChallengeS256, domain.CodeChallengePlain},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		ApprovalsEndpoint:                 r.issuer + "/approvals",
	}

	for _, executor := range r.tools.List() {
		meta.Tools = append(meta.Tools, toolDescription{
			Name:             executor.Name(),
			Description:      executor.Description(),
			Scope:            executor.RequiredScope(),
			RequiresApproval: executor.RequiresApproval(),
			Endpoint:         r.issuer + "/mcp/" + executor.Name(),
		})
	}

	httpx.WriteJSON(w, http.StatusOK, meta)
}

// handleJWKS serves the verification keys. Unlike the token responses,
// the JWKS is public and briefly cacheable.
func (r *Router) handleJWKS(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(r.keys.PublicJWKS())
}
