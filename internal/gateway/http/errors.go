package http

import (
	"errors"
	"net/http"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/oauthx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// writeOAuthError maps service sentinels onto the RFC 6749 wire errors.
// Anything unmatched is an internal failure: logged, answered as
// server_error.
func writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidClient):
		oauthx.ErrInvalidClient.WriteError(w)
	case errors.Is(err, service.ErrInvalidGrant):
		oauthx.ErrInvalidGrant.WriteError(w)
	case errors.Is(err, service.ErrInvalidScope):
		oauthx.ErrInvalidScope.WriteError(w)
	case errors.Is(err, service.ErrUnsupportedGrantType):
		oauthx.ErrUnsupportedGrantType.WriteError(w)
	case errors.Is(err, service.ErrUnsupportedResponseType):
		oauthx.ErrUnsupportedResponseType.WriteError(w)
	case errors.Is(err, service.ErrAccessDenied):
		oauthx.ErrAccessDenied.WriteError(w)
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrRedirectURIMismatch):
		oauthx.ErrInvalidRequest.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("unhandled service error", "err", err)
		oauthx.ErrServerError.WriteError(w)
	}
}

// writeAPIError answers the non-OAuth JSON endpoints (approvals, tools,
// admin) in the same error shape the OAuth endpoints use.
func writeAPIError(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeNotFound hides whether the resource exists at all.
func writeNotFound(w http.ResponseWriter) {
	writeAPIError(w, http.StatusNotFound, "not_found", "the requested resource does not exist")
}
