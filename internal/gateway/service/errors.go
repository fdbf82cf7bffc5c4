// Package service implements the gateway's business logic: client
// registration, the authorization code flow, token lifecycle, tool
// invocation, and the approval correlator.
package service

import "errors"

// Service-level sentinels, named after the OAuth error codes the HTTP layer
// maps them to. Handlers translate these; services never write responses.
var (
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrAccessDenied            = errors.New("access_denied")
	ErrUnsupportedGrantType    = errors.New("unsupported_grant_type")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")

	// ErrRedirectURIMismatch never redirects; the handler answers the
	// caller directly to avoid becoming an open redirector.
	ErrRedirectURIMismatch = errors.New("redirect_uri_mismatch")

	// ErrConsentRequired means the subject has not granted the requested
	// scopes to this client yet.
	ErrConsentRequired = errors.New("consent_required")

	// ErrNotFound is the service-level not-found, mapped to 404.
	ErrNotFound = errors.New("not_found")
)
