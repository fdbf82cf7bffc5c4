// Package oauthx defines the OAuth 2.0 error vocabulary (RFC 6749) shared by
// the gateway's services and HTTP handlers. Services return these errors as
// sentinels; handlers write them straight onto the wire.
package oauthx

import (
	"fmt"
	"net/http"

	"github.com/asoos/integration-gateway/pkg/httpx"
)

// OAuth 2.0 error codes per RFC 6749, plus the RFC 6750 bearer codes the
// middleware uses.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeConsentRequired         = "consent_required"
	ErrorCodeApprovalPending         = "approval_pending"
)

// Error is a standard OAuth 2.0 error response. It implements the error
// interface so services can return it as a sentinel and handlers can match
// it with errors.Is before writing it to the response.
type Error struct {
	// StatusCode is the HTTP status to respond with.
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code, e.g. "invalid_grant".
	Code string `json:"error"`

	// Description is a human-readable explanation. It must never leak
	// whether a specific code, token, or client exists.
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescription returns a copy of the error with a different description.
// errors.Is still matches the original via the Code.
func (e *Error) WithDescription(desc string) *Error {
	clone := *e
	clone.Description = desc
	return &clone
}

// Is matches any *Error with the same code, so WithDescription clones still
// compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WriteError writes the error as an RFC 6749 JSON error response.
func (e *Error) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

var (
	// ErrInvalidRequest covers malformed requests: missing or repeated
	// parameters, bad encodings, unknown clients on the authorize endpoint.
	ErrInvalidRequest = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidClient is returned when client authentication fails.
	ErrInvalidClient = &Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidClient,
		Description: "client authentication failed",
	}

	// ErrInvalidGrant covers every failure of a presented grant: unknown,
	// expired, already used, wrong client, or failed PKCE. The description
	// is deliberately uniform across those cases.
	ErrInvalidGrant = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidGrant,
		Description: "the provided grant is invalid, expired, or revoked",
	}

	// ErrUnauthorizedClient is returned when the client may not use the
	// requested grant type.
	ErrUnauthorizedClient = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnauthorizedClient,
		Description: "the client is not authorized to use this grant type",
	}

	// ErrUnsupportedGrantType is returned for grant types the gateway does
	// not implement.
	ErrUnsupportedGrantType = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsupportedGrantType,
		Description: "grant type not supported",
	}

	// ErrUnsupportedResponseType is returned on the authorize endpoint for
	// anything other than response_type=code.
	ErrUnsupportedResponseType = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsupportedResponseType,
		Description: "only the authorization code response type is supported",
	}

	// ErrInvalidScope is returned when a requested scope is unknown or
	// exceeds what the client registered.
	ErrInvalidScope = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidScope,
		Description: "requested scope is invalid",
	}

	// ErrAccessDenied is returned when the resource owner or the gateway
	// refuses the request.
	ErrAccessDenied = &Error{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeAccessDenied,
		Description: "the request was denied",
	}

	// ErrServerError is returned for unexpected internal failures.
	ErrServerError = &Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}

	// ErrInvalidContentType is returned when a form endpoint receives a
	// non-form content type.
	ErrInvalidContentType = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "content type must be application/x-www-form-urlencoded",
	}

	// ErrInvalidFormBody is returned when the form body fails to parse.
	ErrInvalidFormBody = &Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "failed to parse form body",
	}

	// ErrConsentRequired tells the authorize caller the subject has not
	// yet granted the requested scopes to this client.
	ErrConsentRequired = &Error{
		StatusCode:  http.StatusOK,
		Code:        ErrorCodeConsentRequired,
		Description: "subject consent is required for the requested scopes",
	}
)
