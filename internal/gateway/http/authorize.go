package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/oauthx"
)

// SubjectHeader carries the authenticated end user, set by the identity
// proxy in front of the gateway. The gateway never sees credentials.
const SubjectHeader = "X-Authenticated-Subject"

// AuthorizeHandler implements the authorization endpoint. GET presents the
// request (and a consent prompt when needed); POST carries the subject's
// consent decision.
type AuthorizeHandler struct {
	AuthorizeService *service.AuthorizeService
}

func (h *AuthorizeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, buildAuthorizeRequest(r, r.URL.Query().Get, service.ConsentUndecided))
}

func (h *AuthorizeHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthx.ErrInvalidFormBody.WriteError(w)
		return
	}
	h.process(w, r, buildAuthorizeRequest(r, r.PostForm.Get, service.ConsentAction(r.PostForm.Get("consent"))))
}

func buildAuthorizeRequest(r *http.Request, get func(string) string, consent service.ConsentAction) service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        get("response_type"),
		ClientID:            get("client_id"),
		RedirectURI:         get("redirect_uri"),
		Scopes:              httpx.ParseSpaceDelimitedFields(get("scope")),
		State:               get("state"),
		CodeChallenge:       get("code_challenge"),
		CodeChallengeMethod: get("code_challenge_method"),
		SubjectID:           r.Header.Get(SubjectHeader),
		Consent:             consent,
	}
}

func (h *AuthorizeHandler) process(w http.ResponseWriter, r *http.Request, req service.AuthorizeRequest) {
	if req.SubjectID == "" {
		httpx.WriteJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "login_required",
			"error_description": "no authenticated subject; sign in upstream first",
		})
		return
	}

	res, err := h.AuthorizeService.Authorize(r.Context(), req)
	if err != nil {
		h.writeAuthorizeError(w, r, req, err)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, res.RedirectURI, http.StatusFound)
}

// writeAuthorizeError answers per RFC 6749 §4.1.2.1: failures found before
// the client and redirect URI validate are answered directly, everything
// after rides the redirect back to the client.
func (h *AuthorizeHandler) writeAuthorizeError(w http.ResponseWriter, r *http.Request, req service.AuthorizeRequest, err error) {
	if prompt, ok := service.ConsentPromptFromError(err); ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"error":             oauthx.ErrorCodeConsentRequired,
			"error_description": "the subject has not granted these scopes to this client",
			"consent": map[string]any{
				"client_id":   prompt.ClientID,
				"client_name": prompt.ClientName,
				"scopes":      prompt.Scopes,
			},
		})
		return
	}

	var code string
	switch {
	case errors.Is(err, service.ErrUnsupportedResponseType):
		code = oauthx.ErrorCodeUnsupportedResponseType
	case errors.Is(err, service.ErrInvalidScope):
		code = oauthx.ErrorCodeInvalidScope
	case errors.Is(err, service.ErrAccessDenied):
		code = oauthx.ErrorCodeAccessDenied
	default:
		// Client or redirect URI did not validate: never redirect.
		writeOAuthError(w, r, err)
		return
	}

	httpx.NoCache(w)
	http.Redirect(w, r, service.BuildRedirect(req.RedirectURI, url.Values{
		"error": {code},
		"state": {req.State},
	}), http.StatusFound)
}
