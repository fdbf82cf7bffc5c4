package http

import (
	"net/http"
	"strings"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/pkg/httpx"
	"github.com/asoos/integration-gateway/pkg/oauthx"
)

// TokenHandler implements the token endpoint: the authorization_code and
// refresh_token grants.
type TokenHandler struct {
	TokenService *service.TokenService
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		oauthx.ErrInvalidContentType.WriteError(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthx.ErrInvalidFormBody.WriteError(w)
		return
	}

	clientID, clientSecret := clientCredentials(r)

	var (
		pair domain.TokenPair
		err  error
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		pair, err = h.TokenService.ExchangeAuthorizationCode(r.Context(),
			clientID, clientSecret,
			r.PostForm.Get("code"),
			r.PostForm.Get("redirect_uri"),
			r.PostForm.Get("code_verifier"),
		)
	case "refresh_token":
		pair, err = h.TokenService.RefreshTokens(r.Context(),
			clientID, clientSecret,
			r.PostForm.Get("refresh_token"),
		)
	default:
		oauthx.ErrUnsupportedGrantType.WriteError(w)
		return
	}
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
		Scope:        strings.Join(pair.Scopes, " "),
	})
}

// clientCredentials reads HTTP Basic auth first, falling back to the form
// parameters public clients use.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}
