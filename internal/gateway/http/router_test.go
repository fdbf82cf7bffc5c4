package http_test

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gatewayhttp "github.com/asoos/integration-gateway/internal/gateway/http"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/store/drivers/sqlite"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://gateway.test"

type env struct {
	Server *httptest.Server
	Client *http.Client
	Tokens *service.TokenService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	signer, err := jwtx.NewSigner(jwtx.AlgEdDSA, "test-key")
	require.NoError(t, err)
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))
	verifier := jwtx.NewVerifier(keys, testIssuer)

	policy := service.DefaultScopePolicy()
	metrics := metricsx.New()
	revocations := service.NewRevocationCache(st)

	index := tools.NewIndex(tools.Document{
		ID: "doc-1", Title: "Deployment runbook",
		URL: "https://docs.example/runbook", Snippet: "How to deploy",
		Content: "Deploy with the blue-green strategy.",
	})
	registry := tools.NewRegistry(&tools.SearchTool{Index: index}, &tools.FetchTool{Index: index})

	approvals := &service.ApprovalService{
		Store:   st,
		Tools:   registry,
		Metrics: metrics,
		Timeout: time.Minute,
	}

	tokens := &service.TokenService{
		Store:       st,
		Signer:      signer,
		Verifier:    verifier,
		Revocations: revocations,
		Metrics:     metrics,
		Issuer:      testIssuer,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  time.Hour,
	}

	router := gatewayhttp.NewRouter(
		keys, verifier, revocations,
		testIssuer, "test",
		st, metrics, policy, registry,
		slog.New(slog.DiscardHandler),
	)
	router.RegistryService = &service.RegistryService{Store: st, Policy: policy}
	router.AuthorizeService = &service.AuthorizeService{Store: st, Policy: policy, CodeTTL: time.Minute}
	router.TokenService = tokens
	router.ApprovalService = approvals
	router.InvokeService = &service.InvokeService{Store: st, Tools: registry, Approvals: approvals, Metrics: metrics}
	router.ApplyRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := server.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &env{Server: server, Client: client, Tokens: tokens}
}

func (e *env) postJSON(t *testing.T, path, bearer, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.Server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return e.do(t, req)
}

func (e *env) get(t *testing.T, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.Server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return e.do(t, req)
}

func (e *env) postForm(t *testing.T, path string, form url.Values) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.Server.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func (e *env) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	res, err := e.Client.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	_ = res.Body.Close()

	var body map[string]any
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &body), "body: %s", raw)
	}
	return res, body
}

// registerClient registers a public client over the wire and returns its id.
func (e *env) registerClient(t *testing.T, scope string) string {
	t.Helper()
	res, body := e.postJSON(t, "/oauth/register", "", `{
		"client_name": "Agent CLI",
		"client_type": "public",
		"redirect_uris": ["https://app.example/callback"],
		"scope": "`+scope+`"
	}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Equal(t, "no-store", res.Header.Get("Cache-Control"))
	return body["client_id"].(string)
}

func pkcePair() (verifier, challenge string) {
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

// authorize walks consent-allow through POST /oauth/authorize and returns
// the code from the redirect.
func (e *env) authorize(t *testing.T, clientID, subject, scope, challenge string) string {
	t.Helper()
	form := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {"https://app.example/callback"},
		"scope":                 {scope},
		"state":                 {"st-1"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"consent":               {"allow"},
	}
	req, err := http.NewRequest(http.MethodPost, e.Server.URL+"/oauth/authorize", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(gatewayhttp.SubjectHeader, subject)

	res, _ := e.do(t, req)
	require.Equal(t, http.StatusFound, res.StatusCode)

	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "st-1", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// exchange trades a code for tokens over the wire.
func (e *env) exchange(t *testing.T, clientID, code, verifier string) map[string]any {
	t.Helper()
	res, body := e.postForm(t, "/oauth/token", url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {"https://app.example/callback"},
		"code_verifier": {verifier},
	})
	require.Equal(t, http.StatusOK, res.StatusCode, "body: %v", body)
	require.Equal(t, "no-store", res.Header.Get("Cache-Control"))
	return body
}

func (e *env) token(t *testing.T, scope string) (access, refresh, clientID string) {
	t.Helper()
	clientID = e.registerClient(t, scope)
	verifier, challenge := pkcePair()
	code := e.authorize(t, clientID, "subject-1", scope, challenge)
	body := e.exchange(t, clientID, code, verifier)
	return body["access_token"].(string), body["refresh_token"].(string), clientID
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	clientID := e.registerClient(t, "mcp:search mcp:fetch approvals:write")
	verifier, challenge := pkcePair()

	t.Run("authorize without upstream identity", func(t *testing.T) {
		res, body := e.get(t, "/oauth/authorize?response_type=code&client_id="+clientID, "")
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
		require.Equal(t, "login_required", body["error"])
	})

	t.Run("first visit prompts for consent", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.Server.URL+"/oauth/authorize?"+url.Values{
			"response_type":         {"code"},
			"client_id":             {clientID},
			"redirect_uri":          {"https://app.example/callback"},
			"scope":                 {"mcp:search"},
			"code_challenge":        {challenge},
			"code_challenge_method": {"S256"},
		}.Encode(), nil)
		require.NoError(t, err)
		req.Header.Set(gatewayhttp.SubjectHeader, "subject-1")

		res, body := e.do(t, req)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "consent_required", body["error"])
		consent := body["consent"].(map[string]any)
		require.Equal(t, clientID, consent["client_id"])
	})

	t.Run("consent allow redirects with a code, code exchanges once", func(t *testing.T) {
		code := e.authorize(t, clientID, "subject-1", "mcp:search", challenge)

		body := e.exchange(t, clientID, code, verifier)
		require.Equal(t, "Bearer", body["token_type"])
		require.Equal(t, "mcp:search", body["scope"])
		require.NotEmpty(t, body["access_token"])
		require.NotEmpty(t, body["refresh_token"])

		res, errBody := e.postForm(t, "/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"client_id":     {clientID},
			"code":          {code},
			"redirect_uri":  {"https://app.example/callback"},
			"code_verifier": {verifier},
		})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "invalid_grant", errBody["error"])
	})

	t.Run("unknown client is answered directly, not redirected", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.Server.URL+"/oauth/authorize?response_type=code&client_id=ghost&redirect_uri=https%3A%2F%2Fapp.example%2Fcallback", nil)
		require.NoError(t, err)
		req.Header.Set(gatewayhttp.SubjectHeader, "subject-1")

		res, body := e.do(t, req)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "invalid_request", body["error"])
	})

	t.Run("bad response type rides the redirect", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.Server.URL+"/oauth/authorize?"+url.Values{
			"response_type": {"token"},
			"client_id":     {clientID},
			"redirect_uri":  {"https://app.example/callback"},
			"scope":         {"mcp:search"},
			"state":         {"st-9"},
		}.Encode(), nil)
		require.NoError(t, err)
		req.Header.Set(gatewayhttp.SubjectHeader, "subject-1")

		res, _ := e.do(t, req)
		require.Equal(t, http.StatusFound, res.StatusCode)
		loc, err := url.Parse(res.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, "unsupported_response_type", loc.Query().Get("error"))
		require.Equal(t, "st-9", loc.Query().Get("state"))
	})
}

func TestTokenEndpointGuards(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	t.Run("content type", func(t *testing.T) {
		res, body := e.postJSON(t, "/oauth/token", "", `{}`)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "invalid_request", body["error"])
	})

	t.Run("unsupported grant type", func(t *testing.T) {
		res, body := e.postForm(t, "/oauth/token", url.Values{"grant_type": {"password"}})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "unsupported_grant_type", body["error"])
	})
}

func TestRefreshAndRevoke(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	access, refresh, clientID := e.token(t, "mcp:search")

	t.Run("refresh rotates", func(t *testing.T) {
		res, body := e.postForm(t, "/oauth/token", url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {clientID},
			"refresh_token": {refresh},
		})
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEqual(t, refresh, body["refresh_token"])

		// Replaying the rotated-out token is reported as invalid_grant.
		res, errBody := e.postForm(t, "/oauth/token", url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {clientID},
			"refresh_token": {refresh},
		})
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
		require.Equal(t, "invalid_grant", errBody["error"])
	})

	t.Run("revoking an access token locks it out immediately", func(t *testing.T) {
		res, _ := e.postJSON(t, "/mcp/search", access, `{"arguments":{"query":"runbook"}}`)
		require.Equal(t, http.StatusOK, res.StatusCode)

		res, body := e.postForm(t, "/oauth/revoke", url.Values{
			"client_id": {clientID},
			"token":     {access},
		})
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, true, body["success"])

		res, _ = e.postJSON(t, "/mcp/search", access, `{"arguments":{"query":"runbook"}}`)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
		require.Contains(t, res.Header.Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("unknown token still succeeds", func(t *testing.T) {
		res, body := e.postForm(t, "/oauth/revoke", url.Values{
			"client_id": {clientID},
			"token":     {"completely-unknown"},
		})
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, true, body["success"])
	})
}

func TestToolInvocationAndApproval(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	access, _, _ := e.token(t, "mcp:search mcp:fetch approvals:write")

	t.Run("search executes inline", func(t *testing.T) {
		res, body := e.postJSON(t, "/mcp/search", access, `{"arguments":{"query":"runbook"}}`)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotNil(t, body["output"])
	})

	t.Run("no bearer token", func(t *testing.T) {
		res, _ := e.postJSON(t, "/mcp/search", "", `{"arguments":{"query":"runbook"}}`)
		require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("unknown tool", func(t *testing.T) {
		res, _ := e.postJSON(t, "/mcp/launch-missiles", access, `{"arguments":{}}`)
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("fetch parks, owner approves, result is recorded", func(t *testing.T) {
		res, body := e.postJSON(t, "/mcp/fetch", access, `{"arguments":{"id":"doc-1"},"previous_response_id":"resp-7"}`)
		require.Equal(t, http.StatusAccepted, res.StatusCode)
		require.Equal(t, "approval_pending", body["error"])
		approvalID := body["approval_request_id"].(string)
		require.Equal(t, "resp-7", body["previous_response_id"])

		res, view := e.get(t, "/approvals/"+approvalID, access)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "pending", view["status"])
		require.Equal(t, "resp-7", view["previous_response_id"])

		res, view = e.postJSON(t, "/approvals/"+approvalID, access, `{"decision":"approved"}`)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "approved", view["status"])

		result := view["result"].(map[string]any)
		require.Equal(t, "Deployment runbook", result["title"])

		// A contradictory second answer changes nothing.
		res, view = e.postJSON(t, "/approvals/"+approvalID, access, `{"decision":"rejected"}`)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "approved", view["status"])
	})

	t.Run("list own approvals", func(t *testing.T) {
		res, body := e.get(t, "/approvals", access)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEmpty(t, body["approvals"])
	})

	t.Run("admin routes demand admin scope", func(t *testing.T) {
		res, _ := e.get(t, "/admin/apps", access)
		require.Equal(t, http.StatusForbidden, res.StatusCode)
	})
}

func TestDiscoveryAndHealth(t *testing.T) {
	t.Parallel()

	e := newEnv(t)

	t.Run("mcp metadata", func(t *testing.T) {
		res, body := e.get(t, "/.well-known/mcp", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, testIssuer, body["issuer"])
		require.Equal(t, testIssuer+"/oauth/token", body["token_endpoint"])
		require.Len(t, body["tools"], 2)
	})

	t.Run("jwks", func(t *testing.T) {
		res, body := e.get(t, "/.well-known/jwks.json", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEmpty(t, body["keys"])
	})

	t.Run("health", func(t *testing.T) {
		res, _ := e.get(t, "/livez", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
		res, _ = e.get(t, "/readyz", "")
		require.Equal(t, http.StatusOK, res.StatusCode)
	})
}
