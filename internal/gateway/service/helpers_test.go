package service_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/asoos/integration-gateway/internal/gateway/store/drivers/sqlite"
	"github.com/asoos/integration-gateway/internal/gateway/tools"
	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://gateway.test"

// fixture wires a full service stack over a throwaway sqlite file.
type fixture struct {
	Store     *sqlite.Store
	Registry  *service.RegistryService
	Authorize *service.AuthorizeService
	Tokens    *service.TokenService
	Approvals *service.ApprovalService
	Invoke    *service.InvokeService
	Verifier  *jwtx.Verifier
	Index     *tools.Index
}

func newFixture(t *testing.T) *fixture {
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

	index := tools.NewIndex(
		tools.Document{
			ID: "doc-1", Title: "Deployment runbook",
			URL: "https://docs.example/runbook", Snippet: "How to deploy",
			Content: "Deploy with the blue-green strategy.",
		},
	)
	registry := tools.NewRegistry(&tools.SearchTool{Index: index}, &tools.FetchTool{Index: index})

	approvals := &service.ApprovalService{
		Store:   st,
		Tools:   registry,
		Metrics: metrics,
		Timeout: time.Minute,
	}

	return &fixture{
		Store:    st,
		Registry: &service.RegistryService{Store: st, Policy: policy},
		Authorize: &service.AuthorizeService{
			Store:   st,
			Policy:  policy,
			CodeTTL: time.Minute,
		},
		Tokens: &service.TokenService{
			Store:       st,
			Signer:      signer,
			Verifier:    verifier,
			Revocations: service.NewRevocationCache(st),
			Metrics:     metrics,
			Issuer:      testIssuer,
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  time.Hour,
		},
		Approvals: approvals,
		Invoke: &service.InvokeService{
			Store:     st,
			Tools:     registry,
			Approvals: approvals,
			Metrics:   metrics,
		},
		Verifier: verifier,
		Index:    index,
	}
}

// registerPublic registers a public client with the standard tool scopes.
func (f *fixture) registerPublic(t *testing.T) domain.Client {
	t.Helper()

	res, err := f.Registry.Register(context.Background(), service.RegisterRequest{
		Name:         "Agent CLI",
		Type:         domain.ClientTypePublic,
		RedirectURIs: []string{"https://app.example/callback"},
		Scopes:       []string{"mcp:search", "mcp:fetch", "approvals:write"},
	})
	require.NoError(t, err)
	return res.Client
}

// pkcePair returns a verifier and its S256 challenge.
func pkcePair() (verifier, challenge string) {
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

// issueCode runs the authorize flow with consent granted and returns the
// minted code.
func (f *fixture) issueCode(t *testing.T, client domain.Client, subjectID string, scopes []string, challenge string) string {
	t.Helper()

	res, err := f.Authorize.Authorize(context.Background(), service.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            client.ID,
		RedirectURI:         client.RedirectURIs[0],
		Scopes:              scopes,
		State:               "st-123",
		CodeChallenge:       challenge,
		CodeChallengeMethod: domain.CodeChallengeS256,
		SubjectID:           subjectID,
		Consent:             service.ConsentAllow,
	})
	require.NoError(t, err)
	return res.Code
}
