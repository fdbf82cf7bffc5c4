package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/stretchr/testify/require"
)

func TestExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	client := f.registerPublic(t)
	verifier, challenge := pkcePair()

	t.Run("happy path issues a verifiable pair", func(t *testing.T) {
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		pair, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.NoError(t, err)
		require.Equal(t, "Bearer", pair.TokenType)
		require.NotEmpty(t, pair.RefreshToken)
		require.Positive(t, pair.ExpiresIn)

		claims, err := f.Verifier.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, "subject-1", claims.Subject)
		require.Equal(t, client.ID, claims.ClientID)
		require.Equal(t, []string{"mcp:search"}, claims.Scopes)
	})

	t.Run("code is single use", func(t *testing.T) {
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.NoError(t, err)

		_, err = f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("wrong PKCE verifier burns the code", func(t *testing.T) {
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], "wrong-verifier")
		require.ErrorIs(t, err, service.ErrInvalidGrant)

		// Even the right verifier can't resurrect it.
		_, err = f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("redirect uri must match issuance", func(t *testing.T) {
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, "https://evil.example/cb", verifier)
		require.ErrorIs(t, err, service.ErrInvalidGrant)

		// The failed attempt burned the code; the real redirect URI no
		// longer redeems it.
		_, err = f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("wrong client", func(t *testing.T) {
		other := f.registerPublic(t)
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, other.ID, "", code, client.RedirectURIs[0], verifier)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, "ghost", "", "whatever", client.RedirectURIs[0], verifier)
		require.ErrorIs(t, err, service.ErrInvalidClient)
	})

	t.Run("concurrent exchange: exactly one wins", func(t *testing.T) {
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)

		const attempts = 10
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins int
		for err := range results {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, service.ErrInvalidGrant)
			}
		}
		require.Equal(t, 1, wins)
	})
}

func TestConfidentialClientAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.Registry.Register(ctx, service.RegisterRequest{
		Name:         "Backend",
		Type:         domain.ClientTypeConfidential,
		RedirectURIs: []string{"https://backend.example/cb"},
		Scopes:       []string{"mcp:search"},
	})
	require.NoError(t, err)
	client, secret := res.Client, res.Secret

	code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, "")

	t.Run("missing secret", func(t *testing.T) {
		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], "")
		require.ErrorIs(t, err, service.ErrInvalidClient)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "nope", code, client.RedirectURIs[0], "")
		require.ErrorIs(t, err, service.ErrInvalidClient)
	})

	t.Run("right secret", func(t *testing.T) {
		_, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, secret, code, client.RedirectURIs[0], "")
		require.NoError(t, err)
	})
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	client := f.registerPublic(t)
	verifier, challenge := pkcePair()

	exchange := func(t *testing.T) domain.TokenPair {
		t.Helper()
		code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)
		pair, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
		require.NoError(t, err)
		return pair
	}

	t.Run("rotation returns a new refresh token", func(t *testing.T) {
		pair := exchange(t)

		next, err := f.Tokens.RefreshTokens(ctx, client.ID, "", pair.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, pair.RefreshToken, next.RefreshToken)
		require.Equal(t, pair.Scopes, next.Scopes)
	})

	t.Run("reusing a rotated token revokes the family", func(t *testing.T) {
		pair := exchange(t)

		next, err := f.Tokens.RefreshTokens(ctx, client.ID, "", pair.RefreshToken)
		require.NoError(t, err)

		// Replay generation 1: theft signal.
		_, err = f.Tokens.RefreshTokens(ctx, client.ID, "", pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidGrant)

		// The fresh generation 2 died with the family.
		_, err = f.Tokens.RefreshTokens(ctx, client.ID, "", next.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("unknown refresh token", func(t *testing.T) {
		_, err := f.Tokens.RefreshTokens(ctx, client.ID, "", "made-up-token")
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("wrong client for the token", func(t *testing.T) {
		pair := exchange(t)
		other := f.registerPublic(t)

		_, err := f.Tokens.RefreshTokens(ctx, other.ID, "", pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	client := f.registerPublic(t)
	verifier, challenge := pkcePair()

	code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)
	pair, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
	require.NoError(t, err)

	t.Run("revoking a refresh token kills the family", func(t *testing.T) {
		require.NoError(t, f.Tokens.Revoke(ctx, client.ID, "", pair.RefreshToken))

		_, err := f.Tokens.RefreshTokens(ctx, client.ID, "", pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidGrant)
	})

	t.Run("revoking an access token lands its jti on the list", func(t *testing.T) {
		claims, err := f.Verifier.Verify(pair.AccessToken)
		require.NoError(t, err)
		require.False(t, f.Tokens.Revocations.IsRevoked(claims.ID))

		require.NoError(t, f.Tokens.Revoke(ctx, client.ID, "", pair.AccessToken))
		require.True(t, f.Tokens.Revocations.IsRevoked(claims.ID))

		revoked, err := f.Store.RevokedAccessTokens().IsAccessTokenRevoked(ctx, claims.ID)
		require.NoError(t, err)
		require.True(t, revoked)
	})

	t.Run("unknown tokens revoke successfully", func(t *testing.T) {
		require.NoError(t, f.Tokens.Revoke(ctx, client.ID, "", "completely-unknown"))
		require.NoError(t, f.Tokens.Revoke(ctx, client.ID, "", pair.RefreshToken), "repeat is idempotent")
	})

	t.Run("client auth still required", func(t *testing.T) {
		err := f.Tokens.Revoke(ctx, "ghost", "", pair.RefreshToken)
		require.ErrorIs(t, err, service.ErrInvalidClient)
	})
}

func TestRevocationCacheWarm(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	client := f.registerPublic(t)
	verifier, challenge := pkcePair()

	code := f.issueCode(t, client, "subject-1", []string{"mcp:search"}, challenge)
	pair, err := f.Tokens.ExchangeAuthorizationCode(ctx, client.ID, "", code, client.RedirectURIs[0], verifier)
	require.NoError(t, err)
	require.NoError(t, f.Tokens.Revoke(ctx, client.ID, "", pair.AccessToken))

	claims, err := f.Verifier.Verify(pair.AccessToken)
	require.NoError(t, err)

	// A fresh cache (as after restart) knows nothing until warmed.
	fresh := service.NewRevocationCache(f.Store)
	require.False(t, fresh.IsRevoked(claims.ID))
	require.NoError(t, fresh.Warm(ctx))
	require.True(t, fresh.IsRevoked(claims.ID))
}
