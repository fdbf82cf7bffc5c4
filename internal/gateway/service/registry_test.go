package service_test

import (
	"context"
	"testing"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/service"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	t.Run("public client gets no secret", func(t *testing.T) {
		res, err := f.Registry.Register(ctx, service.RegisterRequest{
			Name:         "CLI",
			Type:         domain.ClientTypePublic,
			RedirectURIs: []string{"https://app.example/cb"},
			Scopes:       []string{"mcp:search"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.Client.ID)
		require.Empty(t, res.Secret)
		require.Empty(t, res.Client.SecretHash)
		require.True(t, res.Client.Active)
	})

	t.Run("confidential client gets a one-time secret", func(t *testing.T) {
		res, err := f.Registry.Register(ctx, service.RegisterRequest{
			Name:         "Backend",
			Type:         domain.ClientTypeConfidential,
			RedirectURIs: []string{"https://backend.example/cb"},
			Scopes:       []string{"mcp:search"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, res.Secret)

		stored, err := f.Registry.Get(ctx, res.Client.ID)
		require.NoError(t, err)
		require.NotEmpty(t, stored.SecretHash)
		require.NotContains(t, stored.SecretHash, res.Secret, "plaintext is never stored")
	})

	t.Run("unknown scopes are stripped and echoed", func(t *testing.T) {
		res, err := f.Registry.Register(ctx, service.RegisterRequest{
			Name:         "Over-asker",
			RedirectURIs: []string{"https://app.example/cb"},
			Scopes:       []string{"mcp:search", "root:everything", "mcp:search"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"mcp:search"}, res.Client.Scopes)
		require.Equal(t, []string{"root:everything"}, res.InvalidScopes)
	})

	t.Run("no valid scopes refused", func(t *testing.T) {
		_, err := f.Registry.Register(ctx, service.RegisterRequest{
			Name:         "Nope",
			RedirectURIs: []string{"https://app.example/cb"},
			Scopes:       []string{"root:everything"},
		})
		require.ErrorIs(t, err, service.ErrInvalidScope)
	})

	t.Run("redirect uri validation", func(t *testing.T) {
		for _, uri := range []string{
			"not-a-url",
			"/relative/path",
			"http://app.example/cb",
			"https://app.example/cb#fragment",
		} {
			_, err := f.Registry.Register(ctx, service.RegisterRequest{
				Name:         "Bad URI",
				RedirectURIs: []string{uri},
				Scopes:       []string{"mcp:search"},
			})
			require.ErrorIs(t, err, service.ErrInvalidRequest, uri)
		}

		// http is fine for loopback.
		_, err := f.Registry.Register(ctx, service.RegisterRequest{
			Name:         "Localhost Dev",
			RedirectURIs: []string{"http://localhost:8081/cb"},
			Scopes:       []string{"mcp:search"},
		})
		require.NoError(t, err)
	})

	t.Run("missing name or redirect uris", func(t *testing.T) {
		_, err := f.Registry.Register(ctx, service.RegisterRequest{
			RedirectURIs: []string{"https://app.example/cb"},
			Scopes:       []string{"mcp:search"},
		})
		require.ErrorIs(t, err, service.ErrInvalidRequest)

		_, err = f.Registry.Register(ctx, service.RegisterRequest{
			Name:   "No redirects",
			Scopes: []string{"mcp:search"},
		})
		require.ErrorIs(t, err, service.ErrInvalidRequest)
	})
}

func TestRegistryAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.Registry.Register(ctx, service.RegisterRequest{
		Name:         "Managed App",
		Type:         domain.ClientTypeConfidential,
		RedirectURIs: []string{"https://app.example/cb"},
		Scopes:       []string{"mcp:search"},
	})
	require.NoError(t, err)
	id := res.Client.ID

	t.Run("update scopes rejects unknown", func(t *testing.T) {
		err := f.Registry.UpdateScopes(ctx, id, []string{"mcp:search", "bogus"})
		require.ErrorIs(t, err, service.ErrInvalidScope)

		require.NoError(t, f.Registry.UpdateScopes(ctx, id, []string{"mcp:search", "mcp:fetch"}))
		got, err := f.Registry.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []string{"mcp:search", "mcp:fetch"}, got.Scopes)
	})

	t.Run("update redirect uris validates like registration", func(t *testing.T) {
		err := f.Registry.UpdateRedirectURIs(ctx, id, []string{"https://app.example/cb#frag"})
		require.ErrorIs(t, err, service.ErrInvalidRequest)

		err = f.Registry.UpdateRedirectURIs(ctx, id, nil)
		require.ErrorIs(t, err, service.ErrInvalidRequest)

		require.NoError(t, f.Registry.UpdateRedirectURIs(ctx, id, []string{"https://app.example/v2/cb"}))
		got, err := f.Registry.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, []string{"https://app.example/v2/cb"}, got.RedirectURIs)
	})

	t.Run("rotate secret invalidates the old one", func(t *testing.T) {
		before, err := f.Registry.Get(ctx, id)
		require.NoError(t, err)

		secret, err := f.Registry.RotateSecret(ctx, id)
		require.NoError(t, err)
		require.NotEmpty(t, secret)

		after, err := f.Registry.Get(ctx, id)
		require.NoError(t, err)
		require.NotEqual(t, before.SecretHash, after.SecretHash)
	})

	t.Run("rotate secret refuses public clients", func(t *testing.T) {
		pub := f.registerPublic(t)
		_, err := f.Registry.RotateSecret(ctx, pub.ID)
		require.ErrorIs(t, err, service.ErrInvalidRequest)
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, f.Registry.Deactivate(ctx, id))
		got, err := f.Registry.Get(ctx, id)
		require.NoError(t, err)
		require.False(t, got.Active)
	})

	t.Run("unknown client id", func(t *testing.T) {
		require.ErrorIs(t, f.Registry.UpdateName(ctx, "missing", "x"), service.ErrNotFound)
		_, err := f.Registry.Get(ctx, "missing")
		require.ErrorIs(t, err, service.ErrNotFound)
	})
}
