package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/pkg/cryptox"
	"github.com/asoos/integration-gateway/pkg/slogx"
	"github.com/google/uuid"
)

// RegistryService handles dynamic client registration and the admin
// operations over registered clients.
type RegistryService struct {
	Store  store.Store
	Policy *ScopePolicy
}

// RegisterRequest is the validated input for a new client registration.
type RegisterRequest struct {
	Name         string
	Type         domain.ClientType
	RedirectURIs []string
	Scopes       []string
	ClientURI    string
	LogoURI      string
}

// RegisterResult carries the created client plus the one-time secret and
// the scopes that were requested but are not grantable.
type RegisterResult struct {
	Client domain.Client

	// Secret is the plaintext client secret, present exactly once for
	// confidential clients. Only its hash is stored.
	Secret string

	// InvalidScopes echoes requested scopes outside the policy so the
	// registrant sees what was refused.
	InvalidScopes []string
}

// Register creates a new client. Unknown scopes do not fail the request;
// they are stripped and echoed back. A request with no valid scope at all
// is refused.
func (s *RegistryService) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	log := slogx.FromContext(ctx)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return RegisterResult{}, fmt.Errorf("%w: client name is required", ErrInvalidRequest)
	}
	if len(req.RedirectURIs) == 0 {
		return RegisterResult{}, fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidRequest)
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return RegisterResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	switch req.Type {
	case domain.ClientTypePublic, domain.ClientTypeConfidential:
	case "":
		req.Type = domain.ClientTypePublic
	default:
		return RegisterResult{}, fmt.Errorf("%w: unknown client type %q", ErrInvalidRequest, req.Type)
	}

	valid, invalid := s.Policy.Partition(req.Scopes)
	if len(valid) == 0 {
		return RegisterResult{}, fmt.Errorf("%w: no grantable scopes requested", ErrInvalidScope)
	}

	var secret, secretHash string
	if req.Type == domain.ClientTypeConfidential {
		var err error
		secret, err = cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return RegisterResult{}, err
		}
		secretHash, err = cryptox.HashSecret(secret)
		if err != nil {
			return RegisterResult{}, err
		}
	}

	now := time.Now().UTC()
	client := domain.Client{
		ID:           uuid.NewString(),
		Name:         req.Name,
		SecretHash:   secretHash,
		Type:         req.Type,
		RedirectURIs: req.RedirectURIs,
		Scopes:       valid,
		ClientURI:    req.ClientURI,
		LogoURI:      req.LogoURI,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Clients().CreateClient(ctx, client); err != nil {
		return RegisterResult{}, err
	}

	log.Info("client registered",
		"client_id", client.ID,
		"type", string(client.Type),
		"scopes", strings.Join(valid, " "),
	)
	return RegisterResult{Client: client, Secret: secret, InvalidScopes: invalid}, nil
}

// List returns all registered clients.
func (s *RegistryService) List(ctx context.Context) ([]domain.Client, error) {
	return s.Store.Clients().ListClients(ctx)
}

// Get returns a single client by id.
func (s *RegistryService) Get(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, ErrNotFound
	}
	return client, err
}

// UpdateName renames a client.
func (s *RegistryService) UpdateName(ctx context.Context, clientID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: client name is required", ErrInvalidRequest)
	}
	return mapStoreNotFound(s.Store.Clients().UpdateClientName(ctx, clientID, name))
}

// UpdateScopes replaces a client's scope allow-list. Unknown scopes fail
// the whole update; admins should know what they are granting.
func (s *RegistryService) UpdateScopes(ctx context.Context, clientID string, scopes []string) error {
	valid, invalid := s.Policy.Partition(scopes)
	if len(invalid) > 0 {
		return fmt.Errorf("%w: unknown scopes: %s", ErrInvalidScope, strings.Join(invalid, " "))
	}
	if len(valid) == 0 {
		return fmt.Errorf("%w: scope list cannot be empty", ErrInvalidScope)
	}
	return mapStoreNotFound(s.Store.Clients().UpdateClientScopes(ctx, clientID, valid))
}

// UpdateRedirectURIs replaces a client's registered redirect URIs, with the
// same validation as registration.
func (s *RegistryService) UpdateRedirectURIs(ctx context.Context, clientID string, uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidRequest)
	}
	for _, uri := range uris {
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return mapStoreNotFound(s.Store.Clients().UpdateClientRedirectURIs(ctx, clientID, uris))
}

// SetRequiresApproval toggles forced approval for all of a client's
// sensitive tool calls.
func (s *RegistryService) SetRequiresApproval(ctx context.Context, clientID string, required bool) error {
	return mapStoreNotFound(s.Store.Clients().UpdateClientRequiresApproval(ctx, clientID, required))
}

// RotateSecret mints a fresh secret for a confidential client and returns
// the plaintext once. Public clients have no secret to rotate.
func (s *RegistryService) RotateSecret(ctx context.Context, clientID string) (string, error) {
	client, err := s.Get(ctx, clientID)
	if err != nil {
		return "", err
	}
	if client.IsPublic() {
		return "", fmt.Errorf("%w: public clients have no secret", ErrInvalidRequest)
	}

	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	hash, err := cryptox.HashSecret(secret)
	if err != nil {
		return "", err
	}
	if err := mapStoreNotFound(s.Store.Clients().UpdateClientSecretHash(ctx, clientID, hash)); err != nil {
		return "", err
	}
	return secret, nil
}

// Deactivate disables a client. Every grant path re-reads the client row,
// so deactivation blocks new codes, exchanges, and refreshes immediately;
// outstanding access tokens ride out their short TTL.
func (s *RegistryService) Deactivate(ctx context.Context, clientID string) error {
	return mapStoreNotFound(s.Store.Clients().DeactivateClient(ctx, clientID))
}

func mapStoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// validateRedirectURI enforces absolute URIs without fragments, https
// except for loopback hosts.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect_uri %q is not a valid URL", raw)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("redirect_uri %q must be absolute", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect_uri %q must not contain a fragment", raw)
	}
	if u.Scheme == "https" {
		return nil
	}
	if u.Scheme == "http" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1") {
		return nil
	}
	return fmt.Errorf("redirect_uri %q must use https (http allowed for loopback only)", raw)
}
