package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/asoos/integration-gateway/internal/gateway/domain"
	"github.com/asoos/integration-gateway/internal/gateway/store"
	"github.com/asoos/integration-gateway/pkg/cryptox"
	"github.com/asoos/integration-gateway/pkg/idx"
	"github.com/asoos/integration-gateway/pkg/jwtx"
	"github.com/asoos/integration-gateway/pkg/metricsx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// TokenService implements the token endpoint grants and revocation.
type TokenService struct {
	Store       store.Store
	Signer      jwtx.Signer
	Verifier    *jwtx.Verifier
	Revocations *RevocationCache
	Metrics     *metricsx.Metrics

	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ExchangeAuthorizationCode implements the authorization_code grant. Every
// failure of the presented code (unknown, expired, used, wrong client,
// wrong redirect URI, failed PKCE) surfaces as the same ErrInvalidGrant so
// callers learn nothing about which check failed.
func (s *TokenService) ExchangeAuthorizationCode(
	ctx context.Context,
	clientID, clientSecret, code, redirectURI, codeVerifier string,
) (domain.TokenPair, error) {
	now := time.Now().UTC()
	log := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		s.countFailure("invalid_client")
		return domain.TokenPair{}, err
	}

	code = strings.TrimSpace(code)
	redirectURI = strings.TrimSpace(redirectURI)
	if code == "" || redirectURI == "" {
		s.countFailure("invalid_grant")
		return domain.TokenPair{}, ErrInvalidGrant
	}

	// The burn commits on its own, before any validation: the code dies
	// whether or not the checks below pass, so a stolen code cannot be
	// retried until the right verifier or redirect URI turns up.
	authCode, err := s.Store.AuthorizationCodes().ConsumeAuthorizationCode(ctx, cryptox.FingerprintToken(code), now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, s.rejectExchange(ctx, clientID)
		}
		return domain.TokenPair{}, err
	}

	if authCode.ClientID != client.ID {
		return domain.TokenPair{}, s.rejectExchange(ctx, clientID)
	}
	if authCode.RedirectURI != redirectURI {
		return domain.TokenPair{}, s.rejectExchange(ctx, clientID)
	}
	if !authCode.VerifyPKCE(codeVerifier) {
		return domain.TokenPair{}, s.rejectExchange(ctx, clientID)
	}

	pair, err := s.mintPair(ctx, s.Store.RefreshTokens(), client.ID, authCode.SubjectID, authCode.Scopes, idx.New().String(), 1, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	s.Metrics.TokensIssued.WithLabelValues("authorization_code").Inc()
	log.Info("tokens issued", "grant", "authorization_code", "client_id", client.ID)
	return pair, nil
}

// RefreshTokens implements the refresh_token grant with rotation. A token
// that was already superseded is treated as stolen: the whole family is
// revoked and the caller gets ErrInvalidGrant.
func (s *TokenService) RefreshTokens(
	ctx context.Context,
	clientID, clientSecret, refreshToken string,
) (domain.TokenPair, error) {
	now := time.Now().UTC()
	log := slogx.FromContext(ctx)

	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		s.countFailure("invalid_client")
		return domain.TokenPair{}, err
	}

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		s.countFailure("invalid_grant")
		return domain.TokenPair{}, ErrInvalidGrant
	}
	hash := cryptox.FingerprintToken(refreshToken)

	current, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.countFailure("invalid_grant")
			return domain.TokenPair{}, ErrInvalidGrant
		}
		return domain.TokenPair{}, err
	}

	if current.ClientID != client.ID || current.Revoked || current.Expired(now) {
		s.countFailure("invalid_grant")
		return domain.TokenPair{}, ErrInvalidGrant
	}

	if current.SupersededAt != nil {
		// Reuse of a rotated-out generation: breach containment. The
		// revocation must survive the invalid_grant, so it runs on the
		// root store where no rollback can undo it.
		return domain.TokenPair{}, s.revokeFamilyOnReuse(ctx, client.ID, current)
	}

	var pair domain.TokenPair
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// The conditional update settles concurrent rotations of the
		// same token: exactly one caller supersedes it.
		if err := tx.RefreshTokens().SupersedeRefreshToken(ctx, current.ID, now); err != nil {
			return err
		}
		var merr error
		pair, merr = s.mintPair(ctx, tx.RefreshTokens(), client.ID, current.SubjectID, current.Scopes, current.FamilyID, current.Generation+1, now)
		return merr
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost the rotation race: the token was superseded between
			// the read above and the conditional update. Same theft
			// treatment as reuse, committed after the rollback.
			return domain.TokenPair{}, s.revokeFamilyOnReuse(ctx, client.ID, current)
		}
		return domain.TokenPair{}, err
	}

	s.Metrics.TokensIssued.WithLabelValues("refresh_token").Inc()
	log.Info("tokens issued", "grant", "refresh_token", "client_id", client.ID)
	return pair, nil
}

// Revoke implements RFC 7009: authenticate the client, then succeed no
// matter what the token turns out to be. Refresh tokens revoke their whole
// family; access tokens land on the jti revocation list.
func (s *TokenService) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	log := slogx.FromContext(ctx)

	if _, err := s.authenticateClient(ctx, clientID, clientSecret); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	// Try it as a refresh token first: opaque values can't be anything
	// else.
	rt, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(token))
	if err == nil {
		if err := s.Store.RefreshTokens().RevokeFamily(ctx, rt.FamilyID); err != nil {
			return err
		}
		log.Info("refresh token family revoked", "family_id", rt.FamilyID, "client_id", clientID)
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Maybe it's one of our access tokens.
	claims, verr := s.Verifier.Verify(token)
	if verr != nil || claims.ID == "" || claims.ExpiresAt == nil {
		// Unknown tokens revoke successfully per RFC 7009 §2.2.
		return nil
	}
	if err := s.Revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	log.Info("access token revoked", "jti", claims.ID, "client_id", clientID)
	return nil
}

// authenticateClient loads the client and checks its secret. Public clients
// present no secret; confidential clients must present the right one.
func (s *TokenService) authenticateClient(ctx context.Context, clientID, clientSecret string) (domain.Client, error) {
	if clientID == "" {
		return domain.Client{}, ErrInvalidClient
	}

	client, err := s.Store.Clients().GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Client{}, ErrInvalidClient
		}
		return domain.Client{}, err
	}
	if !client.Active {
		return domain.Client{}, ErrInvalidClient
	}

	if client.SecretHash != "" {
		if clientSecret == "" || cryptox.VerifySecret(clientSecret, client.SecretHash) != nil {
			return domain.Client{}, ErrInvalidClient
		}
	}
	return client, nil
}

// rejectExchange records a failed code exchange and returns ErrInvalidGrant.
func (s *TokenService) rejectExchange(ctx context.Context, clientID string) error {
	s.countFailure("invalid_grant")
	slogx.FromContext(ctx).Info("authorization code exchange rejected", "client_id", clientID)
	return ErrInvalidGrant
}

// revokeFamilyOnReuse kills every generation of a replayed token's family.
// It runs on the root store: the caller is about to return invalid_grant,
// and the revocation must commit regardless.
func (s *TokenService) revokeFamilyOnReuse(ctx context.Context, clientID string, current domain.RefreshToken) error {
	if err := s.Store.RefreshTokens().RevokeFamily(ctx, current.FamilyID); err != nil {
		return err
	}
	s.Metrics.FamiliesRevoked.Inc()
	s.countFailure("invalid_grant")
	slogx.FromContext(ctx).Warn("refresh token reuse detected, family revoked",
		"client_id", clientID,
		"family_id", current.FamilyID,
		"generation", current.Generation,
	)
	return ErrInvalidGrant
}

// mintPair issues an access token and the next refresh token generation.
func (s *TokenService) mintPair(
	ctx context.Context,
	repo store.RefreshTokens,
	clientID, subjectID string,
	scopes []string,
	familyID string,
	generation int64,
	now time.Time,
) (domain.TokenPair, error) {
	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}

	// Sign before the insert: a signing failure must not leave a refresh
	// row nobody holds the plaintext for.
	access, err := s.Signer.Sign(jwtx.NewAccessClaims(subjectID, clientID, scopes, s.AccessTTL, s.Issuer, now))
	if err != nil {
		return domain.TokenPair{}, err
	}

	err = repo.CreateRefreshToken(ctx, domain.RefreshToken{
		ID:         idx.New().String(),
		TokenHash:  cryptox.FingerprintToken(refresh),
		ClientID:   clientID,
		SubjectID:  subjectID,
		FamilyID:   familyID,
		Generation: generation,
		Scopes:     scopes,
		ExpiresAt:  now.Add(s.RefreshTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.AccessTTL.Seconds()),
		Scopes:       scopes,
	}, nil
}

func (s *TokenService) countFailure(code string) {
	s.Metrics.TokenFailures.WithLabelValues(code).Inc()
}
