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
	"github.com/asoos/integration-gateway/pkg/idx"
	"github.com/asoos/integration-gateway/pkg/slogx"
)

// DefaultCodeTTL is how long an authorization code stays exchangeable.
const DefaultCodeTTL = 5 * time.Minute

// ConsentAction is the subject's answer to a consent prompt, carried on the
// POST half of the authorize flow.
type ConsentAction string

const (
	ConsentUndecided ConsentAction = ""
	ConsentAllow     ConsentAction = "allow"
	ConsentDeny      ConsentAction = "deny"
)

// AuthorizeService mints authorization codes. The subject is authenticated
// upstream; this service only decides whether the request and consent allow
// a code to be issued.
type AuthorizeService struct {
	Store   store.Store
	Policy  *ScopePolicy
	CodeTTL time.Duration
}

// AuthorizeRequest is the parsed authorize endpoint input.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// SubjectID is the authenticated end user, resolved by the HTTP
	// layer from the upstream identity provider.
	SubjectID string

	// Consent is the subject's decision when answering a consent prompt.
	Consent ConsentAction
}

// AuthorizeResult is a successfully minted code plus the redirect carrying
// it back to the client.
type AuthorizeResult struct {
	Code        string
	RedirectURI string
}

// ConsentPrompt describes what the subject must approve before a code can
// be issued.
type ConsentPrompt struct {
	ClientID   string
	ClientName string
	Scopes     []string
}

// consentRequiredError lets Authorize return the prompt details alongside
// the ErrConsentRequired sentinel.
type consentRequiredError struct {
	Prompt ConsentPrompt
}

func (e *consentRequiredError) Error() string { return ErrConsentRequired.Error() }
func (e *consentRequiredError) Unwrap() error { return ErrConsentRequired }

// ConsentPromptFromError extracts the prompt from an ErrConsentRequired.
func ConsentPromptFromError(err error) (ConsentPrompt, bool) {
	var cre *consentRequiredError
	if errors.As(err, &cre) {
		return cre.Prompt, true
	}
	return ConsentPrompt{}, false
}

// Authorize validates the request and either mints a code or reports why it
// cannot. Failures before the client and redirect URI are validated never
// produce a redirect; the caller answers directly.
func (s *AuthorizeService) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	now := time.Now().UTC()
	log := slogx.FromContext(ctx)

	if req.SubjectID == "" {
		return AuthorizeResult{}, fmt.Errorf("%w: no authenticated subject", ErrAccessDenied)
	}

	// Client and redirect URI validate first: until both check out,
	// nothing may be sent to the redirect target.
	client, err := s.Store.Clients().GetClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthorizeResult{}, fmt.Errorf("%w: unknown client", ErrInvalidRequest)
		}
		return AuthorizeResult{}, err
	}
	if !client.Active {
		return AuthorizeResult{}, fmt.Errorf("%w: client is deactivated", ErrInvalidRequest)
	}
	if !client.RedirectURIAllowed(req.RedirectURI) {
		log.Warn("authorize redirect_uri mismatch", "client_id", client.ID, "redirect_uri", req.RedirectURI)
		return AuthorizeResult{}, ErrRedirectURIMismatch
	}

	// From here failures are redirectable per RFC 6749 §4.1.2.1.
	if req.ResponseType != "code" {
		return AuthorizeResult{}, ErrUnsupportedResponseType
	}
	if len(req.Scopes) == 0 || !client.ScopesAllowed(req.Scopes) {
		return AuthorizeResult{}, ErrInvalidScope
	}
	for _, scope := range req.Scopes {
		if !s.Policy.Known(scope) {
			return AuthorizeResult{}, ErrInvalidScope
		}
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" && method == "" {
		method = domain.CodeChallengeS256
	}
	if client.IsPublic() {
		// Public clients cannot hold a secret; PKCE with S256 is their
		// only proof of possession.
		if req.CodeChallenge == "" || method != domain.CodeChallengeS256 {
			return AuthorizeResult{}, fmt.Errorf("%w: public clients require an S256 code_challenge", ErrInvalidRequest)
		}
	}
	if method != "" && method != domain.CodeChallengeS256 && method != domain.CodeChallengePlain {
		return AuthorizeResult{}, fmt.Errorf("%w: unsupported code_challenge_method", ErrInvalidRequest)
	}

	if err := s.checkConsent(ctx, client, req, now); err != nil {
		return AuthorizeResult{}, err
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return AuthorizeResult{}, err
	}

	ttl := s.CodeTTL
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	err = s.Store.AuthorizationCodes().CreateAuthorizationCode(ctx, domain.AuthorizationCode{
		ID:                  idx.New().String(),
		CodeHash:            cryptox.FingerprintToken(code),
		ClientID:            client.ID,
		SubjectID:           req.SubjectID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(ttl),
		CreatedAt:           now,
	})
	if err != nil {
		return AuthorizeResult{}, err
	}

	log.Info("authorization code issued",
		"client_id", client.ID,
		"subject_id", req.SubjectID,
		"scopes", strings.Join(req.Scopes, " "),
	)
	return AuthorizeResult{
		Code:        code,
		RedirectURI: BuildRedirect(req.RedirectURI, url.Values{"code": {code}, "state": {req.State}}),
	}, nil
}

// checkConsent enforces the subject's standing consent, records a new one,
// or asks for a prompt.
func (s *AuthorizeService) checkConsent(ctx context.Context, client domain.Client, req AuthorizeRequest, now time.Time) error {
	consent, err := s.Store.Consents().GetConsent(ctx, req.SubjectID, client.ID)
	switch {
	case err == nil && consent.Covers(req.Scopes):
		return nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}

	switch req.Consent {
	case ConsentAllow:
		merged := consent.MergeScopes(req.Scopes)
		grantedAt := consent.GrantedAt
		if grantedAt.IsZero() {
			grantedAt = now
		}
		return s.Store.Consents().UpsertConsent(ctx, domain.Consent{
			SubjectID: req.SubjectID,
			ClientID:  client.ID,
			Scopes:    merged,
			GrantedAt: grantedAt,
			UpdatedAt: now,
		})

	case ConsentDeny:
		return ErrAccessDenied

	default:
		return &consentRequiredError{Prompt: ConsentPrompt{
			ClientID:   client.ID,
			ClientName: client.Name,
			Scopes:     req.Scopes,
		}}
	}
}

// RevokeConsent withdraws a subject's standing consent for a client.
func (s *AuthorizeService) RevokeConsent(ctx context.Context, subjectID, clientID string) error {
	return mapStoreNotFound(s.Store.Consents().DeleteConsent(ctx, subjectID, clientID))
}

// BuildRedirect appends query values to a redirect URI, keeping any query
// the client registered.
func BuildRedirect(base string, values url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
