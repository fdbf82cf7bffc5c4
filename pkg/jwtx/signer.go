package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgEdDSA = "EdDSA"
	AlgES256 = "ES256"
)

// Signer signs access-token claims with a single private key.
type Signer interface {
	// Alg returns the JWA algorithm name this signer uses.
	Alg() string

	// KID returns the key identifier placed in the token header.
	KID() string

	// Sign produces a compact signed JWT from the claims.
	Sign(claims Claims) (string, error)

	// PublicJWK returns the verification key as a JWK for the keyset.
	PublicJWK() JWK
}

// NewSigner generates a fresh key pair for the given algorithm and returns a
// Signer over it. Keys live only as long as the process; restarts invalidate
// outstanding access tokens, which the short access TTL makes acceptable.
func NewSigner(alg, kid string) (Signer, error) {
	switch alg {
	case AlgEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return &eddsaSigner{kid: kid, priv: priv}, nil

	case AlgES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate p256 key: %w", err)
		}
		return &es256Signer{kid: kid, priv: priv}, nil

	default:
		return nil, fmt.Errorf("jwtx: unsupported signing algorithm %q", alg)
	}
}

type eddsaSigner struct {
	kid  string
	priv ed25519.PrivateKey
}

func (s *eddsaSigner) Alg() string { return AlgEdDSA }
func (s *eddsaSigner) KID() string { return s.kid }

func (s *eddsaSigner) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.priv)
}

func (s *eddsaSigner) PublicJWK() JWK {
	return NewEd25519JWK(s.kid, s.priv.Public().(ed25519.PublicKey))
}

type es256Signer struct {
	kid  string
	priv *ecdsa.PrivateKey
}

func (s *es256Signer) Alg() string { return AlgES256 }
func (s *es256Signer) KID() string { return s.kid }

func (s *es256Signer) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.kid
	return token.SignedString(s.priv)
}

func (s *es256Signer) PublicJWK() JWK {
	return NewES256JWK(s.kid, &s.priv.PublicKey)
}
