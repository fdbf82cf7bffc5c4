package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. Callers should treat any of these as "present a
// fresh token", without distinguishing them to the client.
var (
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrIssuer      = errors.New("jwtx: unexpected issuer")
	ErrMalformed   = errors.New("jwtx: malformed token")
)

// Verifier validates compact JWTs against a KeySet.
type Verifier struct {
	keys   *KeySet
	issuer string
	parser *jwt.Parser
}

// NewVerifier builds a Verifier over the given KeySet. Tokens must be signed
// with one of the gateway's algorithms and, when issuer is non-empty, carry
// a matching iss claim.
func NewVerifier(keys *KeySet, issuer string) *Verifier {
	return &Verifier{
		keys:   keys,
		issuer: issuer,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{AlgEdDSA, AlgES256})),
	}
}

// Verify parses and validates a compact JWT, returning its claims.
func (v *Verifier) Verify(tokenString string) (Claims, error) {
	var claims Claims

	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrMalformed)
		}
		return v.keys.Get(kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return Claims{}, ErrNotYetValid
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return Claims{}, err
	}
	return claims, nil
}
