package app

import (
	"fmt"
	"log/slog"

	"github.com/asoos/integration-gateway/pkg/cryptox"
	"github.com/asoos/integration-gateway/pkg/jwtx"
)

// InitKeys generates the ephemeral signing keys. Several keys go into the
// published JWKS so a future restart overlap or external signer can verify,
// but all new tokens are signed with the first.
//
// Ephemeral means exactly that: every restart invalidates all outstanding
// access tokens. Refresh tokens are opaque and survive in the store.
func InitKeys(cfg Config, logger *slog.Logger) (jwtx.Signer, *jwtx.KeySet, error) {
	switch cfg.Algorithm {
	case jwtx.AlgEdDSA, jwtx.AlgES256:
	default:
		return nil, nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	numKeys := cfg.NumKeys
	if numKeys < 1 {
		numKeys = 1
	}
	if numKeys > 10 {
		numKeys = 10
	}

	keys := jwtx.NewKeySet()
	var primary jwtx.Signer
	for i := 0; i < numKeys; i++ {
		kid, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, nil, err
		}
		signer, err := jwtx.NewSigner(cfg.Algorithm, kid)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		if err := keys.AddSigner(signer); err != nil {
			return nil, nil, err
		}
		if primary == nil {
			primary = signer
		}
	}

	logger.Info("generated ephemeral signing keys",
		"algorithm", cfg.Algorithm,
		"num_keys", numKeys,
	)
	logger.Warn("all previously issued access tokens are now invalid")

	return primary, keys, nil
}
