package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

// ErrMissingKey is returned when the key required by an operation was not configured.
var ErrMissingKey = errors.New("missing key")

// Ed25519 signs with the Ed25519 scheme.
type Ed25519 struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

var _ SignerVerifier = Ed25519{} //nolint:exhaustruct

// NewEd25519 creates new Ed25519 object. The public key is derived from
// the private one when only the latter is given.
func NewEd25519(privKey ed25519.PrivateKey, pubKey ed25519.PublicKey) Ed25519 {
	if pubKey == nil && len(privKey) == ed25519.PrivateKeySize {
		pub, _ := privKey.Public().(ed25519.PublicKey)
		pubKey = pub
	}

	return Ed25519{publicKey: pubKey, privateKey: privKey}
}

// Name implements SignerVerifier interface.
func (e Ed25519) Name() string {
	return "Ed25519"
}

// Sign implements SignerVerifier interface.
func (e Ed25519) Sign(data []byte) ([]byte, error) {
	if len(e.privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("failed to sign: %w", ErrMissingKey)
	}

	return ed25519.Sign(e.privateKey, data), nil
}

// Verify implements SignerVerifier interface.
func (e Ed25519) Verify(data []byte, signature []byte) error {
	if len(e.publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("failed to verify: %w", ErrMissingKey)
	}

	if !ed25519.Verify(e.publicKey, data, signature) {
		return fmt.Errorf("failed to verify: %w", ErrInvalidSignature)
	}

	return nil
}
