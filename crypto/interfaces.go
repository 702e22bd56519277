// Package crypto implements signing of archive headers and checkpoints.
package crypto

import "errors"

// ErrInvalidSignature is returned when a signature does not match data.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer produces detached signatures.
type Signer interface {
	// Name returns name of the crypto algorithm, used by signer.
	Name() string
	// Sign returns signature for passed data.
	Sign(data []byte) ([]byte, error)
}

// Verifier checks detached signatures produced by a Signer of the same algorithm.
type Verifier interface {
	// Name returns name of the crypto algorithm, used by verifier.
	Name() string
	// Verify checks data and signature mapping.
	Verify(data []byte, signature []byte) error
}

// SignerVerifier common interface.
type SignerVerifier interface {
	Signer
	Verifier
}
