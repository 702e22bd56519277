package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/reprisedb/go-reprise/hasher"
)

// RSAPSS signs with RSASSA-PSS over a SHA-256 digest.
type RSAPSS struct {
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	hasher     hasher.Hasher
}

var _ SignerVerifier = RSAPSS{} //nolint:exhaustruct

// NewRSAPSS creates new RSAPSS object. Either key may be nil when the
// instance is used only for signing or only for verification.
func NewRSAPSS(privKey *rsa.PrivateKey, pubKey *rsa.PublicKey) RSAPSS {
	if pubKey == nil && privKey != nil {
		pubKey = &privKey.PublicKey
	}

	return RSAPSS{
		publicKey:  pubKey,
		privateKey: privKey,
		hasher:     hasher.NewSHA256Hasher(),
	}
}

// Name implements SignerVerifier interface.
func (r RSAPSS) Name() string {
	return "RSASSA-PSS"
}

func (r RSAPSS) pssOptions() *rsa.PSSOptions {
	return &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	}
}

// Sign generates SHA-256 digest and signs it using RSASSA-PSS.
func (r RSAPSS) Sign(data []byte) ([]byte, error) {
	if r.privateKey == nil {
		return nil, fmt.Errorf("failed to sign: %w", ErrMissingKey)
	}

	digest, err := r.hasher.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to get hash: %w", err)
	}

	signature, err := rsa.SignPSS(rand.Reader, r.privateKey, crypto.SHA256, digest, r.pssOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature, nil
}

// Verify compares data with signature.
func (r RSAPSS) Verify(data []byte, signature []byte) error {
	if r.publicKey == nil {
		return fmt.Errorf("failed to verify: %w", ErrMissingKey)
	}

	digest, err := r.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("failed to get hash: %w", err)
	}

	err = rsa.VerifyPSS(r.publicKey, crypto.SHA256, digest, signature, r.pssOptions())
	if err != nil {
		return fmt.Errorf("failed to verify: %w: %w", ErrInvalidSignature, err)
	}

	return nil
}
