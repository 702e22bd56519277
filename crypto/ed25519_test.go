package crypto_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reprisedb/go-reprise/crypto"
)

func TestEd25519SignVerify(t *testing.T) {
	t.Parallel()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := crypto.NewEd25519(priv, nil)
	require.Equal(t, "Ed25519", signer.Name())

	sig, err := signer.Sign([]byte("header"))
	require.NoError(t, err)

	require.NoError(t, signer.Verify([]byte("header"), sig))
	require.ErrorIs(t, signer.Verify([]byte("tampered"), sig), crypto.ErrInvalidSignature)
}

func TestEd25519WithoutKeys(t *testing.T) {
	t.Parallel()

	empty := crypto.NewEd25519(nil, nil)

	_, err := empty.Sign([]byte("x"))
	require.ErrorIs(t, err, crypto.ErrMissingKey)
	require.ErrorIs(t, empty.Verify([]byte("x"), []byte("y")), crypto.ErrMissingKey)
}
