package signature

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	body := []byte("block body bytes")
	sig := Sign(priv, pub, body)

	require.True(t, Verify(pub, body, sig))
}

func TestVerifyFailsOnTamperedBody(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	body := []byte("block body bytes")
	sig := Sign(priv, pub, body)

	tampered := append([]byte(nil), body...)
	tampered[0] ^= 0xFF

	require.False(t, Verify(pub, tampered, sig))
}

func TestEncryptDecryptMaterialRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var material [64]byte
	copy(material[:], "some signature material bytes..................")

	encrypted, err := EncryptMaterial(pub, material)
	require.NoError(t, err)
	require.NotEqual(t, material, encrypted)

	decrypted, err := DecryptMaterial(pub, encrypted)
	require.NoError(t, err)
	require.Equal(t, material, decrypted)
}
