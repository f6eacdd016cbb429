// Package signature implements block signing and verification: Ed25519
// sign/verify over a SHA-256 digest of pubkey+body, with HKDF-SHA256 key
// derivation and AES-CTR encryption of the signature material for the
// "Encrypted" signature type. Grounded on the ed25519/HKDF/AES-CTR usage
// found across the retrieved corpus (golang.org/x/crypto/hkdf is the only
// ecosystem dependency needed beyond stdlib crypto).
package signature

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var zeroSalt16 = make([]byte, 16)
var zeroIV16 = make([]byte, 16)

// Errors returned by signing/verification.
var (
	ErrVerificationFailed = fmt.Errorf("signature: verification failed")
	ErrKeyDerivation      = fmt.Errorf("signature: key derivation failed")
)

// digest computes SHA-256(pubKey || body), the value Ed25519 signs.
func digest(pubKey, body []byte) []byte {
	h := sha256.New()
	h.Write(pubKey)
	h.Write(body)
	return h.Sum(nil)
}

// Sign produces a 64-byte Ed25519 signature over digest(pubKey, body).
func Sign(priv ed25519.PrivateKey, pubKey, body []byte) [64]byte {
	sig := ed25519.Sign(priv, digest(pubKey, body))
	var out [64]byte
	copy(out[:], sig)
	return out
}

// Verify checks a 64-byte Ed25519 signature over digest(pubKey, body).
func Verify(pubKey []byte, body []byte, sig [64]byte) bool {
	return ed25519.Verify(pubKey, digest(pubKey, body), sig[:])
}

// deriveKey runs HKDF-SHA256 over pubKey with a constant all-zero salt, the
// same construction the reference implementation uses to protect the
// signature material under the "Encrypted" signature type.
func deriveKey(pubKey []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, pubKey, zeroSalt16, nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return key, nil
}

// EncryptMaterial AES-CTR-encrypts 64 bytes of signature material using a
// key derived from pubKey, for the Encrypted signature type, and returns the
// ciphertext as a new array.
func EncryptMaterial(pubKey []byte, material [64]byte) ([64]byte, error) {
	key, err := deriveKey(pubKey)
	if err != nil {
		return [64]byte{}, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return [64]byte{}, fmt.Errorf("signature: building AES cipher: %w", err)
	}
	stream := cipher.NewCTR(block, zeroIV16)
	var out [64]byte
	stream.XORKeyStream(out[:], material[:])
	return out, nil
}

// DecryptMaterial reverses EncryptMaterial; AES-CTR is its own inverse
// given the same key and IV.
func DecryptMaterial(pubKey []byte, material [64]byte) ([64]byte, error) {
	return EncryptMaterial(pubKey, material)
}
