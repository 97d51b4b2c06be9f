package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealInfo binds derived keys to this use, so the same device secret can feed
// other derivations without key reuse.
const sealInfo = "crewcall session cache v1"

// Sealer encrypts cache blobs with XChaCha20-Poly1305.
//
// WHY XCHACHA?
// The 24-byte nonce is large enough to pick at random for every write with no
// counter to persist. Poly1305 authenticates the blob, so a tampered cache
// fails to open instead of yielding a garbage session.
//
// The key is derived from a device secret with HKDF-SHA256 instead of using
// the secret directly: the secret may be any length or a passphrase, the AEAD
// needs exactly 32 uniformly random bytes.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the cache key from secret.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: device secret must be at least 16 bytes")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("auth: deriving cache key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: creating cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. The output is nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("auth: generating nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(blob) < n+s.aead.Overhead() {
		return nil, errors.New("auth: sealed blob too short")
	}
	plaintext, err := s.aead.Open(nil, blob[:n], blob[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("auth: opening sealed blob: %w", err)
	}
	return plaintext, nil
}
