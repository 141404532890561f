// Package cryptutil provides the symmetric at-rest encryption for OAuth
// token storage (SPEC §3.1 OAuthToken, §8 invariant 8). Ciphertexts carry
// a stable tag prefix so the store can distinguish them from legacy
// plaintext values on read (backward-compat rule in spec.md §3.1).
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// CiphertextTag prefixes every value this package produces. A stored value
// that does NOT begin with this tag is legacy plaintext and must be passed
// through unchanged on read.
const CiphertextTag = "enc:v1:"

// Box wraps a 32-byte AES-256-GCM key. A nil Box (no key configured) makes
// Encrypt a passthrough and Decrypt a no-op, implementing the spec's
// "absence disables encryption and forces plaintext mode" rule.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a 32-byte key. Pass a nil/empty key to get a
// plaintext-mode Box (Encrypt/Decrypt become identity functions).
func New(key []byte) (*Box, error) {
	if len(key) == 0 {
		return &Box{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptutil: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptutil: new gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Enabled reports whether this Box will actually encrypt (a key is set).
func (b *Box) Enabled() bool { return b != nil && b.aead != nil }

// Encrypt returns a tagged, base64-encoded ciphertext. In plaintext mode
// (no key) it returns plaintext unchanged, untagged.
func (b *Box) Encrypt(plaintext string) (string, error) {
	if !b.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptutil: generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return CiphertextTag + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. A value not carrying CiphertextTag is treated
// as legacy plaintext and returned as-is (SPEC §3.1 backward-compat rule),
// regardless of whether encryption is currently enabled.
func (b *Box) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, CiphertextTag) {
		return stored, nil
	}
	if !b.Enabled() {
		return "", errors.New("cryptutil: cannot decrypt tagged ciphertext without an encryption key")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, CiphertextTag))
	if err != nil {
		return "", fmt.Errorf("cryptutil: decode ciphertext: %w", err)
	}
	nonceSize := b.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("cryptutil: ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("cryptutil: decrypt: %w", err)
	}
	return string(plain), nil
}
