// Package credstore encrypts and decrypts provider API keys at rest.
// Credential.EncryptedKey is ciphertext the moment it leaves this
// package; every caller further up the stack (repository, service,
// handler) only ever sees a decrypted key after an explicit Decrypt call.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Cipher seals and opens credential API keys with AES-256-GCM. The key is
// derived from config.CredentialEncryptionKey via SHA-256 so operators can
// supply a passphrase of any length rather than an exact 32-byte value.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a raw key string (config.CredentialEncryptionKey).
func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, fmt.Errorf("credstore.NewCipher: key is empty")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("credstore.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore.NewCipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a base64-encoded nonce||ciphertext blob
// suitable for storage in credentials.encrypted_key.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("credstore.Encrypt: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("credstore.Decrypt: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("credstore.Decrypt: ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("credstore.Decrypt: %w", err)
	}
	return string(plaintext), nil
}
