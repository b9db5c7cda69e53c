package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// secretBoxNonceSize is the GCM nonce length. We use 16 bytes rather
	// than the GCM default of 12 so the wire format carries a full
	// 128-bit random nonce per blob.
	secretBoxNonceSize = 16

	// secretBoxTagSize is the GCM authentication tag length.
	secretBoxTagSize = 16
)

// secretBoxLabel is the fixed associated-data label bound into every blob.
// A ciphertext produced for one purpose cannot be replayed into a context
// using a different label.
var secretBoxLabel = []byte("my-password-management/totp-secret/v1")

// ErrDecryptionFailed is returned for any blob that cannot be authenticated
// and decrypted: truncated data, bad base64, or a tag mismatch. Callers must
// treat it as an integrity failure, never as a recoverable input error.
var ErrDecryptionFailed = errors.New("cryptox: decryption failed")

// SecretBox provides authenticated encryption for small secrets at rest
// (TOTP seeds). The wire format of a blob is:
//
//	base64( nonce[16] || tag[16] || ciphertext )
//
// encoded as a single opaque string.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a SecretBox from a hex-encoded 256-bit key.
// An empty or malformed key is a configuration error, not something to
// fall back from.
func NewSecretBox(keyHex string) (*SecretBox, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("cryptox: encryption key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptox: encryption key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, secretBoxNonceSize)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to create GCM: %w", err)
	}

	return &SecretBox{aead: aead}, nil
}

// GenerateKey produces a fresh 256-bit key from the system CSPRNG,
// hex encoded. Entropy exhaustion is the only failure mode and callers
// should treat it as fatal.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a random nonce and returns the encoded blob.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, secretBoxNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate nonce: %w", err)
	}

	// Seal returns ciphertext||tag; the wire format wants nonce||tag||ciphertext.
	sealed := b.aead.Seal(nil, nonce, []byte(plaintext), secretBoxLabel)
	split := len(sealed) - secretBoxTagSize

	blob := make([]byte, 0, secretBoxNonceSize+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed[split:]...)
	blob = append(blob, sealed[:split]...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Any failure, from malformed
// encoding through tag mismatch, yields ErrDecryptionFailed with no
// partial plaintext.
func (b *SecretBox) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < secretBoxNonceSize+secretBoxTagSize {
		return "", ErrDecryptionFailed
	}

	nonce := raw[:secretBoxNonceSize]
	tag := raw[secretBoxNonceSize : secretBoxNonceSize+secretBoxTagSize]
	ciphertext := raw[secretBoxNonceSize+secretBoxTagSize:]

	// Reassemble ciphertext||tag for Open.
	sealed := make([]byte, 0, len(ciphertext)+secretBoxTagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := b.aead.Open(nil, nonce, sealed, secretBoxLabel)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
