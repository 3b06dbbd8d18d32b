// Package crypto provides factory key handling, upload signature verification
// and at-rest sealing of queued payloads.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// NonceSize is the size of the AES-GCM nonce (12 bytes standard).
	NonceSize = 12

	// KeySize is the size of the AES-256 key (32 bytes).
	KeySize = 32
)

var (
	// ErrInvalidKeySize indicates the sealing key is not the correct size.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the sealed payload is too short or malformed.
	ErrInvalidCiphertext = errors.New("ciphertext too short")
	// ErrDecryptionFailed indicates the sealed payload could not be opened.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// PayloadSealer encrypts upload payloads held in the offline queue.
// A nil *PayloadSealer passes data through unchanged.
type PayloadSealer struct {
	key []byte
}

// NewPayloadSealer creates a sealer with the given AES-256 key.
func NewPayloadSealer(key []byte) (*PayloadSealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &PayloadSealer{key: key}, nil
}

// NewPayloadSealerFromHex creates a sealer from a hex key. An empty string
// returns a nil sealer, which stores payloads in the clear.
func NewPayloadSealerFromHex(encoded string) (*PayloadSealer, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return NewPayloadSealer(key)
}

// Seal encrypts plaintext with AES-256-GCM and prepends the nonce.
func (s *PayloadSealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (s *PayloadSealer) Open(sealed []byte) ([]byte, error) {
	if s == nil {
		return sealed, nil
	}
	if len(sealed) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func (s *PayloadSealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateSealingKey returns a new random hex key suitable for ENCRYPTION_KEY.
func GenerateSealingKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
