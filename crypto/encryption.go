package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Sealer encrypts small secrets (payment identifiers) for storage at rest
// with AES-256-GCM. Sealed values are base64(nonce || ciphertext).
type Sealer struct {
	aead cipher.AEAD
	// Ephemeral is set when no key was configured; values sealed by an
	// ephemeral sealer cannot be opened after a restart.
	Ephemeral bool
}

// NewSealer derives a 32 byte key from keyString. A base64 encoded 32 byte
// key is used as is; any other string is hashed. An empty string produces a
// random ephemeral key.
func NewSealer(keyString string) (*Sealer, error) {
	key, ephemeral, err := deriveKey(keyString)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead, Ephemeral: ephemeral}, nil
}

func deriveKey(keyString string) ([]byte, bool, error) {
	if keyString == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, false, err
		}
		return key, true, nil
	}

	key, err := base64.StdEncoding.DecodeString(keyString)
	if err != nil || len(key) != 32 {
		hash := sha256.Sum256([]byte(keyString))
		return hash[:], false, nil
	}
	return key, false, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertextTooShort
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateKey returns a new random base64 encoded 256-bit key.
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
