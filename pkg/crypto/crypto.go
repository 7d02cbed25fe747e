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

const KeySize = 32

var (
	errKeySize         = errors.New("key must be 32 bytes (AES-256)")
	errCiphertextShort = errors.New("ciphertext too short")
)

// Cipher seals and opens payloads with AES-256-GCM. The nonce is
// prepended to the ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a hex encoded 32 byte key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workload key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", errKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, errCiphertextShort
	}

	return c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}
