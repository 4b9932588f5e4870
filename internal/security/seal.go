package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrSealOpen = errors.New("sealed credentials failed to open")

const nonceSize = 24

// Sealer encrypts credential blobs before they reach persistent storage,
// so a database dump does not leak refresh tokens. The 32-byte key is
// derived from the configured session secret.
type Sealer struct {
	key [32]byte
}

// NewSealer derives a sealing key from the session secret.
func NewSealer(secret string) *Sealer {
	return &Sealer{key: sha256.Sum256([]byte(secret))}
}

// Seal encrypts plaintext with a random nonce prepended to the box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a box produced by Seal. Returns ErrSealOpen when the box
// is truncated, tampered with, or sealed under a different secret.
func (s *Sealer) Open(box []byte) ([]byte, error) {
	if len(box) < nonceSize {
		return nil, ErrSealOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plaintext, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealOpen
	}
	return plaintext, nil
}
