// Package crypto provides the cryptographic session for Ferry connections.
// It uses ephemeral X25519 key agreement and AES-256-GCM for symmetric
// encryption of every record after the handshake.
//
// The handshake itself is unauthenticated: a man-in-the-middle can replace
// both public keys. Peer authentication is delegated to the access-key
// check that runs over the encrypted channel, which keeps the key
// confidential but does not provide cryptographic identity binding.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size of X25519 and AES-256 keys in bytes.
	KeySize = 32

	// NonceSize is the size of GCM nonces in bytes.
	NonceSize = 12

	// TagSize is the size of GCM authentication tags in bytes.
	TagSize = 16

	// Overhead is the total expansion of an encrypted record: the nonce
	// prepended plus the auth tag appended.
	Overhead = NonceSize + TagSize
)

// ErrDecrypt is returned when an encrypted record fails authentication
// or is too short to carry a nonce and tag. It is fatal to the
// connection and never retried.
var ErrDecrypt = errors.New("record decryption failed")

// GenerateKeypair generates a new ephemeral X25519 keypair for a single
// connection's key exchange. The private key should be zeroed after the
// shared secret is computed.
func GenerateKeypair() (privateKey, publicKey [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return privateKey, publicKey, fmt.Errorf("generate private key: %w", err)
	}

	// Clamp the private key per X25519 spec
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	return privateKey, publicKey, nil
}

// SharedSecret performs X25519 Diffie-Hellman and returns the shared
// secret, which is consumed directly as the AES-256 key.
func SharedSecret(privateKey, remotePublicKey [KeySize]byte) ([KeySize]byte, error) {
	var secret, zero [KeySize]byte

	if remotePublicKey == zero {
		return secret, fmt.Errorf("invalid remote public key: zero key")
	}

	curve25519.ScalarMult(&secret, &privateKey, &remotePublicKey)

	if secret == zero {
		return secret, fmt.Errorf("invalid ECDH result: low-order point")
	}

	return secret, nil
}

// CipherState holds the AEAD cipher for one connection. Each outbound
// record gets a fresh random 96-bit nonce; random nonces accept the
// birthday bound of roughly 2^48 records per session, far beyond any
// practical transfer. A CipherState is owned by a single connection
// goroutine and is not safe for concurrent use.
type CipherState struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipherState builds a CipherState keyed by the shared secret. The
// caller should zero the secret afterwards.
func NewCipherState(key [KeySize]byte) (*CipherState, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &CipherState{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
func (c *CipherState) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(c.rand, out[:NonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return c.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open decrypts a record produced by Seal. The first NonceSize bytes are
// the nonce, the remainder the ciphertext plus tag.
func (c *CipherState) Open(record []byte) ([]byte, error) {
	if len(record) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrDecrypt, len(record))
	}

	plaintext, err := c.aead.Open(nil, record[:NonceSize], record[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}

// ZeroKey zeroes out key material to keep secrets from lingering in
// memory longer than needed.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
