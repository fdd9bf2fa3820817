// Package channel composes the record codec with the cryptographic
// session into a secure channel. Callers see plaintext payloads only;
// nonces, ciphertext and base64 stay below the Send/Recv surface.
package channel

import (
	"fmt"
	"net"

	"github.com/postalsys/ferry/internal/crypto"
	"github.com/postalsys/ferry/internal/protocol"
)

// Role selects the key-agreement ordering. Exactly one side of a
// connection is the initiator; by convention the peer initiates and the
// host responds.
type Role int

const (
	// Initiator sends its public key first, then reads.
	Initiator Role = iota

	// Responder reads the remote public key first, then sends.
	Responder
)

// Secure is an encrypted record channel over a connected TCP stream.
// It owns the underlying connection. Not safe for concurrent use; the
// protocol is strictly sequential within one connection.
type Secure struct {
	conn   net.Conn
	reader *protocol.RecordReader
	writer *protocol.RecordWriter
	cipher *crypto.CipherState
}

// New takes ownership of conn, performs the ephemeral X25519 exchange in
// the clear, installs the AEAD cipher and returns the ready channel.
// On error the connection is closed.
func New(conn net.Conn, role Role) (*Secure, error) {
	s := &Secure{
		conn:   conn,
		reader: protocol.NewRecordReader(conn),
		writer: protocol.NewRecordWriter(conn),
	}

	if err := s.handshake(role); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return s, nil
}

// handshake exchanges raw 32-byte public keys as plaintext records and
// keys the cipher with the shared secret.
func (s *Secure) handshake(role Role) error {
	private, public, err := crypto.GenerateKeypair()
	if err != nil {
		return err
	}
	defer crypto.ZeroKey(&private)

	var remote [crypto.KeySize]byte

	switch role {
	case Initiator:
		if err := s.writer.Write(public[:]); err != nil {
			return err
		}
		if err := s.readPublicKey(&remote); err != nil {
			return err
		}
	case Responder:
		if err := s.readPublicKey(&remote); err != nil {
			return err
		}
		if err := s.writer.Write(public[:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown role %d", role)
	}

	secret, err := crypto.SharedSecret(private, remote)
	if err != nil {
		return err
	}
	defer crypto.ZeroKey(&secret)

	s.cipher, err = crypto.NewCipherState(secret)
	return err
}

func (s *Secure) readPublicKey(key *[crypto.KeySize]byte) error {
	payload, err := s.reader.Read()
	if err != nil {
		return err
	}
	if len(payload) != crypto.KeySize {
		return fmt.Errorf("public key record is %d bytes, want %d", len(payload), crypto.KeySize)
	}
	copy(key[:], payload)
	return nil
}

// Send encrypts payload and writes it as one record.
func (s *Secure) Send(payload []byte) error {
	sealed, err := s.cipher.Seal(payload)
	if err != nil {
		return err
	}
	return s.writer.Write(sealed)
}

// Recv reads one record and returns the decrypted payload. Decryption
// failure is fatal to the connection.
func (s *Secure) Recv() ([]byte, error) {
	sealed, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	return s.cipher.Open(sealed)
}

// RemoteAddr returns the remote network address.
func (s *Secure) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (s *Secure) Close() error {
	return s.conn.Close()
}
