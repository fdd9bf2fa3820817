package channel

import (
	"bytes"
	"net"
	"sync"
	"testing"

	"github.com/postalsys/ferry/internal/protocol"
)

// testPair establishes a secure channel over an in-memory pipe.
func testPair(t *testing.T) (*Secure, *Secure) {
	t.Helper()

	connA, connB := net.Pipe()

	var (
		initiator, responder *Secure
		errI, errR           error
		wg                   sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		initiator, errI = New(connA, Initiator)
	}()
	go func() {
		defer wg.Done()
		responder, errR = New(connB, Responder)
	}()
	wg.Wait()

	if errI != nil {
		t.Fatalf("New(Initiator) error = %v", errI)
	}
	if errR != nil {
		t.Fatalf("New(Responder) error = %v", errR)
	}

	t.Cleanup(func() {
		initiator.Close()
		responder.Close()
	})

	return initiator, responder
}

func TestChannelRoundTrip(t *testing.T) {
	initiator, responder := testPair(t)

	payloads := [][]byte{
		[]byte("access-key"),
		{},
		bytes.Repeat([]byte{0x5a}, 8192),
	}

	for _, want := range payloads {
		errCh := make(chan error, 1)
		go func(p []byte) {
			errCh <- initiator.Send(p)
		}(want)

		got, err := responder.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if sendErr := <-errCh; sendErr != nil {
			t.Fatalf("Send() error = %v", sendErr)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Recv() = %d bytes, want %d bytes", len(got), len(want))
		}
	}
}

func TestChannelBidirectional(t *testing.T) {
	initiator, responder := testPair(t)

	go func() {
		initiator.Send([]byte("ping"))
	}()
	msg, err := responder.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if string(msg) != "ping" {
		t.Errorf("Recv() = %q, want %q", msg, "ping")
	}

	go func() {
		responder.Send([]byte("pong"))
	}()
	msg, err = initiator.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if string(msg) != "pong" {
		t.Errorf("Recv() = %q, want %q", msg, "pong")
	}
}

// snoopConn records everything written to the underlying connection.
type snoopConn struct {
	net.Conn
	mu  sync.Mutex
	log bytes.Buffer
}

func (s *snoopConn) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.log.Write(p)
	s.mu.Unlock()
	return s.Conn.Write(p)
}

func (s *snoopConn) captured() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.log.Bytes()...)
}

func TestChannelEncryptsRecords(t *testing.T) {
	connA, connB := net.Pipe()
	snoop := &snoopConn{Conn: connA}

	var (
		initiator, responder *Secure
		errI, errR           error
		wg                   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		initiator, errI = New(snoop, Initiator)
	}()
	go func() {
		defer wg.Done()
		responder, errR = New(connB, Responder)
	}()
	wg.Wait()
	if errI != nil || errR != nil {
		t.Fatalf("handshake errors: %v, %v", errI, errR)
	}
	defer initiator.Close()
	defer responder.Close()

	secret := []byte("super secret payload")
	go func() {
		initiator.Send(secret)
	}()
	if _, err := responder.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	wire := snoop.captured()
	if bytes.Contains(wire, secret) {
		t.Error("plaintext visible on the wire")
	}
	if bytes.Contains(wire, []byte(protocol.Encoding.EncodeToString(secret))) {
		t.Error("base64 of plaintext visible on the wire")
	}
}

func TestChannelRejectsShortPublicKey(t *testing.T) {
	connA, connB := net.Pipe()
	defer connB.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := New(connA, Responder)
		errCh <- err
	}()

	// Hand the responder a truncated public key record.
	w := protocol.NewRecordWriter(connB)
	if err := w.Write([]byte("short")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := <-errCh; err == nil {
		t.Error("New() with short public key error = nil, want error")
	}
}
