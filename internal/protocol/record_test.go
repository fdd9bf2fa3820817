package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		{0x00, 0xff, 0x3a, 0x3a, 0x0a},
		bytes.Repeat([]byte{0xab}, 100_000),
		[]byte("DISCONNECT"),
	}

	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	for _, p := range payloads {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write(%d bytes) error = %v", len(p), err)
		}
	}

	r := NewRecordReader(&buf)
	for i, want := range payloads {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read() #%d = %d bytes, want %d bytes", i, len(got), len(want))
		}
	}

	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after last record error = %v, want io.EOF", err)
	}
}

func TestRecordWireFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRecordWriter(&buf).Write([]byte("hi")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wire := buf.String()
	if !strings.HasSuffix(wire, ":") {
		t.Errorf("record %q does not end with terminator", wire)
	}
	if strings.Count(wire, ":") != 1 {
		t.Errorf("record %q contains interior terminator", wire)
	}
	if strings.Contains(wire, "=") {
		t.Errorf("record %q contains base64 padding", wire)
	}
}

func TestRecordEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRecordWriter(&buf).Write(nil); err != nil {
		t.Fatalf("Write(nil) error = %v", err)
	}
	if got := buf.String(); got != ":" {
		t.Errorf("empty payload encodes to %q, want %q", got, ":")
	}

	payload, err := NewRecordReader(&buf).Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("Read() = %d bytes, want 0", len(payload))
	}
}

func TestRecordInvalidBase64(t *testing.T) {
	r := NewRecordReader(strings.NewReader("!!!not-base64!!!:"))
	if _, err := r.Read(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Read() error = %v, want ErrInvalidRecord", err)
	}
}

func TestRecordTruncatedStream(t *testing.T) {
	// Stream ends mid-record, no terminator.
	r := NewRecordReader(strings.NewReader("aGVsbG8"))
	if _, err := r.Read(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Read() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestRecordTooLarge(t *testing.T) {
	w := NewRecordWriter(io.Discard)
	if err := w.Write(make([]byte, MaxEncodedSize)); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("Write(oversized) error = %v, want ErrRecordTooLarge", err)
	}

	// A hostile stream that never terminates must not grow without bound.
	hostile := io.MultiReader(
		strings.NewReader(strings.Repeat("A", MaxEncodedSize+1)),
		strings.NewReader(":"),
	)
	if _, err := NewRecordReader(hostile).Read(); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("Read(hostile) error = %v, want ErrRecordTooLarge", err)
	}
}
