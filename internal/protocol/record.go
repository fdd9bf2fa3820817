// Package protocol implements the Ferry wire protocol: colon-terminated
// base64 records and the application message vocabulary exchanged over them.
package protocol

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Terminator is the single byte that ends every record on the wire.
// Colons cannot appear in a base64 string, so no escaping is needed.
const Terminator = ':'

// MaxEncodedSize caps the on-wire size of a single record (terminator
// included). Reads that exceed it fail instead of growing without bound
// on hostile input.
const MaxEncodedSize = 8 << 20

// Encoding is the record payload encoding: standard base64 alphabet,
// no padding.
var Encoding = base64.RawStdEncoding

var (
	// ErrRecordTooLarge is returned when a record exceeds MaxEncodedSize.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")

	// ErrInvalidRecord is returned when a record is malformed.
	ErrInvalidRecord = errors.New("invalid record")
)

// RecordReader reads colon-terminated records from a byte stream.
type RecordReader struct {
	r *bufio.Reader
}

// NewRecordReader creates a new RecordReader.
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{r: bufio.NewReader(r)}
}

// Read blocks until one complete record is available and returns its
// decoded payload. It returns io.EOF if the stream ends before any byte
// of the next record, and io.ErrUnexpectedEOF if the stream ends
// mid-record.
func (rr *RecordReader) Read() ([]byte, error) {
	var encoded []byte

	for {
		chunk, err := rr.r.ReadSlice(Terminator)
		encoded = append(encoded, chunk...)

		if len(encoded) > MaxEncodedSize {
			return nil, ErrRecordTooLarge
		}

		switch {
		case err == nil:
			// Strip the terminator before decoding.
			payload := make([]byte, Encoding.DecodedLen(len(encoded)-1))
			n, err := Encoding.Decode(payload, encoded[:len(encoded)-1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			}
			return payload[:n], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(encoded) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// RecordWriter writes colon-terminated records to a byte stream.
type RecordWriter struct {
	w *bufio.Writer
}

// NewRecordWriter creates a new RecordWriter.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: bufio.NewWriter(w)}
}

// Write frames the payload as one record and flushes it. An empty
// payload is valid and encodes to a bare terminator.
func (rw *RecordWriter) Write(payload []byte) error {
	if Encoding.EncodedLen(len(payload))+1 > MaxEncodedSize {
		return ErrRecordTooLarge
	}

	enc := base64.NewEncoder(Encoding, rw.w)
	if _, err := enc.Write(payload); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := rw.w.WriteByte(Terminator); err != nil {
		return err
	}
	return rw.w.Flush()
}
