package host

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/postalsys/ferry/internal/crypto"
	"github.com/postalsys/ferry/internal/protocol"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{AccessKey: "", ChunkSize: 8192}); err == nil {
		t.Error("New(empty key) error = nil, want error")
	}
	if _, err := New(Options{AccessKey: "k", ChunkSize: 0}); err == nil {
		t.Error("New(zero chunk size) error = nil, want error")
	}
	if _, err := New(Options{AccessKey: "k", ChunkSize: 8192}); err != nil {
		t.Errorf("New(valid) error = %v", err)
	}
}

func TestGenerateAccessKey(t *testing.T) {
	key, err := GenerateAccessKey()
	if err != nil {
		t.Fatalf("GenerateAccessKey() error = %v", err)
	}
	if len(key) != AccessKeyLen {
		t.Errorf("len(key) = %d, want %d", len(key), AccessKeyLen)
	}
	for _, c := range key {
		if !strings.ContainsRune(keyAlphabet, c) {
			t.Errorf("key contains %q, outside alphabet", c)
		}
	}

	other, err := GenerateAccessKey()
	if err != nil {
		t.Fatalf("GenerateAccessKey() error = %v", err)
	}
	if key == other {
		t.Error("two generated keys are identical")
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("serve: %w", ErrUnknownDigest), "protocol"},
		{ErrCountMismatch, "protocol"},
		{protocol.ErrMalformedEntry, "protocol"},
		{protocol.ErrRecordTooLarge, "protocol"},
		{ErrIntegrity, "integrity"},
		{fmt.Errorf("recv: %w", crypto.ErrDecrypt), "crypto"},
		{errors.New("connection reset"), "network"},
	}

	for _, tt := range tests {
		if got := errorClass(tt.err); got != tt.want {
			t.Errorf("errorClass(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
