package protocol

import (
	"strings"
	"testing"
)

const testDigest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestFormatEntry(t *testing.T) {
	got := string(FormatEntry("report.pdf", 1024, testDigest))
	want := "report.pdf:1024:" + testDigest
	if got != want {
		t.Errorf("FormatEntry() = %q, want %q", got, want)
	}
}

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		wantName string
		wantSize uint64
		wantErr  bool
	}{
		{
			name:     "simple",
			entry:    "report.pdf:1024:" + testDigest,
			wantName: "report.pdf",
			wantSize: 1024,
		},
		{
			name:     "name with colons",
			entry:    "a:b:c.txt:30:" + testDigest,
			wantName: "a:b:c.txt",
			wantSize: 30,
		},
		{
			name:    "missing fields",
			entry:   "report.pdf",
			wantErr: true,
		},
		{
			name:    "bad digest",
			entry:   "report.pdf:1024:zzzz",
			wantErr: true,
		},
		{
			name:    "uppercase digest",
			entry:   "report.pdf:1024:" + strings.ToUpper(testDigest),
			wantErr: true,
		},
		{
			name:    "bad size",
			entry:   "report.pdf:abc:" + testDigest,
			wantErr: true,
		},
		{
			name:    "zero size",
			entry:   "report.pdf:0:" + testDigest,
			wantErr: true,
		},
		{
			name:    "empty name",
			entry:   ":1024:" + testDigest,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, size, digest, err := ParseEntry([]byte(tt.entry))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEntry(%q) error = nil, want error", tt.entry)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEntry(%q) error = %v", tt.entry, err)
			}
			if name != tt.wantName || size != tt.wantSize || digest != testDigest {
				t.Errorf("ParseEntry(%q) = (%q, %d, %q)", tt.entry, name, size, digest)
			}
		})
	}
}

func TestParseEntryRoundTrip(t *testing.T) {
	name, size, digest, err := ParseEntry(FormatEntry("data:2024.bin", 42, testDigest))
	if err != nil {
		t.Fatalf("ParseEntry() error = %v", err)
	}
	if name != "data:2024.bin" || size != 42 || digest != testDigest {
		t.Errorf("round trip = (%q, %d, %q)", name, size, digest)
	}
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount(FormatCount(17))
	if err != nil {
		t.Fatalf("ParseCount() error = %v", err)
	}
	if n != 17 {
		t.Errorf("ParseCount() = %d, want 17", n)
	}

	for _, bad := range []string{"", "abc", "-1", "1.5"} {
		if _, err := ParseCount([]byte(bad)); err == nil {
			t.Errorf("ParseCount(%q) error = nil, want error", bad)
		}
	}
}

func TestValidDigest(t *testing.T) {
	if !ValidDigest(testDigest) {
		t.Error("ValidDigest(valid) = false")
	}
	for _, bad := range []string{
		"",
		testDigest[:63],
		testDigest + "a",
		strings.ToUpper(testDigest),
		strings.Replace(testDigest, "9", "g", 1),
	} {
		if ValidDigest(bad) {
			t.Errorf("ValidDigest(%q) = true", bad)
		}
	}
}
