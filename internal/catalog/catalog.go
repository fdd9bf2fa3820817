// Package catalog builds the advertised file catalog and the digest
// index used by the host to resolve requests.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/postalsys/ferry/internal/logging"
)

// FileInfo is the advertised descriptor of one file.
type FileInfo struct {
	// Name is the basename peers see.
	Name string

	// Size is the byte count, strictly positive.
	Size uint64

	// Digest is the lowercase hex SHA-256 of the contents, used as the
	// file's stable identifier.
	Digest string
}

// HumanSize formats the size using IEC binary units.
func (f FileInfo) HumanSize() string {
	return humanize.IBytes(f.Size)
}

// Catalog is the ordered sequence of advertised files. Built once at
// host startup, immutable thereafter, shared read-only across
// connection goroutines.
type Catalog []FileInfo

// Index maps a digest to the absolute local path serving it. Keys are
// exactly the digests present in the Catalog.
type Index map[string]string

// Build stats and hashes the given paths and produces the Catalog and
// Index. Zero-byte files are excluded before advertisement; identical
// content under different paths collapses to a single entry. Unreadable
// paths are a startup error.
func Build(paths []string, logger *slog.Logger) (Catalog, Index, error) {
	cat := make(Catalog, 0, len(paths))
	idx := make(Index, len(paths))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", path, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			return nil, nil, fmt.Errorf("%s is a directory", path)
		}
		if info.Size() == 0 {
			logger.Warn("skipping empty file", logging.KeyFile, path)
			continue
		}

		digest, size, err := HashFile(abs)
		if err != nil {
			return nil, nil, err
		}

		if _, ok := idx[digest]; ok {
			logger.Debug("skipping duplicate content",
				logging.KeyFile, path,
				logging.KeyDigest, digest)
			continue
		}

		cat = append(cat, FileInfo{
			Name:   filepath.Base(abs),
			Size:   size,
			Digest: digest,
		})
		idx[digest] = abs
	}

	return cat, idx, nil
}

// HashFile computes the SHA-256 digest and size of a file's contents.
func HashFile(path string) (digest string, size uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}
