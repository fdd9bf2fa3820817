package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Discover turns CLI inputs into the path list fed to Build: the lines
// of an optional manifest file (one path per line, blank lines and
// #-comments skipped) followed by explicitly listed files.
func Discover(manifest string, files []string) ([]string, error) {
	var paths []string

	if manifest != "" {
		f, err := os.Open(manifest)
		if err != nil {
			return nil, fmt.Errorf("open manifest: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			paths = append(paths, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
	}

	paths = append(paths, files...)

	return paths, nil
}

// DiscoverDir lists the regular files directly under dir, skipping
// dotfiles and subdirectories.
func DiscoverDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	return paths, nil
}
