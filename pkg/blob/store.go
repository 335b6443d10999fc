package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Store is a directory-backed blob store. Objects written under Dir are
// served by the HTTP layer below BaseURL, so Put returns a durable URL.
type Store struct {
	dir     string
	baseURL string
}

func New(dir string, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Put stores data under the given relative path and returns the public URL.
// When the path carries no extension, one is derived from the content type
// (or sniffed from the payload when the content type is unknown).
func (s *Store) Put(path string, contentType string, data []byte) (string, error) {
	path = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "/")
	if strings.HasPrefix(path, "..") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}

	if filepath.Ext(path) == "" {
		path += s.extensionFor(contentType, data)
	}

	full := filepath.Join(s.dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob subdirectory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	return s.baseURL + "/" + path, nil
}

// Dir returns the root directory, for mounting as a static route.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) extensionFor(contentType string, data []byte) string {
	if contentType != "" {
		if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
			return mt.Extension()
		}
	}
	if mt := mimetype.Detect(data); mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}
