package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a blob does not exist in the store.
var ErrNotFound = errors.New("memory: blob not found")

// BlobStore is the durable key-to-bytes interface records are written
// through. The filesystem implementation below suffices; any blob store with
// the same semantics can be substituted.
type BlobStore interface {
	Write(key string, data []byte) error
	Read(key string) ([]byte, error)
}

// DirStore is a local file-system BlobStore keeping one file per key.
type DirStore struct {
	dir string
}

// NewDirStore creates the backing directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("memory: init directory %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

func (d *DirStore) pathForKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("memory: invalid blob key (empty)")
	}
	if strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("memory: invalid blob key %q (contains path separator)", key)
	}
	dir, err := filepath.Abs(d.dir)
	if err != nil {
		return "", fmt.Errorf("memory: abs dir: %w", err)
	}
	resolved := filepath.Join(dir, key+".md")
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("memory: path traversal detected for key %q", key)
	}
	return resolved, nil
}

// Write persists a blob atomically via a temporary file. An existing key is
// overwritten; records are content-addressed, so concurrent writers to the
// same key race safely.
func (d *DirStore) Write(key string, data []byte) error {
	path, err := d.pathForKey(key)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("memory: atomic rename %s: %w", path, err)
	}
	return nil
}

// Read retrieves a blob by key, returning ErrNotFound if it does not exist.
func (d *DirStore) Read(key string) ([]byte, error) {
	path, err := d.pathForKey(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", path, err)
	}
	return b, nil
}
