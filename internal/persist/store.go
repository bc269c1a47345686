// Package persist durably records campaign progress: per-action checkpoints,
// completed-batch contexts (full or compact), interrupt records, and the
// testing history ledger. Everything goes through the [Store] interface so
// the same manager runs on the local filesystem or an object store.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ameyarj/pica-testing-sub000/internal/errors"
)

// ErrNotFound is returned by Store implementations when a key is absent.
var ErrNotFound = errors.ErrNotFound

// Store is a flat key-value store. Keys use "/" as a separator.
type Store interface {
	// Save writes data under key, replacing any previous value. Readers
	// never observe a partially written value.
	Save(ctx context.Context, key string, data []byte) error

	// Load returns the value stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// List returns every key that starts with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// -----------------------------------------------------------------------------
// FileStore
// -----------------------------------------------------------------------------

// FileStore implements Store on the local filesystem. Each key maps to a file
// under the base directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	baseDir = filepath.Clean(baseDir)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FileStore) BaseDir() string {
	return fs.baseDir
}

// Save persists data with the given key using atomic write.
func (fs *FileStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, err := fs.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return atomicWriteFile(path, data, 0644)
}

// Load retrieves data for the given key.
func (fs *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path, err := fs.keyToPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes the data associated with the given key.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, err := fs.keyToPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	fs.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

// pruneEmptyDirs removes empty parents of a deleted file up to the base dir.
func (fs *FileStore) pruneEmptyDirs(dir string) {
	for dir != fs.baseDir && strings.HasPrefix(dir, fs.baseDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// List returns all keys matching the given prefix. Temporary files left by
// interrupted writes are skipped.
func (fs *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// Walk the deepest directory the prefix fully names.
	searchDir := fs.baseDir
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		searchDir = filepath.Join(fs.baseDir, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.Walk(searchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(fs.baseDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Exists checks if a key exists without loading its data.
func (fs *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path, err := fs.keyToPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// keyToPath maps a key to a path inside the base directory. Keys that would
// escape the base directory are rejected.
func (fs *FileStore) keyToPath(key string) (string, error) {
	if key == "" {
		return "", errors.NewValidationError("empty store key")
	}
	path := filepath.Join(fs.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(fs.baseDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewValidationError("store key escapes base directory").WithValue(key)
	}
	return path, nil
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
