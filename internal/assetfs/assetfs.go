// Package assetfs performs the file-system side effects of asset
// generation on a billy filesystem: writing and deleting generated files,
// pruning emptied directories, appending to errors.txt and migrating
// asset directories.
package assetfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrorsFile is the per-document validation and render error log.
const ErrorsFile = "errors.txt"

// Store wraps a billy filesystem. Paths are slash-separated and absolute.
type Store struct {
	fs  billy.Filesystem
	now func() time.Time

	mu sync.Mutex
}

// New wraps fs.
func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs, now: time.Now}
}

// NewOS returns a store over the host file system.
func NewOS() *Store {
	return New(osfs.New("/"))
}

// SetClock overrides the timestamp source used in errors.txt.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Exists reports whether p exists.
func (s *Store) Exists(p string) bool {
	_, err := s.fs.Stat(p)
	return err == nil
}

// IsDir reports whether p is a directory.
func (s *Store) IsDir(p string) bool {
	fi, err := s.fs.Stat(p)
	return err == nil && fi.IsDir()
}

// WriteFile writes data to p, creating parent directories.
func (s *Store) WriteFile(p string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", p, err)
	}
	if err := util.WriteFile(s.fs, p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// ReadFile reads p.
func (s *Store) ReadFile(p string) ([]byte, error) {
	return util.ReadFile(s.fs, p)
}

// MkdirAll creates p and its parents.
func (s *Store) MkdirAll(p string) error {
	return s.fs.MkdirAll(p, 0o755)
}

// Remove deletes a file. A missing file is not an error.
func (s *Store) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// PruneEmptyDirs removes dir and each of its parents while they are empty,
// stopping after root. Directories outside root are never touched.
func (s *Store) PruneEmptyDirs(dir, root string) error {
	dir, root = path.Clean(dir), path.Clean(root)
	if !within(dir, root) {
		return nil
	}
	for {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if dir == root {
					return nil
				}
				dir = path.Dir(dir)
				continue
			}
			return fmt.Errorf("read %s: %w", dir, err)
		}
		if len(entries) > 0 {
			return nil
		}
		if err := s.fs.Remove(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
		if dir == root {
			return nil
		}
		dir = path.Dir(dir)
	}
}

// AppendErrors appends timestamped lines to errors.txt in dir.
func (s *Store) AppendErrors(dir string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	f, err := s.fs.OpenFile(path.Join(dir, ErrorsFile), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ErrorsFile, err)
	}
	defer func() { _ = f.Close() }()

	stamp := s.now().Format(time.RFC3339)
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "[%s] %s\n", stamp, line)
	}
	if _, err := f.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("append %s: %w", ErrorsFile, err)
	}
	return nil
}

// within reports whether p equals root or lies below it.
func within(p, root string) bool {
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
