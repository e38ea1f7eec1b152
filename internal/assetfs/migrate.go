package assetfs

import (
	"errors"
	"fmt"
	"path"
)

// MaxMoveAsideAttempts bounds the -old, -old-2, ... candidates tried.
const MaxMoveAsideAttempts = 1000

// ErrMigrationExhausted is returned when every move-aside candidate for
// an occupied destination already exists.
var ErrMigrationExhausted = errors.New("asset directory migration exhausted")

// MoveAside renames an existing p to the first free p-old, p-old-2, ...
// and returns the new name.
func (s *Store) MoveAside(p string) (string, error) {
	for i := 1; i <= MaxMoveAsideAttempts; i++ {
		candidate := p + "-old"
		if i > 1 {
			candidate = fmt.Sprintf("%s-old-%d", p, i)
		}
		if s.Exists(candidate) {
			continue
		}
		if err := s.fs.Rename(p, candidate); err != nil {
			return "", fmt.Errorf("move %s aside: %w", p, err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMigrationExhausted, p)
}

// Migration describes what MigrateDir did.
type Migration struct {
	Moved      bool
	MovedAside string
}

// MigrateDir renames the asset directory from to to. A missing source is
// not an error; an occupied destination is moved aside first.
func (s *Store) MigrateDir(from, to string) (Migration, error) {
	var m Migration
	from, to = path.Clean(from), path.Clean(to)
	if from == to || !s.IsDir(from) {
		return m, nil
	}
	if s.Exists(to) {
		aside, err := s.MoveAside(to)
		if err != nil {
			return m, err
		}
		m.MovedAside = aside
	}
	if err := s.fs.MkdirAll(path.Dir(to), 0o755); err != nil {
		return m, fmt.Errorf("create %s: %w", path.Dir(to), err)
	}
	if err := s.fs.Rename(from, to); err != nil {
		return m, fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	m.Moved = true
	return m, nil
}
