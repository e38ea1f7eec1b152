package assetfs

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndPrune(t *testing.T) {
	s := New(memfs.New())
	root := "/work/poster-assets"

	require.NoError(t, s.WriteFile(root+"/icons/hi/star.png", []byte("png")))
	require.NoError(t, s.WriteFile(root+"/title.png", []byte("png")))
	assert.True(t, s.Exists(root+"/icons/hi/star.png"))

	require.NoError(t, s.Remove(root+"/icons/hi/star.png"))
	require.NoError(t, s.PruneEmptyDirs(root+"/icons/hi", root))
	assert.False(t, s.Exists(root+"/icons"))
	assert.True(t, s.Exists(root), "root still holds title.png")

	require.NoError(t, s.Remove(root+"/title.png"))
	require.NoError(t, s.PruneEmptyDirs(root, root))
	assert.False(t, s.Exists(root))
	assert.True(t, s.Exists("/work"), "pruning stops at the asset root")
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	s := New(memfs.New())
	assert.NoError(t, s.Remove("/nope/missing.png"))
}

func TestPruneIgnoresDirsOutsideRoot(t *testing.T) {
	s := New(memfs.New())
	require.NoError(t, s.MkdirAll("/work/other"))
	require.NoError(t, s.PruneEmptyDirs("/work/other", "/work/poster-assets"))
	assert.True(t, s.Exists("/work/other"))
}

func TestAppendErrors(t *testing.T) {
	s := New(memfs.New())
	s.SetClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })
	dir := "/work/poster-assets"

	require.NoError(t, s.AppendErrors(dir, []string{`fo:o.jpg: File name contains invalid character ":"`}))
	require.NoError(t, s.AppendErrors(dir, []string{"a.png-42: PNG quality must be 8, 24 or 32 (is 42)"}))
	require.NoError(t, s.AppendErrors(dir, nil))

	data, err := s.ReadFile(dir + "/" + ErrorsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `[2024-05-01T12:00:00Z] fo:o.jpg: File name contains invalid character ":"`, lines[0])
	assert.Contains(t, lines[1], "PNG quality")
}

func TestMigrateDir(t *testing.T) {
	s := New(memfs.New())
	require.NoError(t, s.WriteFile("/tmp/unsaved/Untitled-1-assets/a.png", []byte("a")))

	m, err := s.MigrateDir("/tmp/unsaved/Untitled-1-assets", "/work/poster-assets")
	require.NoError(t, err)
	assert.True(t, m.Moved)
	assert.Empty(t, m.MovedAside)
	assert.True(t, s.Exists("/work/poster-assets/a.png"))
	assert.False(t, s.Exists("/tmp/unsaved/Untitled-1-assets"))
}

func TestMigrateDir_MissingSourceIsNoop(t *testing.T) {
	s := New(memfs.New())
	m, err := s.MigrateDir("/nowhere-assets", "/work/poster-assets")
	require.NoError(t, err)
	assert.False(t, m.Moved)
}

func TestMigrateDir_MovesOccupiedDestinationAside(t *testing.T) {
	tmp := t.TempDir()
	s := New(osfs.New(tmp))

	require.NoError(t, s.WriteFile("/src-assets/new.png", []byte("new")))
	require.NoError(t, s.WriteFile("/dst-assets/stale.png", []byte("stale")))
	require.NoError(t, s.MkdirAll("/dst-assets-old"))

	m, err := s.MigrateDir("/src-assets", "/dst-assets")
	require.NoError(t, err)
	assert.Equal(t, "/dst-assets-old-2", m.MovedAside)
	assert.True(t, s.Exists("/dst-assets/new.png"))
	assert.True(t, s.Exists("/dst-assets-old-2/stale.png"))
	assert.FileExists(t, filepath.Join(tmp, "dst-assets", "new.png"))
}

func TestMoveAside_Exhausted(t *testing.T) {
	tmp := t.TempDir()
	s := New(osfs.New(tmp))

	require.NoError(t, s.MkdirAll("/dst"))
	require.NoError(t, s.MkdirAll("/dst-old"))
	for i := 2; i <= MaxMoveAsideAttempts; i++ {
		require.NoError(t, s.MkdirAll(fmt.Sprintf("/dst-old-%d", i)))
	}
	_, err := s.MoveAside("/dst")
	assert.ErrorIs(t, err, ErrMigrationExhausted)
	assert.True(t, s.Exists("/dst"))
}
