package reconcile

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/agentic-research/assetgen/internal/assetfs"
)

// dirData is the asset-generation-dir template input.
type dirData struct {
	// Name is the document file name without extension.
	Name string
	// Ext is the extension without the dot.
	Ext string
}

// isSaved reports whether the host reported a location for the document.
// Unsaved documents carry a bare title such as "Untitled-1".
func isSaved(file string) bool {
	return strings.ContainsAny(file, `/\`) || hasVolume(file)
}

// hasVolume reports whether file starts with a drive letter as in C:\a.psd.
func hasVolume(file string) bool {
	if len(file) < 2 || file[1] != ':' {
		return false
	}
	c := file[0] | 0x20
	return 'a' <= c && c <= 'z'
}

// slashed converts a host path to forward slashes.
func slashed(file string) string {
	return strings.ReplaceAll(file, `\`, "/")
}

// joinPath is path.Join keeping the leading "//" of a network share.
func joinPath(elem ...string) string {
	p := path.Join(elem...)
	if strings.HasPrefix(elem[0], "//") && !strings.HasPrefix(p, "//") {
		p = "/" + p
	}
	return p
}

// assetDir resolves the asset directory of a document. Unsaved documents
// resolve below the unsaved base directory, or not at all without one.
func (s *Service) assetDir(file string) (string, error) {
	if file == "" {
		return "", nil
	}
	saved := isSaved(file)
	file = slashed(file)
	dir, base := path.Dir(file), path.Base(file)
	switch {
	case strings.HasPrefix(file, "//"):
		dir = "/" + dir
	case hasVolume(file) && !strings.Contains(file, "/"):
		dir, base = file[:2], file[2:]
	}
	ext := path.Ext(base)
	data := dirData{Name: strings.TrimSuffix(base, ext), Ext: strings.TrimPrefix(ext, ".")}

	var b strings.Builder
	if err := s.dirTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("asset directory of %s: %w", file, err)
	}
	rel := slashed(b.String())
	if path.IsAbs(rel) || hasVolume(rel) {
		return joinPath(rel), nil
	}
	if !saved {
		if s.cfg.UnsavedBaseDir == "" {
			return "", nil
		}
		return path.Join(s.cfg.UnsavedBaseDir, rel), nil
	}
	return joinPath(dir, rel), nil
}

func parseDirTemplate(text string) (*template.Template, error) {
	return template.New("asset-generation-dir").Option("missingkey=error").Parse(text)
}

// fileChanged updates the document context after the host reported a new
// file path. Saving an unsaved document moves its generated assets along;
// saving a saved document under another name disables generation.
func (s *Service) fileChanged(docID int, dc *DocumentContext, newFile string) error {
	oldFile, oldDir := dc.File, dc.AssetGenerationDir
	newDir, err := s.assetDir(newFile)
	if err != nil {
		return err
	}
	dc.File = newFile
	dc.AssetGenerationDir = newDir

	if isSaved(oldFile) {
		if dc.AssetGenerationEnabled {
			s.logger.Printf("reconcile: document %d: saved as %s, asset generation disabled", docID, newFile)
		}
		dc.AssetGenerationEnabled = false
		return nil
	}
	if oldDir == "" || newDir == "" || oldDir == newDir {
		return nil
	}

	m, err := s.store.MigrateDir(oldDir, newDir)
	if err != nil {
		if errors.Is(err, assetfs.ErrMigrationExhausted) {
			dc.AssetGenerationEnabled = false
		}
		return fmt.Errorf("document %d: %w", docID, err)
	}
	if m.MovedAside != "" {
		s.logger.Printf("reconcile: document %d: moved existing %s aside to %s", docID, newDir, m.MovedAside)
		if s.ledger != nil {
			if _, err := s.ledger.Relocate(docID, newDir, m.MovedAside); err != nil {
				return err
			}
		}
	}
	if m.Moved && s.ledger != nil {
		if _, err := s.ledger.Relocate(docID, oldDir, newDir); err != nil {
			return err
		}
	}
	return nil
}
