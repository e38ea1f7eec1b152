// Package ledger records which files were generated for which layer, so
// that renames and removals can delete exactly the stale outputs.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a path has no owner.
var ErrNotFound = errors.New("not found")

// Entry is one generated file.
type Entry struct {
	DocumentID int
	LayerID    int
	Path       string
	Component  string
	ModTime    time.Time
}

// Ledger is a SQLite-backed table of generated files.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS generated_files (
	document_id INTEGER NOT NULL,
	layer_id INTEGER NOT NULL,
	path TEXT NOT NULL,
	component TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	PRIMARY KEY (document_id, path)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_generated_layer ON generated_files(document_id, layer_id);
`

// Open opens or creates the ledger at dbPath. An empty path keeps the
// ledger in memory for the lifetime of the process.
func Open(dbPath string) (*Ledger, error) {
	dsn := dbPath
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// A second connection to :memory: would see a different database.
	db.SetMaxOpenConns(1)

	if dbPath != "" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores path as generated for the layer. A path owned by another
// layer of the same document changes owner.
func (l *Ledger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.ModTime.IsZero() {
		e.ModTime = time.Now()
	}
	_, err := l.db.Exec(`
		INSERT OR REPLACE INTO generated_files (document_id, layer_id, path, component, mtime)
		VALUES (?, ?, ?, ?, ?)`,
		e.DocumentID, e.LayerID, e.Path, e.Component, e.ModTime.UnixNano())
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Path, err)
	}
	return nil
}

// Files lists the entries of one layer ordered by path.
func (l *Ledger) Files(docID, layerID int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query(`
		SELECT document_id, layer_id, path, component, mtime FROM generated_files
		WHERE document_id = ? AND layer_id = ? ORDER BY path`, docID, layerID)
}

// DocumentFiles lists every entry of a document ordered by path.
func (l *Ledger) DocumentFiles(docID int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query(`
		SELECT document_id, layer_id, path, component, mtime FROM generated_files
		WHERE document_id = ? ORDER BY path`, docID)
}

func (l *Ledger) query(q string, args ...any) ([]Entry, error) {
	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var mtime int64
		if err := rows.Scan(&e.DocumentID, &e.LayerID, &e.Path, &e.Component, &mtime); err != nil {
			return nil, err
		}
		e.ModTime = time.Unix(0, mtime)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Owner returns the layer that generated path.
func (l *Ledger) Owner(docID int, path string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var layerID int
	err := l.db.QueryRow(`SELECT layer_id FROM generated_files WHERE document_id = ? AND path = ?`, docID, path).Scan(&layerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return layerID, err
}

// Forget removes one path.
func (l *Ledger) Forget(docID int, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`DELETE FROM generated_files WHERE document_id = ? AND path = ?`, docID, path)
	return err
}

// ForgetLayer removes every path of a layer.
func (l *Ledger) ForgetLayer(docID, layerID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(`DELETE FROM generated_files WHERE document_id = ? AND layer_id = ?`, docID, layerID)
	return err
}

// Relocate rewrites the paths below oldDir to lie below newDir after an
// asset directory migration.
func (l *Ledger) Relocate(docID int, oldDir, newDir string) (int64, error) {
	oldDir = strings.TrimSuffix(oldDir, "/")
	newDir = strings.TrimSuffix(newDir, "/")
	prefix := oldDir + "/"

	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.Exec(`
		UPDATE generated_files SET path = ? || substr(path, length(?) + 1)
		WHERE document_id = ? AND substr(path, 1, length(?)) = ?`,
		newDir, oldDir, docID, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("relocate %s: %w", oldDir, err)
	}
	return res.RowsAffected()
}
