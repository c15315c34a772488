package memory

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hupe1980/toolmesh/mesherror"

	_ "modernc.org/sqlite"
)

// SQLitePersister stores memory collections in a SQLite database, one row
// per namespace holding the JSON-encoded node slice. Save replaces the
// whole collection, matching the Store's replace-on-write persistence.
type SQLitePersister struct {
	db *sql.DB
}

var _ Persister = (*SQLitePersister)(nil)

// NewSQLitePersister opens (or creates) the database at path and ensures
// the schema exists. Parent directories are created if needed.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, mesherror.Wrap(err, mesherror.KindStorage, "creating database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindStorage, "opening database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, mesherror.Wrap(err, mesherror.KindStorage, "enabling WAL mode")
	}

	schema := `
		CREATE TABLE IF NOT EXISTS memory_collections (
			namespace TEXT PRIMARY KEY,
			nodes     TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mesherror.Wrap(err, mesherror.KindStorage, "creating schema")
	}

	return &SQLitePersister{db: db}, nil
}

// Save replaces the stored collection for the namespace.
func (p *SQLitePersister) Save(namespace string, nodes []Node) error {
	raw, err := json.Marshal(nodes)
	if err != nil {
		return mesherror.Wrap(err, mesherror.KindStorage, "encoding memory collection")
	}

	_, err = p.db.Exec(`
		INSERT INTO memory_collections (namespace, nodes, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace) DO UPDATE SET
			nodes = excluded.nodes,
			updated_at = CURRENT_TIMESTAMP`, namespace, string(raw))
	if err != nil {
		return mesherror.Wrap(err, mesherror.KindStorage, "saving memory collection")
	}

	return nil
}

// Load returns the stored collection for the namespace, or an empty slice
// when the namespace has never been saved.
func (p *SQLitePersister) Load(namespace string) ([]Node, error) {
	var raw string
	err := p.db.QueryRow(`SELECT nodes FROM memory_collections WHERE namespace = ?`, namespace).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindStorage, "loading memory collection")
	}

	var nodes []Node
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindStorage, "decoding memory collection")
	}

	return nodes, nil
}

// Close closes the underlying database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
