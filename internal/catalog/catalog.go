// Package catalog keeps an append-only record of the first path seen for
// each content fingerprint.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
	"github.com/yuya-takeyama/dedup-ingest/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY,
    original_filename TEXT NOT NULL,
    sha256 TEXT UNIQUE NOT NULL
);
`

// Entry is one catalog row
type Entry struct {
	ID           int64  `db:"id"`
	OriginalPath string `db:"original_filename"`
	SHA256       string `db:"sha256"`
}

// Catalog is a sqlite-backed fingerprint catalog
type Catalog struct {
	db *sqlx.DB
}

// Open creates or opens the catalog database at path
func Open(path string) (*Catalog, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return New(conn)
}

// New wraps an open database and ensures the schema exists
func New(conn *sqlx.DB) (*Catalog, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return &Catalog{db: conn}, nil
}

// Close closes the underlying database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts path under fp unless fp is already known. It reports whether
// a row was written.
func (c *Catalog) Record(ctx context.Context, path string, fp checksum.Fingerprint) (bool, error) {
	res, err := c.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO files (original_filename, sha256) VALUES (?, ?)",
		path, string(fp),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", fp, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Lookup returns the entry for fp, or nil when it is unknown
func (c *Catalog) Lookup(ctx context.Context, fp checksum.Fingerprint) (*Entry, error) {
	var entry Entry
	err := c.db.GetContext(ctx, &entry,
		"SELECT id, original_filename, sha256 FROM files WHERE sha256 = ?", string(fp))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s: %w", fp, err)
	}
	return &entry, nil
}

// Count returns the number of catalogued fingerprints
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM files"); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}
