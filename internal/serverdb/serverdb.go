// Package serverdb is the server-side document store. Every resource is an
// opaque JSON document keyed by (tenant, path) with a monotonically
// increasing version used for optimistic-concurrency checks.
package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Document is one stored resource.
type Document struct {
	Tenant    string
	Path      string
	Body      json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// ServerDB wraps the server database connection.
type ServerDB struct {
	conn *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	tenant     TEXT NOT NULL,
	path       TEXT NOT NULL,
	body       JSON NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (tenant, path)
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant);
`

// Open opens (or creates) the server database at the given path.
// Use ":memory:" for tests.
func Open(dbPath string) (*ServerDB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open server db: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ServerDB{conn: conn}, nil
}

// Close closes the database.
func (db *ServerDB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Get returns a document, or nil when it does not exist.
func (db *ServerDB) Get(tenant, path string) (*Document, error) {
	var d Document
	var body string
	var ts string
	err := db.conn.QueryRow(
		`SELECT tenant, path, body, version, updated_at FROM documents WHERE tenant = ? AND path = ?`,
		tenant, path,
	).Scan(&d.Tenant, &d.Path, &body, &d.Version, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	d.Body = json.RawMessage(body)
	d.UpdatedAt, err = parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %s/%s: %w", tenant, path, err)
	}
	return &d, nil
}

// Create inserts a new document at version 1. Returns false when a document
// already exists at that path; the caller reports that as a conflict.
func (db *ServerDB) Create(tenant, path string, body json.RawMessage) (bool, error) {
	res, err := db.conn.Exec(
		`INSERT OR IGNORE INTO documents (tenant, path, body, version, updated_at)
		 VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)`,
		tenant, path, string(body),
	)
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// Update replaces a document's body and bumps its version. The update only
// applies when the stored version still equals expectedVersion; pass a
// negative expectedVersion for last-write-wins. Returns the new version, or
// false when the document is missing or the version check failed.
func (db *ServerDB) Update(tenant, path string, body json.RawMessage, expectedVersion int64) (int64, bool, error) {
	var res sql.Result
	var err error
	if expectedVersion >= 0 {
		res, err = db.conn.Exec(
			`UPDATE documents SET body = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE tenant = ? AND path = ? AND version = ?`,
			string(body), tenant, path, expectedVersion,
		)
	} else {
		res, err = db.conn.Exec(
			`UPDATE documents SET body = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
			 WHERE tenant = ? AND path = ?`,
			string(body), tenant, path,
		)
	}
	if err != nil {
		return 0, false, fmt.Errorf("update document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return 0, false, nil
	}

	var version int64
	if err := db.conn.QueryRow(
		`SELECT version FROM documents WHERE tenant = ? AND path = ?`,
		tenant, path,
	).Scan(&version); err != nil {
		return 0, false, fmt.Errorf("read back version: %w", err)
	}
	return version, true, nil
}

// Delete removes a document. Returns false when nothing was deleted.
func (db *ServerDB) Delete(tenant, path string) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM documents WHERE tenant = ? AND path = ?`, tenant, path)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// Count returns the number of documents stored for a tenant.
func (db *ServerDB) Count(tenant string) (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM documents WHERE tenant = ?`, tenant).Scan(&n)
	return n, err
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
