// Package whitelist persists the command-access grants. Grants live in a
// small SQLite key-value table keyed "wl_<userID>", matching the legacy
// quick.db layout, so an old database file carries over.
package whitelist

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const keyPrefix = "wl_"

// Registry is the durable set of user IDs granted elevated command
// access. The fixed owner allowlist lives in config and is checked by
// the command gate, not here.
type Registry struct {
	db *sql.DB
}

// Open opens or creates the whitelist database and runs migrations.
func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open whitelist database: %w", err)
	}

	// WAL keeps the registry readable while a grant is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// IsGranted reports whether userID holds a whitelist grant.
func (r *Registry) IsGranted(userID string) (bool, error) {
	var one int
	err := r.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, keyPrefix+userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query grant: %w", err)
	}
	return true, nil
}

// Grant adds userID to the whitelist. Returns true if this call created
// the grant, false if the user was already whitelisted.
func (r *Registry) Grant(userID string) (bool, error) {
	res, err := r.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, 1) ON CONFLICT(key) DO NOTHING`,
		keyPrefix+userID,
	)
	if err != nil {
		return false, fmt.Errorf("insert grant: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Revoke removes userID from the whitelist. Returns true if a grant was
// removed, false if none existed.
func (r *Registry) Revoke(userID string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM kv WHERE key = ?`, keyPrefix+userID)
	if err != nil {
		return false, fmt.Errorf("delete grant: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns all whitelisted user IDs in insertion order.
func (r *Registry) List() ([]string, error) {
	rows, err := r.db.Query(
		`SELECT key FROM kv WHERE key LIKE ? ORDER BY rowid`, keyPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		ids = append(ids, strings.TrimPrefix(key, keyPrefix))
	}
	return ids, rows.Err()
}
