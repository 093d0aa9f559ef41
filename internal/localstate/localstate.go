// Package localstate persists the small amount of client-side state
// that survives restarts: the sound-mute flag and the stable anonymous
// device id used when no platform identity is available.
package localstate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const (
	keyMuted    = "muted"
	keyDeviceID = "device_id"
)

// DB wraps the local settings database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the settings database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init local state schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Muted returns the persisted sound-mute flag, false when unset.
func (d *DB) Muted() (bool, error) {
	v, err := d.get(keyMuted)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// SetMuted persists the sound-mute flag.
func (d *DB) SetMuted(muted bool) error {
	v := "0"
	if muted {
		v = "1"
	}
	return d.set(keyMuted, v)
}

// DeviceID returns the stable anonymous device id, generating and
// persisting one on first use.
func (d *DB) DeviceID() (string, error) {
	v, err := d.get(keyDeviceID)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	id := uuid.NewString()
	if err := d.set(keyDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

func (d *DB) get(key string) (string, error) {
	var v string
	err := d.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return v, nil
}

func (d *DB) set(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}
