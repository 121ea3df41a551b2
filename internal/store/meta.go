package store

import (
	"database/sql"
	"time"
)

// SetMeta stores a checkpoint value such as the recommendation engine's last
// refresh time.
func (db *DB) SetMeta(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO meta (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetMeta retrieves a checkpoint value. Returns "" when the key is unset.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
