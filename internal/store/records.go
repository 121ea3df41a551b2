package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// GetRecord returns the serialized record stored under key, or nil when the
// key has never been written.
func (db *DB) GetRecord(key string) ([]byte, error) {
	var value []byte
	err := db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// PutRecords upserts all given records in a single transaction, so a
// snapshot of related collections is either fully persisted or not at all.
func (db *DB) PutRecords(records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for key, value := range records {
		if _, err := tx.Exec(`
			INSERT INTO records (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return fmt.Errorf("upsert record %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// DeleteRecords removes the given keys in one transaction. Missing keys are
// not an error.
func (db *DB) DeleteRecords(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	_, err := db.Exec(`DELETE FROM records WHERE key IN (`+placeholders+`)`, args...)
	return err
}

// ListRecordKeys returns all persisted record keys, sorted.
func (db *DB) ListRecordKeys() ([]string, error) {
	rows, err := db.Query(`SELECT key FROM records ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
