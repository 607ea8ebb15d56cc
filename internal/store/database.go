package store

import (
	"database/sql"
	"fmt"

	"registerkaro-chat/internal/db"
)

// DatabaseStore keeps durable client state in the client_state table. Scope
// namespaces keys so several installs can share one database.
type DatabaseStore struct {
	db    *db.DB
	scope string
}

// NewDatabaseStore creates a new database store
func NewDatabaseStore(database *db.DB, scope string) *DatabaseStore {
	if scope == "" {
		scope = "default"
	}
	return &DatabaseStore{db: database, scope: scope}
}

func (ds *DatabaseStore) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	var value string
	query := ds.db.Rebind(`SELECT value FROM client_state WHERE scope = ? AND name = ?`)
	err := ds.db.QueryRow(query, ds.scope, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

func (ds *DatabaseStore) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	query := ds.db.Rebind(`
		INSERT INTO client_state (scope, name, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (scope, name)
		DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`)
	if _, err := ds.db.Exec(query, ds.scope, key, value); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (ds *DatabaseStore) Remove(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	query := ds.db.Rebind(`DELETE FROM client_state WHERE scope = ? AND name = ?`)
	if _, err := ds.db.Exec(query, ds.scope, key); err != nil {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}
