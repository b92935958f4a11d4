package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS Config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ConnectionHistory (
	server_address    TEXT PRIMARY KEY,
	last_username     TEXT NOT NULL,
	last_connected_at INTEGER NOT NULL
);
`

// State is the client's small persistent store: the last server dialled
// and the username used on each server
type State struct {
	db  *sql.DB
	dir string
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value, "" when unset
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastServer returns the last server address connected to
func (s *State) GetLastServer() string {
	addr, _ := s.GetConfig("last_server")
	return addr
}

// GetLastUsername returns the username last used on serverAddress
func (s *State) GetLastUsername(serverAddress string) (string, error) {
	var username string
	err := s.db.QueryRow(`
		SELECT last_username
		FROM ConnectionHistory
		WHERE server_address = ?
	`, serverAddress).Scan(&username)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return username, err
}

// SaveSuccessfulConnection records a successful AUTH on serverAddress and
// makes it the default server
func (s *State) SaveSuccessfulConnection(serverAddress, username string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, last_username, last_connected_at)
		VALUES (?, ?, ?)
	`, serverAddress, username, time.Now().Unix()); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES ('last_server', ?)
	`, serverAddress); err != nil {
		return err
	}
	return tx.Commit()
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
