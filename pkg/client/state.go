package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Config keys
const (
	keyServerURL    = "server_url"
	keyLastUsername = "last_username"
	keyAccessToken  = "access_token"
	keyUserID       = "user_id"
	keyUsername     = "username"
	keyExpiresAt    = "expires_at"
)

// State manages client-side persistent state
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
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

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS Config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create config table: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
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

// GetServerURL returns the last used backend URL
func (s *State) GetServerURL() string {
	url, _ := s.GetConfig(keyServerURL)
	return url
}

// SetServerURL stores the backend URL
func (s *State) SetServerURL(url string) error {
	return s.SetConfig(keyServerURL, url)
}

// GetLastUsername returns the last username signed in with
func (s *State) GetLastUsername() string {
	username, _ := s.GetConfig(keyLastUsername)
	return username
}

// SetLastUsername stores the last username signed in with
func (s *State) SetLastUsername(username string) error {
	return s.SetConfig(keyLastUsername, username)
}

// GetSession returns the saved session, or nil if none is saved or it has expired
func (s *State) GetSession() *Session {
	return sessionFromConfig(s.GetConfig)
}

// SaveSession stores sess so the next start skips the login screen
func (s *State) SaveSession(sess *Session) error {
	return saveSessionConfig(s.SetConfig, sess)
}

// ClearSession forgets the saved session
func (s *State) ClearSession() error {
	return saveSessionConfig(s.SetConfig, nil)
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}

func sessionFromConfig(get func(string) (string, error)) *Session {
	token, _ := get(keyAccessToken)
	userID, _ := get(keyUserID)
	if token == "" || userID == "" {
		return nil
	}
	username, _ := get(keyUsername)
	expiresStr, _ := get(keyExpiresAt)
	expiresAt, _ := strconv.ParseInt(expiresStr, 10, 64)
	if expiresAt > 0 && time.UnixMilli(expiresAt).Before(time.Now()) {
		return nil
	}
	return &Session{AccessToken: token, UserID: userID, Username: username, ExpiresAt: expiresAt}
}

func saveSessionConfig(set func(string, string) error, sess *Session) error {
	values := map[string]string{keyAccessToken: "", keyUserID: "", keyUsername: "", keyExpiresAt: ""}
	if sess != nil {
		values[keyAccessToken] = sess.AccessToken
		values[keyUserID] = sess.UserID
		values[keyUsername] = sess.Username
		values[keyExpiresAt] = strconv.FormatInt(sess.ExpiresAt, 10)
	}
	for k, v := range values {
		if err := set(k, v); err != nil {
			return err
		}
	}
	return nil
}
