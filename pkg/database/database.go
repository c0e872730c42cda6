package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken indicates a profile or admin with that username exists.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrAlreadyMember indicates the user already belongs to the server.
	ErrAlreadyMember = errors.New("already a member of this server")
	// ErrInvalidFlag indicates a report names both or neither of a message and a DM.
	ErrInvalidFlag = errors.New("exactly one of message_id and dm_id is required")
)

// ChangeListener receives every committed insert on a realtime-enabled table.
type ChangeListener func(protocol.Change)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)

	listenerMu sync.RWMutex
	listener   ChangeListener
}

var pragmas = []struct {
	stmt string
	what string
}{
	// WAL allows multiple readers and one writer at the same time
	{"PRAGMA journal_mode = WAL", "enable WAL mode"},
	// Wait and retry instead of failing immediately with SQLITE_BUSY
	{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	{"PRAGMA foreign_keys = ON", "enable foreign keys"},
	{"PRAGMA synchronous = NORMAL", "set synchronous mode"},
}

func configure(conn *sql.DB) error {
	for _, p := range pragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}
	return nil
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := configure(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// SQLite allows a single writer; funnel all writes through one connection
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := configure(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("write connection: %w", err)
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// SetChangeListener registers the function notified after each committed
// insert into messages, direct_messages or flagged_messages.
func (db *DB) SetChangeListener(fn ChangeListener) {
	db.listenerMu.Lock()
	db.listener = fn
	db.listenerMu.Unlock()
}

func (db *DB) notify(change protocol.Change) {
	db.listenerMu.RLock()
	fn := db.listener
	db.listenerMu.RUnlock()
	if fn != nil {
		fn(change)
	}
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	avatar_url TEXT,
	bio TEXT,
	status TEXT NOT NULL DEFAULT 'offline',
	last_active INTEGER,
	last_ip TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS servers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	icon_url TEXT,
	invite_code TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (owner_id) REFERENCES profiles(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS server_members (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	UNIQUE (server_id, user_id),
	FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES profiles(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'text',
	position INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	is_edited INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS direct_messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	content TEXT NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	is_edited INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bans (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	server_id TEXT,
	reason TEXT NOT NULL DEFAULT '',
	is_global INTEGER NOT NULL DEFAULT 0,
	banned_by TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ip_bans (
	id TEXT PRIMARY KEY,
	ip_address TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	banned_by TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS flagged_messages (
	id TEXT PRIMARY KEY,
	message_id TEXT,
	dm_id TEXT,
	reason TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT 'low',
	reviewed INTEGER NOT NULL DEFAULT 0,
	reviewed_by TEXT,
	action_taken TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS moderation_logs (
	id TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	performed_by TEXT NOT NULL,
	target_user_id TEXT,
	details TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dm_sender ON direct_messages(sender_id, recipient_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dm_recipient ON direct_messages(recipient_id, sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_channels_server ON channels(server_id, position);
CREATE INDEX IF NOT EXISTS idx_members_user ON server_members(user_id);
CREATE INDEX IF NOT EXISTS idx_bans_user ON bans(user_id);
CREATE INDEX IF NOT EXISTS idx_ip_bans_ip ON ip_bans(ip_address);
CREATE INDEX IF NOT EXISTS idx_flags_reviewed ON flagged_messages(reviewed, created_at);
CREATE INDEX IF NOT EXISTS idx_logs_created ON moderation_logs(created_at DESC);
`

	_, err := db.writeConn.Exec(schema)
	return err
}

// nowMillis returns current time as Unix timestamp in milliseconds
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func newID() string {
	return uuid.NewString()
}

// nullString converts an optional string into a value SQLite stores as NULL.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// placeholders returns "?, ?, ..." with n markers for an IN clause.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
