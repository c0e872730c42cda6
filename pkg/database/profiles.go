package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
)

// AdminUser is a moderation console account
type AdminUser struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	CreatedAt    int64
}

const profileColumns = `id, username, avatar_url, bio, status, last_active, last_ip, created_at`

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateProfile registers a new user and returns its profile
func (db *DB) CreateProfile(username, passwordHash string) (*protocol.Profile, error) {
	p := &protocol.Profile{
		ID:        newID(),
		Username:  username,
		Status:    "offline",
		CreatedAt: nowMillis(),
	}
	_, err := db.writeConn.Exec(`
		INSERT INTO profiles (id, username, password_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Username, passwordHash, p.Status, p.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanProfile(row interface{ Scan(...any) error }) (*protocol.Profile, error) {
	var (
		p          protocol.Profile
		avatarURL  sql.NullString
		bio        sql.NullString
		lastActive sql.NullInt64
		lastIP     sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Username, &avatarURL, &bio, &p.Status, &lastActive, &lastIP, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.AvatarURL = stringPtr(avatarURL)
	p.Bio = stringPtr(bio)
	p.LastActive = int64Ptr(lastActive)
	p.LastIP = stringPtr(lastIP)
	return &p, nil
}

// GetProfile returns a profile by ID
func (db *DB) GetProfile(id string) (*protocol.Profile, error) {
	p, err := scanProfile(db.conn.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetProfileCredentials returns a profile and its password hash for login validation
func (db *DB) GetProfileCredentials(username string) (*protocol.Profile, string, error) {
	var (
		p          protocol.Profile
		hash       string
		avatarURL  sql.NullString
		bio        sql.NullString
		lastActive sql.NullInt64
		lastIP     sql.NullString
	)
	err := db.conn.QueryRow(`SELECT `+profileColumns+`, password_hash FROM profiles WHERE username = ?`, username).
		Scan(&p.ID, &p.Username, &avatarURL, &bio, &p.Status, &lastActive, &lastIP, &p.CreatedAt, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	p.AvatarURL = stringPtr(avatarURL)
	p.Bio = stringPtr(bio)
	p.LastActive = int64Ptr(lastActive)
	p.LastIP = stringPtr(lastIP)
	return &p, hash, nil
}

// GetProfilesByIDs returns the profiles for the given IDs in one query.
// Unknown IDs are skipped.
func (db *DB) GetProfilesByIDs(ids []string) ([]protocol.Profile, error) {
	if len(ids) == 0 {
		return []protocol.Profile{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.conn.Query(`SELECT `+profileColumns+` FROM profiles WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []protocol.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// ListProfiles returns every profile, newest first
func (db *DB) ListProfiles() ([]protocol.Profile, error) {
	rows, err := db.conn.Query(`SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []protocol.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// TouchProfile records activity for a user: marks them online and stores
// the address of the request.
func (db *DB) TouchProfile(id, ip string) error {
	_, err := db.writeConn.Exec(`
		UPDATE profiles SET status = 'online', last_active = ?, last_ip = ? WHERE id = ?
	`, nowMillis(), ip, id)
	return err
}

// UpsertAdminUser creates an admin account or replaces its password hash
func (db *DB) UpsertAdminUser(username, passwordHash string) error {
	_, err := db.writeConn.Exec(`
		INSERT INTO admin_users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash
	`, newID(), username, passwordHash, nowMillis())
	return err
}

// GetAdminUser retrieves an admin account by username
func (db *DB) GetAdminUser(username string) (*AdminUser, error) {
	var a AdminUser
	err := db.conn.QueryRow(`
		SELECT id, username, password_hash, created_at FROM admin_users WHERE username = ?
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
