package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/google/uuid"
)

// DefaultChannelName is the text channel every new server starts with
const DefaultChannelName = "general"

func newInviteCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// CreateServer creates a server owned by ownerID, adds the owner as a member
// and creates the default text channel, all in one transaction.
func (db *DB) CreateServer(ownerID, name string, iconURL *string) (*protocol.Server, *protocol.Channel, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := nowMillis()
	srv := &protocol.Server{
		ID:         newID(),
		Name:       name,
		OwnerID:    ownerID,
		IconURL:    iconURL,
		InviteCode: newInviteCode(),
		CreatedAt:  now,
	}
	if _, err := tx.Exec(`
		INSERT INTO servers (id, name, owner_id, icon_url, invite_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, srv.ID, srv.Name, srv.OwnerID, nullString(iconURL), srv.InviteCode, now); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO server_members (id, server_id, user_id, joined_at) VALUES (?, ?, ?, ?)
	`, newID(), srv.ID, ownerID, now); err != nil {
		return nil, nil, err
	}

	ch := &protocol.Channel{
		ID:        newID(),
		ServerID:  srv.ID,
		Name:      DefaultChannelName,
		Type:      protocol.ChannelTypeText,
		Position:  0,
		CreatedAt: now,
	}
	if _, err := tx.Exec(`
		INSERT INTO channels (id, server_id, name, type, position, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.ServerID, ch.Name, ch.Type, ch.Position, now); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return srv, ch, nil
}

const serverColumns = `s.id, s.name, s.owner_id, s.icon_url, s.invite_code, s.created_at`

func scanServer(row interface{ Scan(...any) error }, extra ...any) (*protocol.Server, error) {
	var (
		s       protocol.Server
		iconURL sql.NullString
	)
	dest := append([]any{&s.ID, &s.Name, &s.OwnerID, &iconURL, &s.InviteCode, &s.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.IconURL = stringPtr(iconURL)
	return &s, nil
}

// GetServer returns a server by ID
func (db *DB) GetServer(id string) (*protocol.Server, error) {
	s, err := scanServer(db.conn.QueryRow(`SELECT `+serverColumns+` FROM servers s WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListServersForUser returns the servers userID is a member of, oldest first
func (db *DB) ListServersForUser(userID string) ([]protocol.Server, error) {
	rows, err := db.conn.Query(`
		SELECT `+serverColumns+` FROM servers s
		JOIN server_members m ON m.server_id = s.id
		WHERE m.user_id = ?
		ORDER BY s.created_at ASC, s.rowid ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []protocol.Server{}
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *s)
	}
	return servers, rows.Err()
}

// ListServersWithOwner returns every server with its owner's username, newest first
func (db *DB) ListServersWithOwner() ([]protocol.Server, error) {
	rows, err := db.conn.Query(`
		SELECT ` + serverColumns + `, COALESCE(p.username, '') FROM servers s
		LEFT JOIN profiles p ON p.id = s.owner_id
		ORDER BY s.created_at DESC, s.rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []protocol.Server{}
	for rows.Next() {
		var owner string
		s, err := scanServer(rows, &owner)
		if err != nil {
			return nil, err
		}
		s.OwnerUsername = owner
		servers = append(servers, *s)
	}
	return servers, rows.Err()
}

// JoinServer adds userID to the server with the given invite code
func (db *DB) JoinServer(inviteCode, userID string) (*protocol.Server, error) {
	s, err := scanServer(db.conn.QueryRow(`SELECT `+serverColumns+` FROM servers s WHERE s.invite_code = ?`, inviteCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	_, err = db.writeConn.Exec(`
		INSERT INTO server_members (id, server_id, user_id, joined_at) VALUES (?, ?, ?, ?)
	`, newID(), s.ID, userID, nowMillis())
	if isUniqueViolation(err) {
		return nil, ErrAlreadyMember
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// IsMember checks if a user belongs to a server
func (db *DB) IsMember(serverID, userID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)
	`, serverID, userID).Scan(&exists)
	return exists, err
}

const channelColumns = `c.id, c.server_id, c.name, c.type, c.position, c.created_at`

func scanChannel(row interface{ Scan(...any) error }, extra ...any) (*protocol.Channel, error) {
	var c protocol.Channel
	dest := append([]any{&c.ID, &c.ServerID, &c.Name, &c.Type, &c.Position, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChannel appends a channel after the server's existing channels
func (db *DB) CreateChannel(serverID, name, channelType string) (*protocol.Channel, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM channels WHERE server_id = ?`, serverID).Scan(&next); err != nil {
		return nil, err
	}

	c := &protocol.Channel{
		ID:        newID(),
		ServerID:  serverID,
		Name:      name,
		Type:      channelType,
		Position:  next,
		CreatedAt: nowMillis(),
	}
	if _, err := tx.Exec(`
		INSERT INTO channels (id, server_id, name, type, position, created_at) VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ServerID, c.Name, c.Type, c.Position, c.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetChannel returns a channel by ID
func (db *DB) GetChannel(id string) (*protocol.Channel, error) {
	c, err := scanChannel(db.conn.QueryRow(`SELECT `+channelColumns+` FROM channels c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListChannels returns the channels of a server ordered by position
func (db *DB) ListChannels(serverID string) ([]protocol.Channel, error) {
	rows, err := db.conn.Query(`
		SELECT `+channelColumns+` FROM channels c WHERE c.server_id = ? ORDER BY c.position ASC, c.created_at ASC
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []protocol.Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}

// ListChannelsWithServer returns every channel with its server's name
func (db *DB) ListChannelsWithServer() ([]protocol.Channel, error) {
	rows, err := db.conn.Query(`
		SELECT ` + channelColumns + `, COALESCE(s.name, '') FROM channels c
		LEFT JOIN servers s ON s.id = c.server_id
		ORDER BY c.created_at DESC, c.rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []protocol.Channel{}
	for rows.Next() {
		var serverName string
		c, err := scanChannel(rows, &serverName)
		if err != nil {
			return nil, err
		}
		c.ServerName = serverName
		channels = append(channels, *c)
	}
	return channels, rows.Err()
}
