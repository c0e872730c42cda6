package database

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/aeolun/chorus/pkg/protocol"
)

const messageColumns = `id, channel_id, user_id, content, is_deleted, is_edited, created_at, updated_at`

const directMessageColumns = `id, sender_id, recipient_id, content, is_deleted, is_edited, created_at, updated_at`

// InsertMessage stores a channel message and publishes it to the change listener
func (db *DB) InsertMessage(channelID, userID, content string) (*protocol.Message, error) {
	now := nowMillis()
	msg := &protocol.Message{
		ID:        newID(),
		ChannelID: channelID,
		UserID:    userID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := db.writeConn.Exec(`
		INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, 0, 0, ?, ?)
	`, msg.ID, msg.ChannelID, msg.UserID, msg.Content, now, now); err != nil {
		return nil, err
	}

	db.publish(protocol.TableMessages, msg, map[string]string{
		"channel_id": msg.ChannelID,
		"user_id":    msg.UserID,
	})
	return msg, nil
}

// InsertDirectMessage stores a direct message and publishes it to the change listener
func (db *DB) InsertDirectMessage(senderID, recipientID, content string) (*protocol.DirectMessage, error) {
	now := nowMillis()
	dm := &protocol.DirectMessage{
		ID:          newID(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := db.writeConn.Exec(`
		INSERT INTO direct_messages (`+directMessageColumns+`) VALUES (?, ?, ?, ?, 0, 0, ?, ?)
	`, dm.ID, dm.SenderID, dm.RecipientID, dm.Content, now, now); err != nil {
		return nil, err
	}

	db.publish(protocol.TableDirectMessages, dm, map[string]string{
		"sender_id":    dm.SenderID,
		"recipient_id": dm.RecipientID,
	})
	return dm, nil
}

// publish hands a committed row to the change listener
func (db *DB) publish(table string, row any, fields map[string]string) {
	record, err := json.Marshal(row)
	if err != nil {
		return
	}
	db.notify(protocol.Change{Table: table, Record: record, Fields: fields})
}

func scanMessage(row interface{ Scan(...any) error }) (*protocol.Message, error) {
	var m protocol.Message
	if err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.IsDeleted, &m.IsEdited, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanDirectMessage(row interface{ Scan(...any) error }) (*protocol.DirectMessage, error) {
	var m protocol.DirectMessage
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.IsDeleted, &m.IsEdited, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage returns a single channel message by ID
func (db *DB) GetMessage(id string) (*protocol.Message, error) {
	m, err := scanMessage(db.conn.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetDirectMessage returns a single direct message by ID
func (db *DB) GetDirectMessage(id string) (*protocol.DirectMessage, error) {
	m, err := scanDirectMessage(db.conn.QueryRow(`SELECT `+directMessageColumns+` FROM direct_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListChannelMessages returns the full history of a channel, oldest first
func (db *DB) ListChannelMessages(channelID string) ([]protocol.Message, error) {
	rows, err := db.conn.Query(`
		SELECT `+messageColumns+` FROM messages WHERE channel_id = ? ORDER BY created_at ASC, rowid ASC
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []protocol.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// ListDirectMessages returns the conversation between two users in either
// direction, oldest first
func (db *DB) ListDirectMessages(userA, userB string) ([]protocol.DirectMessage, error) {
	rows, err := db.conn.Query(`
		SELECT `+directMessageColumns+` FROM direct_messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY created_at ASC, rowid ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []protocol.DirectMessage{}
	for rows.Next() {
		m, err := scanDirectMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// ListDMPeers returns everyone userID has exchanged a direct message with,
// in either direction, ordered by username
func (db *DB) ListDMPeers(userID string) ([]protocol.Profile, error) {
	rows, err := db.conn.Query(`
		SELECT `+profileColumns+` FROM profiles WHERE id IN (
			SELECT recipient_id FROM direct_messages WHERE sender_id = ?
			UNION
			SELECT sender_id FROM direct_messages WHERE recipient_id = ?
		) AND id != ?
		ORDER BY username ASC
	`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	peers := []protocol.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, *p)
	}
	return peers, rows.Err()
}
