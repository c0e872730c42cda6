package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aeolun/chorus/pkg/protocol"
)

// ===== Audit Logging =====

// logAction appends one moderation_logs record inside the caller's transaction
func logAction(tx *sql.Tx, actionType, performedBy string, targetUserID *string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO moderation_logs (id, action_type, performed_by, target_user_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, newID(), actionType, performedBy, nullString(targetUserID), string(raw), nowMillis())
	return err
}

// ListModerationLogs returns the most recent audit records, newest first
func (db *DB) ListModerationLogs(limit int) ([]protocol.ModerationLog, error) {
	rows, err := db.conn.Query(`
		SELECT id, action_type, performed_by, target_user_id, details, created_at
		FROM moderation_logs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []protocol.ModerationLog{}
	for rows.Next() {
		var (
			l       protocol.ModerationLog
			target  sql.NullString
			details string
		)
		if err := rows.Scan(&l.ID, &l.ActionType, &l.PerformedBy, &target, &details, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.TargetUserID = stringPtr(target)
		l.Details = json.RawMessage(details)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ===== Ban Methods =====

// CreateUserBan bans a user globally or from one server and logs the admin action
func (db *DB) CreateUserBan(userID string, serverID *string, reason string, isGlobal bool, adminName string) (*protocol.Ban, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ban := &protocol.Ban{
		ID:        newID(),
		UserID:    userID,
		ServerID:  serverID,
		Reason:    reason,
		IsGlobal:  isGlobal,
		BannedBy:  adminName,
		CreatedAt: nowMillis(),
	}
	if _, err := tx.Exec(`
		INSERT INTO bans (id, user_id, server_id, reason, is_global, banned_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ban.ID, ban.UserID, nullString(serverID), ban.Reason, ban.IsGlobal, ban.BannedBy, ban.CreatedAt); err != nil {
		return nil, err
	}

	details := map[string]any{"reason": reason, "is_global": isGlobal}
	if serverID != nil {
		details["server_id"] = *serverID
	}
	if err := logAction(tx, protocol.ActionUserBanned, adminName, &userID, details); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ban, nil
}

// CreateIPBan bans an address and logs the admin action
func (db *DB) CreateIPBan(ipAddress, reason, adminName string) (*protocol.IPBan, error) {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ban := &protocol.IPBan{
		ID:        newID(),
		IPAddress: ipAddress,
		Reason:    reason,
		BannedBy:  adminName,
		CreatedAt: nowMillis(),
	}
	if _, err := tx.Exec(`
		INSERT INTO ip_bans (id, ip_address, reason, banned_by, created_at) VALUES (?, ?, ?, ?, ?)
	`, ban.ID, ban.IPAddress, ban.Reason, ban.BannedBy, ban.CreatedAt); err != nil {
		return nil, err
	}

	if err := logAction(tx, protocol.ActionIPBanned, adminName, nil, map[string]any{
		"ip_address": ipAddress,
		"reason":     reason,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ban, nil
}

// GetActiveBan returns the ban preventing userID from posting in serverID:
// a global ban, or a ban scoped to that server. Returns nil if none applies.
// An empty serverID only considers global bans.
func (db *DB) GetActiveBan(userID, serverID string) (*protocol.Ban, error) {
	var (
		b        protocol.Ban
		serverNS sql.NullString
	)
	err := db.conn.QueryRow(`
		SELECT id, user_id, server_id, reason, is_global, banned_by, created_at FROM bans
		WHERE user_id = ? AND (is_global = 1 OR (? != '' AND server_id = ?))
		ORDER BY created_at DESC LIMIT 1
	`, userID, serverID, serverID).Scan(&b.ID, &b.UserID, &serverNS, &b.Reason, &b.IsGlobal, &b.BannedBy, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.ServerID = stringPtr(serverNS)
	return &b, nil
}

// IsIPBanned checks if an address has been banned
func (db *DB) IsIPBanned(ipAddress string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`SELECT EXISTS(SELECT 1 FROM ip_bans WHERE ip_address = ?)`, ipAddress).Scan(&exists)
	return exists, err
}

// ===== Content Moderation =====

// AdminSoftDeleteMessage flags a channel message or DM as deleted and logs the
// admin action. The row is kept.
func (db *DB) AdminSoftDeleteMessage(messageID string, isDM bool, adminName string) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	table, authorColumn := "messages", "user_id"
	if isDM {
		table, authorColumn = "direct_messages", "sender_id"
	}

	var author string
	err = tx.QueryRow(`SELECT `+authorColumn+` FROM `+table+` WHERE id = ?`, messageID).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE `+table+` SET is_deleted = 1, updated_at = ? WHERE id = ?`, nowMillis(), messageID); err != nil {
		return err
	}

	if err := logAction(tx, protocol.ActionMessageDeleted, adminName, &author, map[string]any{
		"message_id": messageID,
		"is_dm":      isDM,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteChannel removes a channel (its messages cascade) and logs the admin action
func (db *DB) DeleteChannel(channelID, adminName string) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name, serverID string
	err = tx.QueryRow(`SELECT name, server_id FROM channels WHERE id = ?`, channelID).Scan(&name, &serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM channels WHERE id = ?`, channelID); err != nil {
		return err
	}

	if err := logAction(tx, protocol.ActionChannelDeleted, adminName, nil, map[string]any{
		"channel_id": channelID,
		"name":       name,
		"server_id":  serverID,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// ===== Flagged Messages =====

// FlagMessage records a report against a channel message or DM
func (db *DB) FlagMessage(messageID, dmID *string, reason, severity string) (*protocol.FlaggedMessage, error) {
	if (messageID == nil) == (dmID == nil) {
		return nil, ErrInvalidFlag
	}
	if severity == "" {
		severity = "low"
	}
	f := &protocol.FlaggedMessage{
		ID:        newID(),
		MessageID: messageID,
		DMID:      dmID,
		Reason:    reason,
		Severity:  severity,
		CreatedAt: nowMillis(),
	}
	if _, err := db.writeConn.Exec(`
		INSERT INTO flagged_messages (id, message_id, dm_id, reason, severity, reviewed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, f.ID, nullString(messageID), nullString(dmID), f.Reason, f.Severity, f.CreatedAt); err != nil {
		return nil, err
	}

	db.publish(protocol.TableFlaggedMessages, f, map[string]string{})
	return f, nil
}

// ListUnreviewedFlags returns open reports with the flagged message or DM attached
func (db *DB) ListUnreviewedFlags() ([]protocol.FlaggedMessage, error) {
	rows, err := db.conn.Query(`
		SELECT f.id, f.message_id, f.dm_id, f.reason, f.severity, f.reviewed, f.reviewed_by, f.action_taken, f.created_at,
			m.id, m.channel_id, m.user_id, m.content, m.is_deleted, m.is_edited, m.created_at, m.updated_at,
			d.id, d.sender_id, d.recipient_id, d.content, d.is_deleted, d.is_edited, d.created_at, d.updated_at
		FROM flagged_messages f
		LEFT JOIN messages m ON m.id = f.message_id
		LEFT JOIN direct_messages d ON d.id = f.dm_id
		WHERE f.reviewed = 0
		ORDER BY f.created_at DESC, f.rowid DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := []protocol.FlaggedMessage{}
	for rows.Next() {
		var (
			f                                  protocol.FlaggedMessage
			messageID, dmID, reviewedBy, taken sql.NullString

			mID, mChannel, mUser, mContent sql.NullString
			mDeleted, mEdited              sql.NullBool
			mCreated, mUpdated             sql.NullInt64

			dID, dSender, dRecipient, dContent sql.NullString
			dDeleted, dEdited                  sql.NullBool
			dCreated, dUpdated                 sql.NullInt64
		)
		if err := rows.Scan(
			&f.ID, &messageID, &dmID, &f.Reason, &f.Severity, &f.Reviewed, &reviewedBy, &taken, &f.CreatedAt,
			&mID, &mChannel, &mUser, &mContent, &mDeleted, &mEdited, &mCreated, &mUpdated,
			&dID, &dSender, &dRecipient, &dContent, &dDeleted, &dEdited, &dCreated, &dUpdated,
		); err != nil {
			return nil, err
		}
		f.MessageID = stringPtr(messageID)
		f.DMID = stringPtr(dmID)
		f.ReviewedBy = stringPtr(reviewedBy)
		f.ActionTaken = stringPtr(taken)
		if mID.Valid {
			f.Message = &protocol.Message{
				ID: mID.String, ChannelID: mChannel.String, UserID: mUser.String, Content: mContent.String,
				IsDeleted: mDeleted.Bool, IsEdited: mEdited.Bool, CreatedAt: mCreated.Int64, UpdatedAt: mUpdated.Int64,
			}
		}
		if dID.Valid {
			f.DirectMessage = &protocol.DirectMessage{
				ID: dID.String, SenderID: dSender.String, RecipientID: dRecipient.String, Content: dContent.String,
				IsDeleted: dDeleted.Bool, IsEdited: dEdited.Bool, CreatedAt: dCreated.Int64, UpdatedAt: dUpdated.Int64,
			}
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// ReviewFlag closes a report with the action taken and logs the admin action
func (db *DB) ReviewFlag(flaggedID, action, adminName string) error {
	tx, err := db.writeConn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE flagged_messages SET reviewed = 1, reviewed_by = ?, action_taken = ? WHERE id = ?
	`, adminName, action, flaggedID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if err := logAction(tx, protocol.ActionFlagReviewed, adminName, nil, map[string]any{
		"flagged_id": flaggedID,
		"action":     action,
	}); err != nil {
		return err
	}

	return tx.Commit()
}
