package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveMessage upserts a message row by local id, then keeps the shadow rowid
// map and the full-text index in step. The three writes are deliberately not
// one transaction: a crash between them leaves a transiently stale index that
// the next save of the same local id repairs.
func (db *DB) SaveMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO messages (
			local_message_id, timestamp, post_type, message_type, user_id, group_id,
			message_id, content, raw_message, data, recalled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LocalID, m.Timestamp, m.PostType, nullStr(m.MessageType), nullInt(m.UserID),
		nullInt(m.GroupID), nullInt(m.RemoteID), m.Content, m.RawMessage, m.Data, m.Recalled)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	rowID, err := db.ensureShadowID(m.LocalID)
	if err != nil {
		return fmt.Errorf("shadow id: %w", err)
	}

	// Replace wholesale; FTS rows are never updated in place.
	if _, err := db.Exec(`DELETE FROM messages_fts WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("delete fts row: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO messages_fts (rowid, content, raw_message, user_id, group_id, post_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rowID, m.Content, m.RawMessage, m.UserID, m.GroupID, m.PostType)
	if err != nil {
		return fmt.Errorf("insert fts row: %w", err)
	}
	return nil
}

// ensureShadowID returns the stable surrogate rowid for a local message id,
// allocating one only if absent.
func (db *DB) ensureShadowID(localID string) (int64, error) {
	var rowID int64
	err := db.QueryRow(`SELECT rowid FROM messages_rowid_map WHERE local_message_id = ?`, localID).
		Scan(&rowID)
	if err == nil {
		return rowID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := db.Exec(`INSERT INTO messages_rowid_map (local_message_id) VALUES (?)`, localID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateRemoteID patches the remote message id into the structured column and
// the embedded raw payload of the row keyed by localID. An unknown localID is
// an error: local ids are caller-assigned, so a miss means the caller lost a
// row it created (unlike MarkRecalled, where unmatched remote ids are
// expected).
func (db *DB) UpdateRemoteID(localID string, remoteID int64) error {
	return db.patchMessage(localID, map[string]any{"message_id": remoteID}, func() error {
		_, err := db.Exec(`UPDATE messages SET message_id = ? WHERE local_message_id = ?`,
			remoteID, localID)
		return err
	})
}

// UpdateContent patches the text columns and the embedded raw payload's text
// fields. Used to replace inline binary content with a stable reference after
// a send completes. An unknown localID is an error, as in UpdateRemoteID.
func (db *DB) UpdateContent(localID, content, rawMessage string) error {
	return db.patchMessage(localID, map[string]any{
		"message":     content,
		"raw_message": rawMessage,
	}, func() error {
		_, err := db.Exec(`UPDATE messages SET content = ?, raw_message = ? WHERE local_message_id = ?`,
			content, rawMessage, localID)
		return err
	})
}

// patchMessage applies a structured-column update and mirrors the same fields
// into the embedded data JSON.
func (db *DB) patchMessage(localID string, fields map[string]any, updateCols func() error) error {
	if err := updateCols(); err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	var raw string
	err := db.QueryRow(`SELECT data FROM messages WHERE local_message_id = ?`, localID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("message %q not found", localID)
	}
	if err != nil {
		return fmt.Errorf("read message data: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Unparseable payloads keep their columns updated; nothing to patch.
		return nil
	}
	for k, v := range fields {
		payload[k] = v
	}
	updated, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message data: %w", err)
	}
	if _, err := db.Exec(`UPDATE messages SET data = ? WHERE local_message_id = ?`, string(updated), localID); err != nil {
		return fmt.Errorf("update message data: %w", err)
	}
	return nil
}

// MarkRecalled sets the recalled flag on the row matching the remote message
// id. Returns false when no row matches; recall notices can arrive for
// messages that were never mirrored.
func (db *DB) MarkRecalled(remoteID int64) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET recalled = 1 WHERE message_id = ?`, remoteID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CheckRecalled reports whether the message with the given remote id has been
// recalled. Unknown remote ids report false.
func (db *DB) CheckRecalled(remoteID int64) (bool, error) {
	var recalled bool
	err := db.QueryRow(`SELECT recalled FROM messages WHERE message_id = ?`, remoteID).Scan(&recalled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return recalled, nil
}

// ListMessages returns rows ordered by timestamp descending.
func (db *DB) ListMessages(f ListFilter) ([]Message, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT local_message_id, timestamp, post_type, message_type, user_id, group_id,
		       message_id, content, raw_message, data, recalled
		FROM messages WHERE 1=1`
	var args []any
	if f.PostType != "" {
		query += " AND post_type = ?"
		args = append(args, f.PostType)
	}
	if f.UserID != 0 {
		query += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.GroupID != 0 {
		query += " AND group_id = ?"
		args = append(args, f.GroupID)
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// DeleteMessage removes the primary row, its shadow map entry, and its index
// entry together.
func (db *DB) DeleteMessage(localID string) error {
	var rowID int64
	err := db.QueryRow(`SELECT rowid FROM messages_rowid_map WHERE local_message_id = ?`, localID).
		Scan(&rowID)
	switch {
	case err == sql.ErrNoRows:
		// No shadow entry; nothing indexed.
	case err != nil:
		return err
	default:
		if _, err := db.Exec(`DELETE FROM messages_fts WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("delete fts row: %w", err)
		}
		if _, err := db.Exec(`DELETE FROM messages_rowid_map WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("delete shadow row: %w", err)
		}
	}
	if _, err := db.Exec(`DELETE FROM messages WHERE local_message_id = ?`, localID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// TrimMessages keeps the keep most recent rows by timestamp and purges the
// rest, including their shadow and index entries. Returns the purged count.
func (db *DB) TrimMessages(keep int) (int, error) {
	rows, err := db.Query(`
		SELECT local_message_id FROM messages
		ORDER BY timestamp DESC, rowid DESC
		LIMIT -1 OFFSET ?`, keep)
	if err != nil {
		return 0, err
	}
	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range victims {
		if err := db.DeleteMessage(id); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

// MessageStats returns the total row count and counts per top-level category.
func (db *DB) MessageStats() (*Stats, error) {
	stats := &Stats{ByCategory: make(map[string]int64)}

	rows, err := db.Query(`SELECT post_type, COUNT(*) FROM messages GROUP BY post_type`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var postType string
		var count int64
		if err := rows.Scan(&postType, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[postType] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var msgType, content, rawMsg sql.NullString
		var userID, groupID, remoteID sql.NullInt64
		if err := rows.Scan(&m.LocalID, &m.Timestamp, &m.PostType, &msgType, &userID,
			&groupID, &remoteID, &content, &rawMsg, &m.Data, &m.Recalled); err != nil {
			return nil, err
		}
		m.MessageType = msgType.String
		m.UserID = userID.Int64
		m.GroupID = groupID.Int64
		m.RemoteID = remoteID.Int64
		m.Content = content.String
		m.RawMessage = rawMsg.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
