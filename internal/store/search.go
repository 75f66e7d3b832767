package store

// SearchMessages runs a full-text query over message content and returns the
// matching primary rows, newest first. The FTS table is joined back through
// the shadow rowid map so hits always reflect the current row content.
func (db *DB) SearchMessages(query string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`
		SELECT m.local_message_id, m.timestamp, m.post_type, m.message_type, m.user_id,
		       m.group_id, m.message_id, m.content, m.raw_message, m.data, m.recalled
		FROM messages_fts f
		JOIN messages_rowid_map rm ON rm.rowid = f.rowid
		JOIN messages m ON m.local_message_id = rm.local_message_id
		WHERE messages_fts MATCH ?
		ORDER BY m.timestamp DESC
		LIMIT ? OFFSET ?`, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}
