package store

import (
	"database/sql"
	"fmt"
)

// UpsertRequest inserts a relationship request, replacing any earlier request
// from the same user for the same group. A repeated request supersedes the
// old one entirely, including its status and read marker.
func (db *DB) UpsertRequest(r *Request) error {
	_, err := db.Exec(`
		INSERT INTO requests (
			id, timestamp, request_type, sub_type, user_id, user_name,
			comment, flag, group_id, group_name, status, is_read
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, group_id) DO UPDATE SET
			id = excluded.id,
			timestamp = excluded.timestamp,
			request_type = excluded.request_type,
			sub_type = excluded.sub_type,
			user_name = excluded.user_name,
			comment = excluded.comment,
			flag = excluded.flag,
			group_name = excluded.group_name,
			status = excluded.status,
			is_read = excluded.is_read`,
		r.ID, r.Timestamp, r.RequestType, nullStr(r.SubType), r.UserID, nullStr(r.UserName),
		nullStr(r.Comment), r.Flag, r.GroupID, nullStr(r.GroupName), r.Status, r.IsRead)
	if err != nil {
		return fmt.Errorf("upsert request: %w", err)
	}
	return nil
}

// UpdateRequestStatus records the resolution of the request carrying flag.
// Returns false when no request matches.
func (db *DB) UpdateRequestStatus(flag, status string) (bool, error) {
	res, err := db.Exec(`UPDATE requests SET status = ? WHERE flag = ?`, status, flag)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRequestRead flags the request as seen by the user.
func (db *DB) MarkRequestRead(flag string) error {
	_, err := db.Exec(`UPDATE requests SET is_read = 1 WHERE flag = ?`, flag)
	return err
}

// DeleteRequest removes the request carrying flag.
func (db *DB) DeleteRequest(flag string) error {
	_, err := db.Exec(`DELETE FROM requests WHERE flag = ?`, flag)
	return err
}

// ListRequests returns requests newest first, optionally narrowed to one
// status.
func (db *DB) ListRequests(status string, limit, offset int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, request_type, sub_type, user_id, user_name,
		       comment, flag, group_id, group_name, status, is_read
		FROM requests`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reqs []Request
	for rows.Next() {
		var r Request
		var subType, userName, comment, groupName sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.RequestType, &subType, &r.UserID,
			&userName, &comment, &r.Flag, &r.GroupID, &groupName, &r.Status, &r.IsRead); err != nil {
			return nil, err
		}
		r.SubType = subType.String
		r.UserName = userName.String
		r.Comment = comment.String
		r.GroupName = groupName.String
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// ClearResolvedRequests deletes every request that is no longer pending.
// Returns the number of rows removed.
func (db *DB) ClearResolvedRequests() (int, error) {
	res, err := db.Exec(`DELETE FROM requests WHERE status != ?`, StatusPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UnreadPendingCount counts pending requests the user has not seen yet.
func (db *DB) UnreadPendingCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM requests WHERE status = ? AND is_read = 0`,
		StatusPending).Scan(&n)
	return n, err
}
