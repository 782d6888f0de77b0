package store

// CreateNotification inserts an attention notification and returns its id.
func (db *DB) CreateNotification(n *Notification) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO notifications (chat_id, contact_name, type, summary, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		n.ChatID, n.ContactName, n.Type, n.Summary, n.Timestamp)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UnreadNotifications returns unread notifications, newest first.
func (db *DB) UnreadNotifications(limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_id, COALESCE(contact_name,''), type, summary, timestamp, is_read
		FROM notifications WHERE is_read = 0
		ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ChatID, &n.ContactName, &n.Type, &n.Summary, &n.Timestamp, &n.IsRead); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags a notification as handled.
func (db *DB) MarkNotificationRead(id int64) error {
	_, err := db.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	return err
}
