package store

// InsertMessage appends a message row. Messages are never updated or
// deleted.
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, sender, body, timestamp, from_me)
		VALUES (?, ?, ?, ?, ?)`,
		m.ChatID, m.Sender, m.Body, m.Timestamp, m.FromMe)
	return err
}

// RecentMessages returns the last n messages of a chat in chronological
// order, the shape both the reply engine and the analyzer consume.
func (db *DB) RecentMessages(chatID string, n int) ([]Message, error) {
	if n <= 0 {
		n = 8
	}
	rows, err := db.Query(`
		SELECT id, chat_id, COALESCE(sender,''), COALESCE(body,''), timestamp, from_me
		FROM messages WHERE chat_id = ?
		ORDER BY timestamp DESC LIMIT ?`, chatID, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &m.Timestamp, &m.FromMe); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns the full history of a chat oldest-first.
func (db *DB) ListMessages(chatID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, chat_id, COALESCE(sender,''), COALESCE(body,''), timestamp, from_me
		FROM messages WHERE chat_id = ?
		ORDER BY timestamp ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Sender, &m.Body, &m.Timestamp, &m.FromMe); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
