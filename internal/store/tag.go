package store

import "database/sql"

// EnsureTag creates a tag if it does not exist and returns its id either
// way.
func (db *DB) EnsureTag(name, color string) (int64, error) {
	if color == "" {
		color = "#808080"
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO chat_tags (name, color) VALUES (?, ?)`, name, color); err != nil {
		return 0, err
	}
	var id int64
	if err := db.QueryRow(`SELECT id FROM chat_tags WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureTagAssigned idempotently assigns a tag to a conversation. Assigning
// a tag that is already present succeeds without touching the row.
func (db *DB) EnsureTagAssigned(chatID string, tagID int64) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO conversation_tags (chat_id, tag_id) VALUES (?, ?)`, chatID, tagID)
	return err
}

// RemoveTagAssignment detaches a tag from a conversation; removing an
// absent assignment is a no-op.
func (db *DB) RemoveTagAssignment(chatID string, tagID int64) error {
	_, err := db.Exec(`DELETE FROM conversation_tags WHERE chat_id = ? AND tag_id = ?`, chatID, tagID)
	return err
}

// Tag returns a tag by name, or (nil, nil) when absent.
func (db *DB) Tag(name string) (*Tag, error) {
	var t Tag
	err := db.QueryRow(`SELECT id, name, COALESCE(color,'') FROM chat_tags WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTags returns all tags.
func (db *DB) ListTags() ([]Tag, error) {
	rows, err := db.Query(`SELECT id, name, COALESCE(color,'') FROM chat_tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ConversationTags returns the tags attached to a chat.
func (db *DB) ConversationTags(chatID string) ([]Tag, error) {
	rows, err := db.Query(`
		SELECT t.id, t.name, COALESCE(t.color,'')
		FROM chat_tags t
		JOIN conversation_tags ct ON t.id = ct.tag_id
		WHERE ct.chat_id = ?
		ORDER BY t.name`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
