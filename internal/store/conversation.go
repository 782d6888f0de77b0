package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Conversation returns a conversation by chat id, or (nil, nil) when absent.
func (db *DB) Conversation(chatID string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT chat_id, COALESCE(contact_name,''), COALESCE(last_message_timestamp,0),
			bot_active, status, COALESCE(known_identity,''), COALESCE(custom_name,''),
			chat_type, is_pinned, unread_count, COALESCE(context_city,''), COALESCE(context_area,'')
		FROM conversations WHERE chat_id = ?`, chatID)
	var c Conversation
	err := row.Scan(&c.ChatID, &c.ContactName, &c.LastMessageTimestamp, &c.BotActive,
		&c.Status, &c.KnownIdentity, &c.CustomName, &c.ChatType, &c.IsPinned,
		&c.UnreadCount, &c.ContextCity, &c.ContextArea)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations with at least one message, pinned
// first, most recent next.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT chat_id, COALESCE(contact_name,''), COALESCE(last_message_timestamp,0),
			bot_active, status, COALESCE(known_identity,''), COALESCE(custom_name,''),
			chat_type, is_pinned, unread_count, COALESCE(context_city,''), COALESCE(context_area,'')
		FROM conversations
		WHERE last_message_timestamp IS NOT NULL
		ORDER BY is_pinned DESC, last_message_timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ChatID, &c.ContactName, &c.LastMessageTimestamp, &c.BotActive,
			&c.Status, &c.KnownIdentity, &c.CustomName, &c.ChatType, &c.IsPinned,
			&c.UnreadCount, &c.ContextCity, &c.ContextArea); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ArchiveMessage appends a message and upserts its conversation in one
// transaction. A conversation created by its first inbound message moves
// straight to the affiliation-confirm state; unread_count grows only on
// inbound messages.
func (db *DB) ArchiveMessage(m *Message, contactName string) (*Conversation, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.Body != "" {
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, sender, body, timestamp, from_me)
			VALUES (?, ?, ?, ?, ?)`,
			m.ChatID, m.Sender, m.Body, m.Timestamp, m.FromMe); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
	}

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM conversations WHERE chat_id = ?)`, m.ChatID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}

	if !exists {
		unread := 0
		if !m.FromMe {
			unread = 1
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (chat_id, contact_name, last_message_timestamp, status, unread_count)
			VALUES (?, ?, ?, ?, ?)`,
			m.ChatID, contactName, m.Timestamp, StatusNewVisitor, unread); err != nil {
			return nil, fmt.Errorf("insert conversation: %w", err)
		}
		if !m.FromMe {
			// First inbound contact: the bot should open with the
			// affiliation question on the next turn.
			if _, err := tx.Exec(`UPDATE conversations SET status = ? WHERE chat_id = ?`,
				StatusAwaitingAffiliate, m.ChatID); err != nil {
				return nil, fmt.Errorf("advance new conversation: %w", err)
			}
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE conversations SET
				contact_name = CASE WHEN ? != '' THEN ? ELSE contact_name END,
				last_message_timestamp = ?,
				unread_count = CASE WHEN ? THEN unread_count ELSE unread_count + 1 END
			WHERE chat_id = ?`,
			contactName, contactName, m.Timestamp, m.FromMe, m.ChatID); err != nil {
			return nil, fmt.Errorf("update conversation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return db.Conversation(m.ChatID)
}

// TouchConversation upserts the last-activity timestamp without touching
// state; used after direct sends.
func (db *DB) TouchConversation(chatID string, ts int64) error {
	_, err := db.Exec(`
		INSERT INTO conversations (chat_id, last_message_timestamp)
		VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET last_message_timestamp = excluded.last_message_timestamp`,
		chatID, ts)
	return err
}

// SetConversationStatus sets the state machine value for a chat.
func (db *DB) SetConversationStatus(chatID, status string) error {
	_, err := db.Exec(`UPDATE conversations SET status = ? WHERE chat_id = ?`, status, chatID)
	return err
}

// MarkIdentityValidated records a successful registration validation: the
// conversation becomes a logged-in affiliate of type candidate in a single
// statement, so a crash cannot leave the identity without the status.
func (db *DB) MarkIdentityValidated(chatID, identity string) error {
	_, err := db.Exec(`
		UPDATE conversations SET known_identity = ?, status = ?, chat_type = 'candidate'
		WHERE chat_id = ?`, identity, StatusAffiliateLoggedIn, chatID)
	return err
}

// SetBotActive toggles automated replies for a chat. Sending a manual
// message from the CRM sets this false.
func (db *DB) SetBotActive(chatID string, active bool) error {
	_, err := db.Exec(`UPDATE conversations SET bot_active = ? WHERE chat_id = ?`, active, chatID)
	return err
}

// SaveContext persists slot-filled city/area values for reuse across turns.
// Empty values leave the stored context untouched.
func (db *DB) SaveContext(chatID, city, area string) error {
	city = strings.TrimSpace(city)
	area = strings.TrimSpace(area)
	if city == "" && area == "" {
		return nil
	}
	_, err := db.Exec(`
		UPDATE conversations SET
			context_city = CASE WHEN ? != '' THEN ? ELSE context_city END,
			context_area = CASE WHEN ? != '' THEN ? ELSE context_area END
		WHERE chat_id = ?`, city, city, area, area, chatID)
	return err
}

// MarkConversationRead resets the unread counter.
func (db *DB) MarkConversationRead(chatID string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE chat_id = ?`, chatID)
	return err
}

// SetPinned toggles the pinned flag.
func (db *DB) SetPinned(chatID string, pinned bool) error {
	_, err := db.Exec(`UPDATE conversations SET is_pinned = ? WHERE chat_id = ?`, pinned, chatID)
	return err
}

// SetManualStatus applies an operator-driven status change together with a
// tag assignment; either both land or neither does.
func (db *DB) SetManualStatus(chatID, status string, tagID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE conversations SET status = ? WHERE chat_id = ?`, status, chatID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set manual status: conversation %s: %w", chatID, ErrNotFound)
	}
	if tagID != 0 {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO conversation_tags (chat_id, tag_id) VALUES (?, ?)`,
			chatID, tagID); err != nil {
			return fmt.Errorf("assign tag: %w", err)
		}
	}
	return tx.Commit()
}

// SyncAffiliates upserts CRM-verified affiliates as logged-in candidate
// conversations and tags them, all-or-nothing.
func (db *DB) SyncAffiliates(affiliates []Affiliate, tagID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range affiliates {
		chatID := a.Phone
		if _, err := tx.Exec(`
			INSERT INTO conversations (chat_id, contact_name, status, known_identity, chat_type)
			VALUES (?, ?, ?, ?, 'candidate')
			ON CONFLICT(chat_id) DO UPDATE SET
				status = excluded.status,
				known_identity = excluded.known_identity,
				chat_type = excluded.chat_type`,
			chatID, a.Name, StatusAffiliateLoggedIn, a.Identity); err != nil {
			return fmt.Errorf("sync affiliate %s: %w", a.Identity, err)
		}
		if tagID != 0 {
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO conversation_tags (chat_id, tag_id) VALUES (?, ?)`,
				chatID, tagID); err != nil {
				return fmt.Errorf("tag affiliate %s: %w", a.Identity, err)
			}
		}
	}
	return tx.Commit()
}
