package store

import (
	"fmt"
	"time"
)

// InsertMessageIfAbsent inserts a message unless one with the same id is
// already cached. Returns true when a row was inserted. Live feed pushes and
// concurrent fetches may both deliver the same row; first write wins.
func (db *DB) InsertMessageIfAbsent(m *Message) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO messages (id, sender_id, receiver_id, body, is_read, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		m.ID, m.SenderID, m.ReceiverID, m.Body, m.IsRead, m.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReplaceAllMessages atomically replaces the whole message cache with the
// given set, in one transaction.
func (db *DB) ReplaceAllMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, sender_id, receiver_id, body, is_read, ts, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				body = excluded.body,
				is_read = excluded.is_read,
				ts = excluded.ts`,
			m.ID, m.SenderID, m.ReceiverID, m.Body, m.IsRead, m.Timestamp, now); err != nil {
			return fmt.Errorf("insert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// SetMessageRead overwrites the is_read flag of a single cached message.
// Returns true when the message was found locally; false is not an error,
// the row may simply not have been fetched yet.
func (db *DB) SetMessageRead(id string, isRead bool) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET is_read = ? WHERE id = ?`, isRead, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkConversationRead flips is_read on every unread message from senderID
// to receiverID. Mirrors the remote read-state mutation locally.
func (db *DB) MarkConversationRead(senderID, receiverID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		senderID, receiverID)
	return err
}

// MessagesWith returns the conversation between userID and otherID,
// ascending by timestamp.
func (db *DB) MessagesWith(userID, otherID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, sender_id, receiver_id, body, is_read, ts
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY ts ASC, id ASC`,
		userID, otherID, otherID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.IsRead, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UnreadFrom returns the count of unread messages from otherID to userID.
func (db *DB) UnreadFrom(userID, otherID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
		otherID, userID).Scan(&n)
	return n, err
}

// TotalUnread returns the count of all unread messages addressed to userID.
func (db *DB) TotalUnread(userID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND is_read = 0`,
		userID).Scan(&n)
	return n, err
}

// CountMessages returns the number of cached messages.
func (db *DB) CountMessages() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// Contacts derives the contact list for userID: one row per counterparty
// with the latest message and unread count, sorted by latest message
// timestamp descending. Self-conversations are excluded.
func (db *DB) Contacts(userID string) ([]Contact, error) {
	rows, err := db.Query(`
		WITH conv AS (
			SELECT CASE WHEN sender_id = ?1 THEN receiver_id ELSE sender_id END AS other,
			       id, sender_id, receiver_id, body, is_read, ts,
			       ROW_NUMBER() OVER (
			           PARTITION BY CASE WHEN sender_id = ?1 THEN receiver_id ELSE sender_id END
			           ORDER BY ts DESC, id DESC) AS rn
			FROM messages
			WHERE (sender_id = ?1 OR receiver_id = ?1) AND sender_id <> receiver_id
		)
		SELECT c.other, c.id, c.sender_id, c.receiver_id, c.body, c.is_read, c.ts,
		       (SELECT COUNT(*) FROM messages u
		        WHERE u.sender_id = c.other AND u.receiver_id = ?1 AND u.is_read = 0)
		FROM conv c
		WHERE c.rn = 1
		ORDER BY c.ts DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		m := &c.LastMessage
		if err := rows.Scan(&c.UserID, &m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.IsRead, &m.Timestamp, &c.UnreadCount); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
