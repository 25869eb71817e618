// Package ledger provides an append-only history of the commands treelight received.
// It is an audit trail only; light state is never restored from it.
package ledger

import (
	"database/sql"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCommandApplied  EventType = "command_applied"
	EventCommandRejected EventType = "command_rejected" // payload failed to decode
	EventCommandIgnored  EventType = "command_ignored"  // unrecognized or rate limited
	EventRenderFailed    EventType = "render_failed"
	EventStatusPublished EventType = "status_published"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64     `json:"id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Payload   string    `json:"payload,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger. ID and Timestamp are assigned here.
func (l *Ledger) Append(entry Entry) error {
	_, err := l.db.Exec(`
		INSERT INTO command_ledger (event_type, timestamp, message_id, source, topic, payload, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(entry.EventType), l.now().UTC().UnixMilli(),
		entry.MessageID, entry.Source, entry.Topic, entry.Payload, entry.Detail)

	return err
}

// Recent returns the newest entries of any type
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, message_id, source, topic, payload, detail
		FROM command_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByType returns the newest entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, message_id, source, topic, payload, detail
		FROM command_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM command_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var messageID, source, topic, payload, detail sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.EventType, &timestamp, &messageID, &source, &topic, &payload, &detail,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.UnixMilli(timestamp).UTC()
		entry.MessageID = messageID.String
		entry.Source = source.String
		entry.Topic = topic.String
		entry.Payload = payload.String
		entry.Detail = detail.String

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
