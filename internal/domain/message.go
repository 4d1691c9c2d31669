package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawMessage is a core entity describing one observed chat line.
// Instances are immutable once created by the message source.
type RawMessage struct {
	ID        string
	Content   string
	Sender    string
	Room      string // empty for direct messages
	Timestamp time.Time
}

// MessageID derives the content-addressed identifier for a chat line.
// The same (timestamp, sender, content) triple always hashes to the same id,
// which is what lets downstream storage absorb replays after a restart.
func MessageID(timestamp time.Time, sender, content string) string {
	h := sha256.New()
	h.Write([]byte(timestamp.Format(time.RFC3339)))
	h.Write([]byte(sender))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// NewRawMessage builds a message with its derived id.
func NewRawMessage(timestamp time.Time, sender, content, room string) RawMessage {
	return RawMessage{
		ID:        MessageID(timestamp, sender, content),
		Content:   content,
		Sender:    sender,
		Room:      room,
		Timestamp: timestamp,
	}
}
