package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Extraction is one structured object produced by an extractor (gateway or
// fallback) before it is validated and denormalized into a MarketSignal.
type Extraction struct {
	Intent   string   `json:"intent"`
	ItemName string   `json:"item_name"`
	Price    *float64 `json:"price"`
	Specs    string   `json:"specs"`
}

// MarketSignal is a structured trade signal derived from exactly one
// RawMessage. One message may yield zero, one, or many signals.
type MarketSignal struct {
	RawMsgID   string
	Intent     string
	Item       string
	Price      *float64
	Specs      string
	Confidence float64

	// Denormalized from the source message for reporting convenience.
	Group      string // empty for direct messages
	Sender     string
	Timestamp  time.Time
	RawContent string
}

// StorageID is the idempotency key for persisted signals: two extraction
// attempts over the same message that produce the same
// (raw_msg_id, intent, item, price, specs) tuple collapse to one stored row.
func (s MarketSignal) StorageID() string {
	payload := s.RawMsgID + "|" + s.Intent + "|" + s.Item + "|" + formatPrice(s.Price) + "|" + s.Specs
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func formatPrice(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
