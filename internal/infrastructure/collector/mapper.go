package collector

import (
	"log/slog"
	"strings"
	"time"

	"SignalScanner/internal/domain"
)

// Payload is the raw shape delivered by an upstream chat collector before
// validation. Collectors hand over whatever they scraped; nothing here is
// trusted yet.
type Payload struct {
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Time    string `json:"time"` // RFC 3339; empty means unknown
}

// Mapper converts collector payloads into validated RawMessages.
// Items missing required fields are skipped and logged, never defaulted —
// a half-empty message downstream is worse than a dropped one.
type Mapper struct {
	monitorAll bool
	groups     map[string]struct{}
	logger     *slog.Logger

	// now supplies the observation-time fallback for payloads without a
	// usable timestamp.
	now func() time.Time
}

// NewMapper builds a mapper with a group allow-list. A list containing
// "all" (or an empty list) disables group filtering.
func NewMapper(monitorGroups []string, logger *slog.Logger) *Mapper {
	m := &Mapper{
		groups: make(map[string]struct{}, len(monitorGroups)),
		logger: logger,
		now:    time.Now,
	}
	if len(monitorGroups) == 0 {
		m.monitorAll = true
	}
	for _, g := range monitorGroups {
		if strings.EqualFold(g, "all") {
			m.monitorAll = true
		}
		m.groups[g] = struct{}{}
	}
	return m
}

// MapBatch validates and converts one collector batch. Invalid items are
// dropped individually; the rest of the batch survives.
func (m *Mapper) MapBatch(payloads []Payload) []domain.RawMessage {
	messages := make([]domain.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		msg, ok := m.mapOne(p)
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func (m *Mapper) mapOne(p Payload) (domain.RawMessage, bool) {
	sender := strings.TrimSpace(p.Sender)
	content := strings.TrimSpace(p.Content)
	if sender == "" || content == "" {
		m.warn("skipping payload with missing required fields", "sender", p.Sender, "room", p.Room)
		return domain.RawMessage{}, false
	}

	timestamp := m.now()
	if p.Time != "" {
		parsed, err := time.Parse(time.RFC3339, p.Time)
		if err != nil {
			m.warn("unparseable payload timestamp, using observation time", "time", p.Time)
		} else {
			timestamp = parsed
		}
	}

	room := strings.TrimSpace(p.Room)
	// A "room" equal to the sender is how collectors report direct messages.
	if room == sender {
		room = ""
	}

	if room != "" && !m.monitorAll {
		if _, ok := m.groups[room]; !ok {
			return domain.RawMessage{}, false
		}
	}

	return domain.NewRawMessage(timestamp, sender, content, room), true
}

func (m *Mapper) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
