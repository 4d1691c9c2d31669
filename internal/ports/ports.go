package ports

import (
	"context"
	"time"

	"SignalScanner/internal/domain"
)

// MessageSource pulls batches of raw messages from an upstream collector.
// Implementations may return duplicates, out-of-order items, or transient
// empty batches; the pipeline is responsible for absorbing all three.
type MessageSource interface {
	Name() string
	Poll(ctx context.Context) ([]domain.RawMessage, error)
}

// Extractor turns message text into zero or more structured extractions.
type Extractor interface {
	Analyze(ctx context.Context, text string) ([]domain.Extraction, error)
}

// SignalFilter narrows ListSignals results. Items are case-insensitive
// substring matches on the item column; empty means no filtering.
type SignalFilter struct {
	Items []string
}

// SignalRow is the reporting projection of a persisted signal.
type SignalRow struct {
	Timestamp time.Time
	Group     string
	Sender    string
	Item      string
	Price     *float64
}

// SignalStore persists audit rows and signals with insert-if-absent keys.
type SignalStore interface {
	// SaveMessage writes the audit row and all derived signals in one
	// transaction; replays of already-stored rows are silently absorbed.
	SaveMessage(ctx context.Context, msg domain.RawMessage, tradeRelated bool, signals []domain.MarketSignal) error

	// ListSignals returns persisted signals ordered by price then recency.
	ListSignals(ctx context.Context, filter SignalFilter) ([]SignalRow, error)

	// PruneRawMessages deletes audit rows older than the retention window.
	// Signal rows are never pruned.
	PruneRawMessages(ctx context.Context, retentionDays int) (int64, error)

	Close() error
}

// SignalRecorder mirrors persisted signals into flat append-only logs
// alongside the database, for operators who live in spreadsheets.
type SignalRecorder interface {
	Record(signals []domain.MarketSignal) error
	Close() error
}

// Notifier streams signal digests to an operator channel.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when recurring side jobs (report generation) execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
