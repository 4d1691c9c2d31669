package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// timeFormat matches SQLite's datetime() output so retention comparisons
// work as plain string comparisons.
const timeFormat = "2006-01-02 15:04:05"

// SQLiteRepository persists raw-message audit rows and trade signals.
// Both tables use insert-if-absent on their content-addressed primary keys,
// which is what makes retried or replayed processing idempotent.
//
// trade_signals.raw_msg_id is a back-reference, not an enforced foreign key:
// audit rows are pruned by retention while signal rows live forever, so a
// signal may legitimately outlive its source row.
type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.SignalStore = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (or creates) the database and ensures the schema.
// Pass ":memory:" for throwaway databases in tests.
func NewSQLiteRepository(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer; one pooled connection also keeps
	// an in-memory database stable across queries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	r := &SQLiteRepository{db: db}
	if err := r.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS raw_messages (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			sender TEXT NOT NULL,
			room TEXT,
			timestamp TEXT NOT NULL,
			ingested_at TEXT NOT NULL,
			is_trade INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_signals (
			id TEXT PRIMARY KEY,
			raw_msg_id TEXT NOT NULL,
			intent TEXT NOT NULL,
			item TEXT NOT NULL,
			price REAL,
			specs TEXT,
			confidence REAL,
			group_name TEXT,
			sender TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			raw_content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_group ON trade_signals(group_name)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_price ON trade_signals(price)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveMessage writes the audit row and all derived signals in one
// transaction. Rows whose keys already exist are left untouched, so saving
// the same message (or the same signal tuple) twice is a no-op.
func (r *SQLiteRepository) SaveMessage(ctx context.Context, msg domain.RawMessage, tradeRelated bool, signals []domain.MarketSignal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeFormat)

	_, err = sq.Insert("raw_messages").
		Columns("id", "content", "sender", "room", "timestamp", "ingested_at", "is_trade").
		Values(msg.ID, msg.Content, msg.Sender, nullable(msg.Room), msg.Timestamp.UTC().Format(timeFormat), now, boolToInt(tradeRelated)).
		Suffix("ON CONFLICT(id) DO NOTHING").
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("insert raw message: %w", err)
	}

	for _, signal := range signals {
		_, err = sq.Insert("trade_signals").
			Columns("id", "raw_msg_id", "intent", "item", "price", "specs", "confidence",
				"group_name", "sender", "timestamp", "raw_content", "created_at").
			Values(signal.StorageID(), signal.RawMsgID, signal.Intent, signal.Item,
				signal.Price, nullable(signal.Specs), signal.Confidence,
				nullable(signal.Group), signal.Sender,
				signal.Timestamp.UTC().Format(timeFormat), signal.RawContent, now).
			Suffix("ON CONFLICT(id) DO NOTHING").
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("insert signal %s: %w", signal.StorageID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListSignals returns persisted signals ordered by price then recency,
// optionally narrowed to items matching the filter substrings.
func (r *SQLiteRepository) ListSignals(ctx context.Context, filter ports.SignalFilter) ([]ports.SignalRow, error) {
	query := sq.Select("timestamp", "group_name", "sender", "item", "price").
		From("trade_signals").
		OrderBy("price DESC", "timestamp DESC")

	if len(filter.Items) > 0 {
		or := make(sq.Or, 0, len(filter.Items))
		for _, item := range filter.Items {
			or = append(or, sq.Like{"LOWER(item)": "%" + strings.ToLower(item) + "%"})
		}
		query = query.Where(or)
	}

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var result []ports.SignalRow
	for rows.Next() {
		var (
			ts    string
			group sql.NullString
			row   ports.SignalRow
			price sql.NullFloat64
		)
		if err := rows.Scan(&ts, &group, &row.Sender, &row.Item, &price); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if parsed, err := time.Parse(timeFormat, ts); err == nil {
			row.Timestamp = parsed.UTC()
		}
		row.Group = group.String
		if price.Valid {
			value := price.Float64
			row.Price = &value
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return result, nil
}

// PruneRawMessages deletes audit rows past the retention window.
func (r *SQLiteRepository) PruneRawMessages(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	result, err := sq.Delete("raw_messages").
		Where(sq.Expr("ingested_at < datetime('now', ?)", fmt.Sprintf("-%d days", retentionDays))).
		RunWith(r.db).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune raw messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// Close releases the underlying connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
