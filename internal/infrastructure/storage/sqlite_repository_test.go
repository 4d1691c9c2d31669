package storage

import (
	"context"
	"testing"
	"time"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testMessage() domain.RawMessage {
	ts := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	return domain.NewRawMessage(ts, "A", "出两个24散飞 2810，还有两条芙蓉王 400", "G1")
}

func testSignal(msg domain.RawMessage, item string, price float64) domain.MarketSignal {
	return domain.MarketSignal{
		RawMsgID:   msg.ID,
		Intent:     "Sell",
		Item:       item,
		Price:      &price,
		Confidence: 0.9,
		Group:      msg.Room,
		Sender:     msg.Sender,
		Timestamp:  msg.Timestamp,
		RawContent: msg.Content,
	}
}

func (r *SQLiteRepository) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSaveMessagePersistsAuditAndSignals(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()
	signals := []domain.MarketSignal{
		testSignal(msg, "飞天茅台", 2810),
		testSignal(msg, "芙蓉王", 400),
	}

	if err := repo.SaveMessage(context.Background(), msg, true, signals); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if got := repo.countRows(t, "raw_messages"); got != 1 {
		t.Fatalf("expected 1 audit row, got %d", got)
	}
	// Different item/price means different hash, so two distinct rows.
	if got := repo.countRows(t, "trade_signals"); got != 2 {
		t.Fatalf("expected 2 signal rows, got %d", got)
	}
}

func TestSignalPersistenceIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()
	signal := testSignal(msg, "飞天茅台", 2810)

	for i := 0; i < 3; i++ {
		if err := repo.SaveMessage(context.Background(), msg, true, []domain.MarketSignal{signal}); err != nil {
			t.Fatalf("SaveMessage run %d: %v", i, err)
		}
	}

	if got := repo.countRows(t, "raw_messages"); got != 1 {
		t.Fatalf("expected 1 audit row, got %d", got)
	}
	if got := repo.countRows(t, "trade_signals"); got != 1 {
		t.Fatalf("expected 1 signal row, got %d", got)
	}
}

func TestAuditRowIsNeverOverwritten(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()

	if err := repo.SaveMessage(context.Background(), msg, true, nil); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	// A replayed save with a different verdict must not flip the stored flag.
	if err := repo.SaveMessage(context.Background(), msg, false, nil); err != nil {
		t.Fatalf("SaveMessage replay: %v", err)
	}

	var isTrade int
	if err := repo.db.QueryRow("SELECT is_trade FROM raw_messages WHERE id = ?", msg.ID).Scan(&isTrade); err != nil {
		t.Fatalf("read flag: %v", err)
	}
	if isTrade != 1 {
		t.Fatal("first write was overwritten by replay")
	}
}

func TestListSignalsOrderingAndFilter(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()
	signals := []domain.MarketSignal{
		testSignal(msg, "芙蓉王", 400),
		testSignal(msg, "飞天茅台", 2810),
		testSignal(msg, "中华", 650),
	}
	if err := repo.SaveMessage(context.Background(), msg, true, signals); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	all, err := repo.ListSignals(context.Background(), ports.SignalFilter{})
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	if all[0].Item != "飞天茅台" || all[1].Item != "中华" || all[2].Item != "芙蓉王" {
		t.Fatalf("rows not ordered by price desc: %+v", all)
	}
	if all[0].Group != "G1" {
		t.Fatalf("group not preserved: %q", all[0].Group)
	}

	filtered, err := repo.ListSignals(context.Background(), ports.SignalFilter{Items: []string{"茅台"}})
	if err != nil {
		t.Fatalf("ListSignals filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Item != "飞天茅台" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}
}

func TestPruneRawMessagesKeepsSignals(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()
	if err := repo.SaveMessage(context.Background(), msg, true, []domain.MarketSignal{testSignal(msg, "飞天茅台", 2810)}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	// Age the audit row far past any retention window.
	if _, err := repo.db.Exec("UPDATE raw_messages SET ingested_at = '2020-01-01 00:00:00'"); err != nil {
		t.Fatalf("age audit row: %v", err)
	}

	deleted, err := repo.PruneRawMessages(context.Background(), 60)
	if err != nil {
		t.Fatalf("PruneRawMessages: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 pruned row, got %d", deleted)
	}
	if got := repo.countRows(t, "raw_messages"); got != 0 {
		t.Fatalf("audit row survived pruning: %d", got)
	}
	// Signals are exempt from retention.
	if got := repo.countRows(t, "trade_signals"); got != 1 {
		t.Fatalf("signal rows must never be auto-deleted, got %d", got)
	}
}

func TestPruneRawMessagesRespectsRetentionWindow(t *testing.T) {
	t.Parallel()

	repo := newTestRepo(t)
	msg := testMessage()
	if err := repo.SaveMessage(context.Background(), msg, false, nil); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	deleted, err := repo.PruneRawMessages(context.Background(), 60)
	if err != nil {
		t.Fatalf("PruneRawMessages: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("fresh row pruned: %d", deleted)
	}

	// Retention disabled is a no-op.
	if deleted, err = repo.PruneRawMessages(context.Background(), 0); err != nil || deleted != 0 {
		t.Fatalf("disabled retention should be a no-op: %d, %v", deleted, err)
	}
}
