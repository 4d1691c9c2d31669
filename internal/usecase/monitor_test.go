package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"SignalScanner/internal/dedup"
	"SignalScanner/internal/domain"
	"SignalScanner/internal/extract"
)

type scriptedSource struct {
	mu      sync.Mutex
	batches [][]domain.RawMessage
	errs    []error
	polls   int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Poll(context.Context) ([]domain.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	s.polls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return nil, nil
}

type digestRecorder struct {
	mu      sync.Mutex
	digests []string
}

func (d *digestRecorder) PublishDigest(_ context.Context, digest string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digests = append(d.digests, digest)
	return nil
}

type pruneTrackingStore struct {
	recordingStore
	mu         sync.Mutex
	pruneCalls []int
}

func (s *pruneTrackingStore) PruneRawMessages(_ context.Context, retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCalls = append(s.pruneCalls, retentionDays)
	return 1, nil
}

type recorderFake struct {
	mu      sync.Mutex
	batches [][]domain.MarketSignal
}

func (r *recorderFake) Record(signals []domain.MarketSignal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, signals)
	return nil
}

func (r *recorderFake) Close() error { return nil }

// interruptingStore cancels the run context during its first save and fails
// any save whose own context has been cancelled.
type interruptingStore struct {
	pruneTrackingStore
	cancel context.CancelFunc
}

func (s *interruptingStore) SaveMessage(ctx context.Context, msg domain.RawMessage, tradeRelated bool, signals []domain.MarketSignal) error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.pruneTrackingStore.SaveMessage(ctx, msg, tradeRelated, signals)
}

// runTicks drives the monitor with a sleep stub that cancels the context
// after the given number of completed ticks and records each delay.
func runTicks(t *testing.T, m *Monitor, ticks int) []time.Duration {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) >= ticks {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
	return delays
}

func newTestPipeline(t *testing.T, store *pruneTrackingStore) *Pipeline {
	t.Helper()
	return NewPipeline(PipelineDeps{
		Dedup:      dedup.New(10),
		Classifier: testClassifier(t),
		Fallback:   extract.NewFallback(nil, nil),
		Store:      store,
	})
}

func TestMonitorProcessesBatchAndNotifies(t *testing.T) {
	t.Parallel()

	store := &pruneTrackingStore{}
	src := &scriptedSource{batches: [][]domain.RawMessage{
		{msgAt(time.Now(), "alice", "sell maotai 2810", "deals")},
	}}
	notifier := &digestRecorder{}
	recorder := &recorderFake{}

	m := NewMonitor(MonitorDeps{
		Source:        src,
		Pipeline:      newTestPipeline(t, store),
		Store:         store,
		Recorder:      recorder,
		Notifier:      notifier,
		IntervalMin:   time.Millisecond,
		IntervalMax:   time.Millisecond,
		RetentionDays: 60,
	})

	runTicks(t, m, 1)

	if len(store.calls) != 1 {
		t.Fatalf("expected one persisted message, got %d", len(store.calls))
	}
	if len(notifier.digests) != 1 || !strings.Contains(notifier.digests[0], "MAOTAI") {
		t.Fatalf("digest missing, got %v", notifier.digests)
	}
	if len(store.pruneCalls) != 1 || store.pruneCalls[0] != 60 {
		t.Fatalf("retention sweep not run with configured window, got %v", store.pruneCalls)
	}
	if len(recorder.batches) != 1 || len(recorder.batches[0]) != 1 {
		t.Fatalf("signal log should receive the persisted batch, got %v", recorder.batches)
	}
}

func TestMonitorCompletesInFlightBatchOnInterrupt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &interruptingStore{cancel: cancel}
	src := &scriptedSource{batches: [][]domain.RawMessage{{
		msgAt(time.Now(), "alice", "sell maotai 2810", "deals"),
		msgAt(time.Now(), "bob", "buy whisky 400", "deals"),
	}}}

	pipeline := NewPipeline(PipelineDeps{
		Dedup:      dedup.New(10),
		Classifier: testClassifier(t),
		Fallback:   extract.NewFallback(nil, nil),
		Store:      store,
	})

	m := NewMonitor(MonitorDeps{
		Source:      src,
		Pipeline:    pipeline,
		Store:       store,
		IntervalMin: time.Minute,
		IntervalMax: time.Minute,
	})

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after interrupt")
	}

	// Dedup already recorded both messages, so an interrupt landing during
	// the first save must not cost the rest of the batch its audit rows.
	if got := len(store.calls); got != 2 {
		t.Fatalf("persisted %d of 2 messages after interrupt", got)
	}
}

func TestMonitorSourceFaultUsesErrorBackoff(t *testing.T) {
	t.Parallel()

	store := &pruneTrackingStore{}
	src := &scriptedSource{
		errs: []error{errors.New("collector offline"), nil},
		batches: [][]domain.RawMessage{
			nil,
			{msgAt(time.Now(), "alice", "sell maotai 2810", "deals")},
		},
	}

	m := NewMonitor(MonitorDeps{
		Source:       src,
		Pipeline:     newTestPipeline(t, store),
		Store:        store,
		IntervalMin:  time.Millisecond,
		IntervalMax:  time.Millisecond,
		ErrorBackoff: 42 * time.Millisecond,
	})

	delays := runTicks(t, m, 2)

	if delays[0] != 42*time.Millisecond {
		t.Errorf("faulty tick delay = %v, want error backoff", delays[0])
	}
	if delays[1] != time.Millisecond {
		t.Errorf("healthy tick delay = %v, want polling interval", delays[1])
	}
	if len(store.calls) != 1 {
		t.Fatalf("loop should survive the fault and process the next batch, got %d saves", len(store.calls))
	}
}

func TestMonitorEmptyBatchSkipsNotification(t *testing.T) {
	t.Parallel()

	store := &pruneTrackingStore{}
	notifier := &digestRecorder{}
	m := NewMonitor(MonitorDeps{
		Source:      &scriptedSource{},
		Pipeline:    newTestPipeline(t, store),
		Store:       store,
		Notifier:    notifier,
		IntervalMin: time.Millisecond,
	})

	runTicks(t, m, 1)

	if len(notifier.digests) != 0 {
		t.Fatalf("no signals should mean no digest, got %v", notifier.digests)
	}
}

func TestMonitorNotWired(t *testing.T) {
	t.Parallel()

	m := NewMonitor(MonitorDeps{})
	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected error for unwired monitor")
	}
}

func TestBuildDigestFormatting(t *testing.T) {
	t.Parallel()

	price := 2810.0
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	digest := buildDigest([]domain.MarketSignal{
		{Group: "酒水群", Intent: "Sell", Item: "飞天茅台", Price: &price, Sender: "张三", Timestamp: ts},
		{Group: "", Intent: "Buy", Item: "芙蓉王", Sender: "李四", Timestamp: ts},
	})

	if !strings.Contains(digest, "[酒水群] Sell 飞天茅台 @ 2810.00 (张三, 2026-03-14 10:30)") {
		t.Errorf("unexpected digest line: %q", digest)
	}
	if !strings.Contains(digest, "[Direct Message] Buy 芙蓉王 @ -") {
		t.Errorf("direct message line missing: %q", digest)
	}
}
