package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// MonitorDeps wires the control loop.
type MonitorDeps struct {
	Source        ports.MessageSource
	Pipeline      *Pipeline
	Store         ports.SignalStore
	Recorder      ports.SignalRecorder // optional
	Notifier      ports.Notifier       // optional
	IntervalMin   time.Duration
	IntervalMax   time.Duration
	ErrorBackoff  time.Duration
	RetentionDays int
	Logger        *slog.Logger
}

// Monitor is the long-running control loop: one batch per tick, jittered
// polling delay, longer backoff after source faults or empty ticks, and a
// retention sweep each tick. No per-tick error is ever fatal — the loop
// exits only on operator cancellation, completing the in-flight batch first.
type Monitor struct {
	source        ports.MessageSource
	pipeline      *Pipeline
	store         ports.SignalStore
	recorder      ports.SignalRecorder
	notifier      ports.Notifier
	intervalMin   time.Duration
	intervalMax   time.Duration
	errorBackoff  time.Duration
	retentionDays int
	logger        *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMonitor constructs the control loop around a pipeline.
func NewMonitor(deps MonitorDeps) *Monitor {
	m := &Monitor{
		source:        deps.Source,
		pipeline:      deps.Pipeline,
		store:         deps.Store,
		recorder:      deps.Recorder,
		notifier:      deps.Notifier,
		intervalMin:   deps.IntervalMin,
		intervalMax:   deps.IntervalMax,
		errorBackoff:  deps.ErrorBackoff,
		retentionDays: deps.RetentionDays,
		logger:        deps.Logger,
		sleep:         sleepContext,
	}
	if m.intervalMin <= 0 {
		m.intervalMin = 500 * time.Millisecond
	}
	if m.intervalMax < m.intervalMin {
		m.intervalMax = m.intervalMin
	}
	if m.errorBackoff <= 0 {
		m.errorBackoff = 5 * time.Second
	}
	return m
}

// Run polls until the context is cancelled. The in-flight batch always
// completes before the loop returns.
func (m *Monitor) Run(ctx context.Context) error {
	if m.source == nil || m.pipeline == nil {
		return fmt.Errorf("monitor is not fully wired")
	}

	m.info("monitor started", "source", m.source.Name())
	for {
		if err := ctx.Err(); err != nil {
			m.info("monitor stopped")
			return nil
		}

		quiet := m.tick(ctx)

		delay := m.jitter()
		if quiet {
			delay = m.errorBackoff
		}
		if err := m.sleep(ctx, delay); err != nil {
			m.info("monitor stopped")
			return nil
		}
	}
}

// tick processes one batch. It reports whether the tick was quiet (source
// fault or no messages), which earns the longer backoff delay.
func (m *Monitor) tick(ctx context.Context) bool {
	batch, err := m.source.Poll(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.warn("source poll failed", "error", err)
		}
		return true
	}

	if len(batch) > 0 {
		// The operator interrupt must not abort a batch the dedup window
		// has already recorded; detach the context so every survivor
		// still reaches storage before Run returns.
		batchCtx := context.WithoutCancel(ctx)
		signals := m.pipeline.ProcessBatch(batchCtx, batch)
		m.record(signals)
		m.notify(batchCtx, signals)
	}

	if m.store != nil && m.retentionDays > 0 {
		if pruned, err := m.store.PruneRawMessages(ctx, m.retentionDays); err != nil {
			m.warn("retention sweep failed", "error", err)
		} else if pruned > 0 {
			m.info("pruned expired audit rows", "count", pruned)
		}
	}

	return len(batch) == 0
}

func (m *Monitor) record(signals []domain.MarketSignal) {
	if m.recorder == nil || len(signals) == 0 {
		return
	}
	if err := m.recorder.Record(signals); err != nil {
		m.warn("signal log write failed", "error", err)
	}
}

func (m *Monitor) notify(ctx context.Context, signals []domain.MarketSignal) {
	if m.notifier == nil || len(signals) == 0 {
		return
	}
	if err := m.notifier.PublishDigest(ctx, buildDigest(signals)); err != nil {
		m.warn("digest publish failed", "error", err)
	}
}

// jitter picks a polling delay uniformly inside [intervalMin, intervalMax],
// keeping the collector cadence human-looking.
func (m *Monitor) jitter() time.Duration {
	spread := m.intervalMax - m.intervalMin
	if spread <= 0 {
		return m.intervalMin
	}
	return m.intervalMin + time.Duration(rand.Int63n(int64(spread)))
}

// buildDigest renders newly persisted signals for the operator channel.
func buildDigest(signals []domain.MarketSignal) string {
	var formatted string
	for _, s := range signals {
		group := s.Group
		if group == "" {
			group = "Direct Message"
		}
		price := "-"
		if s.Price != nil {
			price = fmt.Sprintf("%.2f", *s.Price)
		}
		formatted += fmt.Sprintf("[%s] %s %s @ %s (%s, %s)\n",
			group, s.Intent, s.Item, price, s.Sender,
			s.Timestamp.Format("2006-01-02 15:04"))
	}
	return formatted
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *Monitor) info(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Monitor) warn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
