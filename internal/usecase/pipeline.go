package usecase

import (
	"context"
	"log/slog"
	"strings"

	"SignalScanner/internal/dedup"
	"SignalScanner/internal/domain"
	"SignalScanner/internal/extract"
	"SignalScanner/internal/filter"
	"SignalScanner/internal/ports"
)

// LLMConfidence is the trust score for gateway-produced extractions.
const LLMConfidence = 0.9

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Dedup      *dedup.Deduplicator
	Classifier *filter.Classifier
	Gateway    ports.Extractor // nil when intelligence is disabled
	Fallback   ports.Extractor
	Store      ports.SignalStore
	Logger     *slog.Logger
}

// Pipeline implements the per-message decision flow: dedup, two-stage
// relevance classification, extraction (gateway with fallback), and
// idempotent persistence.
type Pipeline struct {
	dedup      *dedup.Deduplicator
	classifier *filter.Classifier
	gateway    ports.Extractor
	fallback   ports.Extractor
	store      ports.SignalStore
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		dedup:      deps.Dedup,
		classifier: deps.Classifier,
		gateway:    deps.Gateway,
		fallback:   deps.Fallback,
		store:      deps.Store,
		logger:     deps.Logger,
	}
}

// ProcessBatch runs every message of one polling tick through the pipeline,
// in batch order. A persistence fault skips the affected message and never
// aborts the rest of the batch. Returns the signals that were persisted.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []domain.RawMessage) []domain.MarketSignal {
	var persisted []domain.MarketSignal
	for _, msg := range batch {
		signals, err := p.Process(ctx, msg)
		if err != nil {
			p.warn("message skipped", "msg_id", msg.ID, "error", err)
			continue
		}
		persisted = append(persisted, signals...)
	}
	return persisted
}

// Process handles one message end to end. Duplicates are dropped before
// anything else; everything that survives dedup leaves an audit row.
func (p *Pipeline) Process(ctx context.Context, msg domain.RawMessage) ([]domain.MarketSignal, error) {
	if p.dedup != nil && p.dedup.IsDuplicate(msg.Timestamp, msg.Sender, msg.Content) {
		return nil, nil
	}

	relevant := p.classifier == nil || p.classifier.Relevant(msg.Content)

	var signals []domain.MarketSignal
	if relevant {
		signals = p.extractSignals(ctx, msg)
	}

	if err := p.store.SaveMessage(ctx, msg, relevant, signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// extractSignals asks the gateway first and degrades to the fallback when
// the gateway is absent, fails, or yields nothing usable.
func (p *Pipeline) extractSignals(ctx context.Context, msg domain.RawMessage) []domain.MarketSignal {
	if p.gateway != nil {
		extractions, err := p.gateway.Analyze(ctx, msg.Content)
		if err != nil {
			p.warn("extraction gateway failed, degrading to fallback", "msg_id", msg.ID, "error", err)
		}

		// Partial objects are discarded individually, not the whole batch.
		usable := make([]domain.Extraction, 0, len(extractions))
		for _, e := range extractions {
			if usableExtraction(e) {
				usable = append(usable, e)
			}
		}
		if len(usable) > 0 {
			return p.toSignals(msg, usable, LLMConfidence)
		}
	}

	if p.fallback == nil {
		return nil
	}
	extractions, err := p.fallback.Analyze(ctx, msg.Content)
	if err != nil {
		p.warn("fallback extraction failed", "msg_id", msg.ID, "error", err)
		return nil
	}
	return p.toSignals(msg, extractions, extract.FallbackConfidence)
}

func (p *Pipeline) toSignals(msg domain.RawMessage, extractions []domain.Extraction, confidence float64) []domain.MarketSignal {
	signals := make([]domain.MarketSignal, 0, len(extractions))
	for _, e := range extractions {
		signals = append(signals, domain.MarketSignal{
			RawMsgID:   msg.ID,
			Intent:     e.Intent,
			Item:       e.ItemName,
			Price:      e.Price,
			Specs:      e.Specs,
			Confidence: confidence,
			Group:      msg.Room,
			Sender:     msg.Sender,
			Timestamp:  msg.Timestamp,
			RawContent: msg.Content,
		})
	}
	return signals
}

// usableExtraction requires both a non-empty intent and a non-empty item.
func usableExtraction(e domain.Extraction) bool {
	return strings.TrimSpace(e.Intent) != "" && strings.TrimSpace(e.ItemName) != ""
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
