package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// ReplaySource feeds a JSONL transcript of collector payloads through the
// pipeline, one batch per poll. It exists for offline runs and backfills;
// the live desktop collector satisfies the same port.
type ReplaySource struct {
	path      string
	batchSize int
	mapper    *Mapper
	logger    *slog.Logger

	file    *os.File
	scanner *bufio.Scanner
	done    bool
}

var _ ports.MessageSource = (*ReplaySource)(nil)

// NewReplaySource builds a source over the given JSONL file.
func NewReplaySource(path string, batchSize int, mapper *Mapper, logger *slog.Logger) *ReplaySource {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReplaySource{path: path, batchSize: batchSize, mapper: mapper, logger: logger}
}

// Name identifies the source inside the registry.
func (s *ReplaySource) Name() string {
	return "replay"
}

// Poll returns the next batch of validated messages from the transcript.
// After the file is exhausted every poll yields an empty batch, which the
// monitor treats as "no messages this tick".
func (s *ReplaySource) Poll(ctx context.Context) ([]domain.RawMessage, error) {
	if s.done {
		return nil, nil
	}
	if s.scanner == nil {
		file, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("open replay file: %w", err)
		}
		s.file = file
		s.scanner = bufio.NewScanner(file)
	}

	payloads := make([]Payload, 0, s.batchSize)
	for len(payloads) < s.batchSize && s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var p Payload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			s.warn("skipping malformed replay line", "error", err)
			continue
		}
		payloads = append(payloads, p)
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	if len(payloads) < s.batchSize {
		s.done = true
		_ = s.file.Close()
	}

	return s.mapper.MapBatch(payloads), nil
}

func (s *ReplaySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
