package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

var logHeader = []string{"Time", "Group", "Sender", "Item", "Price", "Raw_Content"}

// Recorder mirrors every persisted signal into flat CSV logs next to the
// database: a truncate-on-start session log, a monthly history log, and an
// append-only daily market log. Multi-line content is flattened so each
// signal stays exactly one CSV row.
type Recorder struct {
	dataDir string
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	sessionFile *os.File
	historyFile *os.File
	session     *csv.Writer
	history     *csv.Writer
}

var _ ports.SignalRecorder = (*Recorder)(nil)

// NewRecorder opens the session and history logs. The session log is
// truncated so it only ever holds signals from the current run; the history
// log accumulates across runs, one file per month.
func NewRecorder(dataDir string, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &Recorder{dataDir: dataDir, logger: logger, now: time.Now}

	sessionFile, err := truncateLog(filepath.Join(dataDir, "session_latest.csv"))
	if err != nil {
		return nil, err
	}
	r.sessionFile = sessionFile
	r.session = csv.NewWriter(sessionFile)

	historyName := fmt.Sprintf("history_%s.csv", r.now().Format("2006-01"))
	historyFile, err := appendLog(filepath.Join(dataDir, historyName))
	if err != nil {
		_ = sessionFile.Close()
		return nil, err
	}
	r.historyFile = historyFile
	r.history = csv.NewWriter(historyFile)

	return r, nil
}

// Record appends the signals to all three logs and flushes, so the rows
// survive a crash right after the tick.
func (r *Recorder) Record(signals []domain.MarketSignal) error {
	if len(signals) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range signals {
		row := logRow(s)
		if err := r.session.Write(row); err != nil {
			return fmt.Errorf("write session log: %w", err)
		}
		if err := r.history.Write(row); err != nil {
			return fmt.Errorf("write history log: %w", err)
		}
	}
	r.session.Flush()
	r.history.Flush()
	if err := errors.Join(r.session.Error(), r.history.Error()); err != nil {
		return fmt.Errorf("flush signal logs: %w", err)
	}

	return r.appendDaily(signals)
}

// appendDaily writes the rows to market_log_YYYY-MM-DD.csv. The file is
// opened per call: the day rolls over while the process runs.
func (r *Recorder) appendDaily(signals []domain.MarketSignal) error {
	name := fmt.Sprintf("market_log_%s.csv", r.now().Format("2006-01-02"))
	file, err := appendLog(filepath.Join(r.dataDir, name))
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	for _, s := range signals {
		if err := w.Write(logRow(s)); err != nil {
			return fmt.Errorf("write daily log: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush daily log: %w", err)
	}
	return nil
}

// Close flushes and releases the long-lived log handles.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.session.Flush()
	r.history.Flush()
	return errors.Join(
		r.session.Error(), r.history.Error(),
		r.sessionFile.Close(), r.historyFile.Close(),
	)
}

func logRow(s domain.MarketSignal) []string {
	group := flatten(s.Group)
	if group == "" {
		group = "Direct Message"
	}
	price := ""
	if s.Price != nil {
		price = strconv.FormatFloat(*s.Price, 'f', -1, 64)
	}
	return []string{
		s.Timestamp.Format("2006-01-02 15:04:05"),
		group,
		flatten(s.Sender),
		flatten(s.Item),
		price,
		flatten(s.RawContent),
	}
}

// flatten turns multi-line chat text into a single CSV-safe line.
func flatten(text string) string {
	text = strings.ReplaceAll(text, "\r", " | ")
	text = strings.ReplaceAll(text, "\n", " | ")
	return strings.TrimSpace(text)
}

// truncateLog starts a fresh log with BOM and header.
func truncateLog(path string) (*os.File, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", path, err)
	}
	if err := writeLogHeader(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	return file, nil
}

// appendLog opens a log for appending, writing BOM and header only when the
// file is new.
func appendLog(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}
	if info.Size() == 0 {
		if err := writeLogHeader(file); err != nil {
			_ = file.Close()
			return nil, err
		}
	}
	return file, nil
}

func writeLogHeader(file *os.File) error {
	if _, err := file.Write(utf8BOM); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}
	w := csv.NewWriter(file)
	if err := w.Write(logHeader); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	w.Flush()
	return w.Error()
}
