package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"SignalScanner/internal/ports"
)

// utf8BOM keeps the CSV files double-click friendly in spreadsheet tools.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	unsafeRE     = regexp.MustCompile(`[^\p{L}\p{N}_\-]+`)
)

// Generator renders aggregate, per-group, and temporary-goods CSV reports
// from the signals table.
type Generator struct {
	store         ports.SignalStore
	outputDir     string
	tempValidDays int
	logger        *slog.Logger

	now func() time.Time
}

// NewGenerator wires the report generator.
func NewGenerator(store ports.SignalStore, outputDir string, tempValidDays int, logger *slog.Logger) *Generator {
	if tempValidDays <= 0 {
		tempValidDays = 7
	}
	return &Generator{
		store:         store,
		outputDir:     outputDir,
		tempValidDays: tempValidDays,
		logger:        logger,
		now:           time.Now,
	}
}

// GenerateAggregate writes all persisted signals into one dated report.
func (g *Generator) GenerateAggregate(ctx context.Context) (string, error) {
	rows, err := g.store.ListSignals(ctx, ports.SignalFilter{})
	if err != nil {
		return "", fmt.Errorf("fetch signals: %w", err)
	}
	return g.writeReport(g.datedFilename("aggregate"), rows)
}

// GenerateGroupReports writes one dated report per chat group. Direct
// messages land in their own report.
func (g *Generator) GenerateGroupReports(ctx context.Context) ([]string, error) {
	rows, err := g.store.ListSignals(ctx, ports.SignalFilter{})
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}

	byGroup := map[string][]ports.SignalRow{}
	var order []string
	for _, row := range rows {
		group := row.Group
		if group == "" {
			group = "Direct_Message"
		}
		if _, seen := byGroup[group]; !seen {
			order = append(order, group)
		}
		byGroup[group] = append(byGroup[group], row)
	}

	paths := make([]string, 0, len(order))
	for _, group := range order {
		path, err := g.writeReport(g.datedFilename("group_"+sanitize(group)), byGroup[group])
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// GenerateTemporaryGoods writes a report restricted to the goods whitelist
// and sweeps expired temp reports afterwards.
func (g *Generator) GenerateTemporaryGoods(ctx context.Context, goodsWhitelist []string) (string, error) {
	rows, err := g.store.ListSignals(ctx, ports.SignalFilter{Items: goodsWhitelist})
	if err != nil {
		return "", fmt.Errorf("fetch signals: %w", err)
	}
	path, err := g.writeReport(g.datedFilename("temp_goods"), rows)
	if err != nil {
		return "", err
	}
	g.cleanupTempReports()
	return path, nil
}

// GenerateAll is the auto-report entry point driven by the scheduler.
func (g *Generator) GenerateAll(ctx context.Context, goodsWhitelist []string) {
	if _, err := g.GenerateAggregate(ctx); err != nil {
		g.warn("aggregate report failed", "error", err)
	}
	if _, err := g.GenerateGroupReports(ctx); err != nil {
		g.warn("group reports failed", "error", err)
	}
	if len(goodsWhitelist) > 0 {
		if _, err := g.GenerateTemporaryGoods(ctx, goodsWhitelist); err != nil {
			g.warn("temporary goods report failed", "error", err)
		}
	}
}

func (g *Generator) writeReport(filename string, rows []ports.SignalRow) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	path := filepath.Join(g.outputDir, filename)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(utf8BOM); err != nil {
		return "", fmt.Errorf("write BOM: %w", err)
	}

	w := csv.NewWriter(file)
	if err := w.Write([]string{"Time", "Group", "Sender", "Item", "Price"}); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		group := row.Group
		if group == "" {
			group = "Direct Message"
		}
		price := ""
		if row.Price != nil {
			price = strconv.FormatFloat(*row.Price, 'f', -1, 64)
		}
		record := []string{
			row.Timestamp.Format("2006-01-02 15:04:05"),
			group,
			row.Sender,
			row.Item,
			price,
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush report: %w", err)
	}
	return path, nil
}

// cleanupTempReports removes temp-goods reports past their validity window.
func (g *Generator) cleanupTempReports() {
	cutoff := g.now().Add(-time.Duration(g.tempValidDays) * 24 * time.Hour)

	matches, err := filepath.Glob(filepath.Join(g.outputDir, "report_temp_goods_*.csv"))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				g.warn("failed to cleanup temp report", "path", path, "error", err)
			}
		}
	}
}

func (g *Generator) datedFilename(reportType string) string {
	return fmt.Sprintf("report_%s_%s.csv", reportType, g.now().UTC().Format("2006-01-02"))
}

// sanitize turns a chat group name into a safe filename fragment.
func sanitize(value string) string {
	value = whitespaceRE.ReplaceAllString(value, "_")
	value = unsafeRE.ReplaceAllString(value, "")
	if value == "" {
		return "Unknown"
	}
	return value
}

func (g *Generator) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
