// Package csvlog turns proxy access-log CSV files into candidate AI usage events.
package csvlog

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/V4T54L/shadow-ai-watch/internal/classifier"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// timestampLayouts are tried in order; layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Report counts what happened to the rows of one or more files.
type Report struct {
	Rows     int `json:"rows"`
	Accepted int `json:"accepted"`
	Filtered int `json:"filtered"`
	Skipped  int `json:"skipped"`
}

func (r *Report) add(o Report) {
	r.Rows += o.Rows
	r.Accepted += o.Accepted
	r.Filtered += o.Filtered
	r.Skipped += o.Skipped
}

// Parser reads proxy logs and keeps AI-related requests only.
type Parser struct {
	sourceSystem string
	logger       *slog.Logger
	now          func() time.Time
}

// NewParser creates a Parser that stamps events with sourceSystem.
func NewParser(sourceSystem string, logger *slog.Logger) *Parser {
	if sourceSystem == "" {
		sourceSystem = domain.DefaultSourceSystem
	}
	return &Parser{
		sourceSystem: sourceSystem,
		logger:       logger.With("component", "csv_parser"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ParseFiles parses every file and returns the merged events sorted by
// timestamp ascending.
func (p *Parser) ParseFiles(paths []string) ([]domain.AIUsageEvent, Report, error) {
	var all []domain.AIUsageEvent
	var total Report
	for _, path := range paths {
		events, report, err := p.ParseFile(path)
		if err != nil {
			return nil, total, err
		}
		all = append(all, events...)
		total.add(report)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, total, nil
}

// ParseFile opens and parses a single CSV file. Rotated logs ending in .gz
// or .zst are decompressed on the fly.
func (p *Parser) ParseFile(path string) ([]domain.AIUsageEvent, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	r, err := decompress(path, f)
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer r.Close()

	events, report, err := p.Parse(r)
	if err != nil {
		return nil, report, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	p.logger.Info("parsed log file", "path", path, "rows", report.Rows, "accepted", report.Accepted,
		"filtered", report.Filtered, "skipped", report.Skipped)
	return events, report, nil
}

// Parse reads CSV with a header row. Column order is free; only url is
// required. Malformed records are skipped with a warning.
func (p *Parser) Parse(r io.Reader) ([]domain.AIUsageEvent, Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, Report{}, nil
	}
	if err != nil {
		return nil, Report{}, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := columns["url"]; !ok {
		return nil, Report{}, errors.New("missing required column: url")
	}

	var events []domain.AIUsageEvent
	var report Report
	for rowNum := 1; ; rowNum++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		report.Rows++
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, report, fmt.Errorf("failed to read row %d: %w", rowNum, err)
			}
			report.Skipped++
			p.logger.Warn("skipping malformed row", "row", rowNum, "error", err)
			continue
		}

		get := func(col string) string {
			idx, ok := columns[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}

		url := strings.TrimSpace(get("url"))
		if url == "" || !classifier.IsAIRelated(url) {
			report.Filtered++
			continue
		}

		rawTimestamp := get("timestamp")
		provider, service := classifier.DetectProvider(url)
		event := domain.AIUsageEvent{
			ID:            EventID(rawTimestamp, get("user_email"), get("url"), rowNum),
			Timestamp:     p.parseTimestamp(strings.TrimSpace(rawTimestamp), rowNum),
			UserEmail:     optional(get("user_email")),
			Department:    optional(get("department")),
			SourceIP:      optional(get("source_ip")),
			Provider:      provider,
			Service:       service,
			URL:           url,
			BytesSent:     parseBytes(get("bytes_sent")),
			BytesReceived: parseBytes(get("bytes_received")),
			RiskLevel:     domain.RiskLow,
			RiskReasons:   []string{},
			SourceSystem:  p.sourceSystem,
			PIIReasons:    []string{},
			UseCase:       domain.UseCaseUnknown,
		}
		events = append(events, event)
		report.Accepted++
	}
	return events, report, nil
}

func decompress(path string, f *os.File) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewReader(f)
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return io.NopCloser(f), nil
}

// EventID derives the stable identifier of a source row from its raw
// timestamp, user email and url cells and its 1-based data row number.
func EventID(timestamp, userEmail, url string, rowNum int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%d", timestamp, userEmail, url, rowNum)))
	return "evt_" + hex.EncodeToString(sum[:8])
}

func (p *Parser) parseTimestamp(value string, rowNum int) time.Time {
	if value == "" {
		p.logger.Warn("missing timestamp, using current time", "row", rowNum)
		return p.now()
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	p.logger.Warn("could not parse timestamp, using current time", "row", rowNum, "timestamp", value)
	return p.now()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func parseBytes(value string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
