// Package spool is a segmented on-disk write-ahead log for events whose
// persistence failed during ingestion. Spooled events are replayed into the
// store at the start of the next run.
package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	segmentPrefix = "events-"
	segmentSuffix = ".jsonl"
	filePerm      = 0o644
	maxLineSize   = 1 << 20
)

// ErrSpoolFull is returned when a write would exceed the configured disk budget.
var ErrSpoolFull = errors.New("spool max total size exceeded")

// Spool implements domain.SpoolRepository with JSON-lines segment files.
type Spool struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu          sync.Mutex
	current     *os.File
	currentSize int64
	totalSize   int64
}

// New opens the spool in dir, creating the directory if needed. Segments are
// created lazily on the first write.
func New(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", dir, err)
	}
	s := &Spool{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "event_spool"),
	}
	total, err := s.diskUsage()
	if err != nil {
		return nil, err
	}
	s.totalSize = total
	return s, nil
}

// Write appends one event as a JSON line, rotating segments at maxSegmentSize.
func (s *Spool) Write(ctx context.Context, event domain.AIUsageEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for spool: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d + %d > %d)", ErrSpoolFull, s.totalSize, len(data), s.maxTotalSize)
	}
	if s.current == nil || s.currentSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.current.Write(data)
	s.currentSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to spool segment: %w", err)
	}
	return s.current.Sync()
}

// Replay hands every spooled event to handler in write order. A handler error
// stops the replay and leaves the spool intact.
func (s *Spool) Replay(ctx context.Context, handler func(event domain.AIUsageEvent) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	s.logger.Info("replaying spooled events", "segment_count", len(segments))

	replayed := 0
	for _, path := range segments {
		n, err := s.replaySegment(ctx, path, handler)
		replayed += n
		if err != nil {
			return err
		}
	}
	s.logger.Info("spool replay completed", "events", replayed)
	return nil
}

func (s *Spool) replaySegment(ctx context.Context, path string, handler func(event domain.AIUsageEvent) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		var event domain.AIUsageEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			s.logger.Warn("skipping unreadable spool line", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(event); err != nil {
			return count, fmt.Errorf("replay handler failed for %s: %w", event.ID, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return count, nil
}

// Truncate removes every segment.
func (s *Spool) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range segments {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	s.totalSize, err = s.diskUsage()
	if err != nil {
		errs = append(errs, err)
	}
	if len(segments) > 0 {
		s.logger.Info("spool truncated", "segments", len(segments))
	}
	return errors.Join(errs...)
}

// Len returns the number of bytes currently spooled.
func (s *Spool) Len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Close closes the open segment, if any.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (s *Spool) rotate() error {
	s.closeCurrent()

	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, time.Now().UnixNano(), segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create spool segment %s: %w", path, err)
	}
	s.current = f
	s.currentSize = 0
	s.logger.Debug("opened spool segment", "path", path)
	return nil
}

func (s *Spool) closeCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		s.logger.Error("failed to close spool segment", "error", err)
	}
	s.current = nil
	s.currentSize = 0
}

func (s *Spool) segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Spool) diskUsage() (int64, error) {
	segments, err := s.segments()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, path := range segments {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
