// Package jsonfile reads and writes the events.json and summary.json
// artifacts handed to the reporting layer.
package jsonfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	EventsFileName  = "events.json"
	SummaryFileName = "summary.json"
)

// WriteEvents writes events as a JSON array. Nil reason lists are written as
// empty arrays.
func WriteEvents(path string, events []domain.AIUsageEvent) error {
	out := make([]domain.AIUsageEvent, len(events))
	for i, e := range events {
		if e.RiskReasons == nil {
			e.RiskReasons = []string{}
		}
		if e.PIIReasons == nil {
			e.PIIReasons = []string{}
		}
		out[i] = e
	}
	return writeJSON(path, out)
}

// WriteSummary writes the aggregate summary object.
func WriteSummary(path string, summary domain.Summary) error {
	return writeJSON(path, summary)
}

// ReadEvents loads events written by WriteEvents. A top-level object with an
// "events" array is accepted as well.
func ReadEvents(path string) ([]domain.AIUsageEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)

	var events []domain.AIUsageEvent
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Events []domain.AIUsageEvent `json:"events"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		events = wrapped.Events
	} else if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	for i := range events {
		if events[i].RiskReasons == nil {
			events[i].RiskReasons = []string{}
		}
		if events[i].PIIReasons == nil {
			events[i].PIIReasons = []string{}
		}
		if events[i].SourceSystem == "" {
			events[i].SourceSystem = domain.DefaultSourceSystem
		}
	}
	return events, nil
}

// writeJSON writes v to a temp file in the target directory and renames it
// into place.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
