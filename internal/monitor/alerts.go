package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

// AlertWriter appends rebalance opportunities to a local JSONL file. The
// file survives database outages, so an opportunity is never lost even when
// everything downstream is down.
type AlertWriter struct {
	path string

	mu sync.Mutex
}

// NewAlertWriter creates a writer appending to path. The file is created on
// first write.
func NewAlertWriter(path string) *AlertWriter {
	return &AlertWriter{path: path}
}

// Write appends one opportunity as a single JSON line.
func (w *AlertWriter) Write(opp domain.RebalanceOpportunity) error {
	data, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("monitor: marshal alert: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("monitor: open alert file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("monitor: write alert: %w", err)
	}
	return nil
}
