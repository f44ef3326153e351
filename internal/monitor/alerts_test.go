package monitor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
)

func TestAlertWriterAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	w := NewAlertWriter(path)

	first := domain.RebalanceOpportunity{
		ID:      "opp-1",
		EventID: "evt-1",
		Title:   "Championship Winner",
		Time:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Sum:     0.875,
		Gap:     0.125,
	}
	second := domain.RebalanceOpportunity{ID: "opp-2", EventID: "evt-2", Sum: 0.75}

	if err := w.Write(first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []domain.RebalanceOpportunity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var opp domain.RebalanceOpportunity
		if err := json.Unmarshal(scanner.Bytes(), &opp); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, opp)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].ID != "opp-1" || lines[1].ID != "opp-2" {
		t.Errorf("unexpected order: %s, %s", lines[0].ID, lines[1].ID)
	}
	if lines[0].Sum != 0.875 {
		t.Errorf("sum round-trip failed: %v", lines[0].Sum)
	}
}
