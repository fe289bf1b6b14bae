package configwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
updateIntervalMs: 2000
optimizationThreshold: 0.6
maxWaveLookahead: 2
adaptiveBoundaries: true
realTimePromotions: true
rollbackOnFailure: true
workStealing:
  maxTransfersPerWave: 3
boundaryConstraints:
  maxWaveSize: 8
`

func TestWatcherEmitsReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case cfg := <-w.Updates:
		if cfg.MaxWaveLookahead != 2 {
			t.Fatalf("expected MaxWaveLookahead 2, got %d", cfg.MaxWaveLookahead)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed within 3s")
	}
}

func TestWatcherDropsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	w, err := New(path, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("updateIntervalMs: 1\n"), 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case cfg := <-w.Updates:
		t.Fatalf("expected no reload for invalid config, got %+v", cfg)
	case <-time.After(1 * time.Second):
		// Expected: invalid config is dropped, not emitted.
	}
}
