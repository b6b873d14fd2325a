package kstat

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoggerWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kstat.csv")

	Default.PipesCreated = 3
	stop := make(chan struct{})
	go Logger(path, 10*time.Millisecond, stop)

	time.Sleep(50 * time.Millisecond)
	close(stop)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output, got none")
	}
}

func TestLoggerNoopWithoutPath(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		Logger("", time.Second, stop)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Logger with empty path did not return immediately")
	}
}
