package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneRunLogsRemovesOnlyOldMatches(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().AddDate(0, 0, -20)
	write := func(name string, mtime time.Time) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
		return path
	}
	stale := write("finisher-20250101T000000.000Z.log", old)
	current := write("finisher-20250102T000000.000Z.log", old)
	fresh := write("finisher-20250301T000000.000Z.log", time.Now())
	other := write("notes.txt", old)

	removed := PruneRunLogs(NewNop(), dir, "finisher-*.log", 14, current)
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err %v", err)
	}
	for _, path := range []string{current, fresh, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", filepath.Base(path), err)
		}
	}
}

func TestPruneRunLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finisher-old.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().AddDate(-1, 0, 0)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if removed := PruneRunLogs(nil, dir, "finisher-*.log", 0); removed != 0 {
		t.Fatalf("retention 0 must keep everything, removed %d", removed)
	}
}
