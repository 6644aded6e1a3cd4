package history

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenRejectsNewerArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenPath(path)
	if err == nil {
		_ = reopened.Close()
	}
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < 2; i++ {
		store, err := OpenPath(path)
		if err != nil {
			t.Fatalf("OpenPath #%d: %v", i+1, err)
		}
		_ = store.Close()
	}
}
