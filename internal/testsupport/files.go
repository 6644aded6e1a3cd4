package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// pngSignature is enough for anything that sniffs the file type; nothing in
// the controller decodes pixels.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// WriteImage writes a small PNG-signed file and returns its path.
func WriteImage(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	payload := append(append([]byte(nil), pngSignature...), []byte("finisher-test-image")...)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
