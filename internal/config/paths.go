package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SocketPath is the daemon's IPC socket under the state directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "finisher.sock")
}

// LockPath is the single-instance lock file under the state directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "finisherd.lock")
}

// DefaultConfigPath is the expanded user configuration location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// ExpandPath applies the same "~" and absolute-path rules as Load.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
