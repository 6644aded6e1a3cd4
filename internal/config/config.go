package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server describes the remote generation server and per-call timeouts.
type Server struct {
	BaseURL           string `toml:"base_url"`
	ProcessingTimeout int    `toml:"processing_timeout"`
	StatusTimeout     int    `toml:"status_timeout"`
	OptionsTimeout    int    `toml:"options_timeout"`
}

// Processing holds the default two-pass processing parameters applied to new jobs.
type Processing struct {
	Upscaler          string  `toml:"upscaler"`
	FallbackUpscaler  string  `toml:"fallback_upscaler"`
	ScaleFactor       float64 `toml:"scale_factor"`
	DenoisingStrength float64 `toml:"denoising_strength"`
	TileOverlap       int     `toml:"tile_overlap"`
	Steps             int     `toml:"steps"`
	Sampler           string  `toml:"sampler"`
	Scheduler         string  `toml:"scheduler"`
	CFGScale          float64 `toml:"cfg_scale"`
	Width             int     `toml:"width"`
	Height            int     `toml:"height"`
	FinalScale        float64 `toml:"final_scale"`
	FinalUpscaler     string  `toml:"final_upscaler"`
}

// Polling controls the status poller cadence (seconds).
type Polling struct {
	ActiveInterval       int `toml:"active_interval"`
	IdleInterval         int `toml:"idle_interval"`
	ErrorInterval        int `toml:"error_interval"`
	MaxConsecutiveErrors int `toml:"max_consecutive_errors"`
	UnobservedMultiplier int `toml:"unobserved_multiplier"`
}

// Jobs controls queue admission and cancellation.
type Jobs struct {
	Capacity           int `toml:"capacity"`
	TimestampTolerance int `toml:"timestamp_tolerance"`
	CancelTimeout      int `toml:"cancel_timeout"`
	HistoryLimit       int `toml:"history_limit"`
}

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on HTTP API calls.
	APIToken string `toml:"api_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes per-run daemon logs older than this. 0 keeps all.
	RetentionDays int `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	QueueDrained   bool   `toml:"queue_drained"`
}

// History controls the archive of finished jobs.
type History struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for finisher.
//
// Configuration sections by subsystem:
//   - Server: generation server URL and request timeouts
//   - Processing: default upscale parameters for new jobs
//   - Polling: status poller intervals and error backoff
//   - Jobs: queue capacity, ownership tolerance, cancellation timeout
//   - Paths: state/log directories and the HTTP API bind address
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - History: finished-job archive
type Config struct {
	Server        Server        `toml:"server"`
	Processing    Processing    `toml:"processing"`
	Polling       Polling       `toml:"polling"`
	Jobs          Jobs          `toml:"jobs"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	History       History       `toml:"history"`
}

// Load reads the configuration at path, or the first existing default
// location when path is empty, then normalizes and validates it. It also
// reports the resolved path and whether a file was found there. Unknown keys
// are rejected so that typos do not silently fall back to defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	dec := toml.NewDecoder(file)
	dec.DisallowUnknownFields()
	err = dec.Decode(cfg)

	var strict *toml.StrictMissingError
	var decodeErr *toml.DecodeError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &strict):
		return fmt.Errorf("parse config %s: unknown keys:\n%s", path, strict.String())
	case errors.As(err, &decodeErr):
		row, col := decodeErr.Position()
		return fmt.Errorf("parse config %s:%d:%d: %w", path, row, col, err)
	default:
		return fmt.Errorf("parse config %s: %w", path, err)
	}
}

// resolveConfigPath returns an explicit path as given. Otherwise it tries the
// user config location, then finisher.toml in the working directory, and
// falls back to the user location when neither exists.
func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	userPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	candidates := []string{userPath}
	if local, err := filepath.Abs("finisher.toml"); err == nil {
		candidates = append(candidates, local)
	}
	for _, candidate := range candidates {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat config: %w", err)
	}
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.History.Enabled && strings.TrimSpace(c.History.Path) != "" {
		if err := os.MkdirAll(filepath.Dir(c.History.Path), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	return nil
}

// ProcessingTimeout bounds img2img and extra-single-image calls.
func (c *Config) ProcessingTimeout() time.Duration {
	return seconds(c.Server.ProcessingTimeout)
}

// StatusTimeout bounds progress and interrupt calls.
func (c *Config) StatusTimeout() time.Duration {
	return seconds(c.Server.StatusTimeout)
}

// OptionsTimeout bounds option discovery calls.
func (c *Config) OptionsTimeout() time.Duration {
	return seconds(c.Server.OptionsTimeout)
}

// TimestampTolerance is the ownership matching window.
func (c *Config) TimestampTolerance() time.Duration {
	return seconds(c.Jobs.TimestampTolerance)
}

// CancelTimeout caps how long a cancelling job waits for the server to report idle.
func (c *Config) CancelTimeout() time.Duration {
	return seconds(c.Jobs.CancelTimeout)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
