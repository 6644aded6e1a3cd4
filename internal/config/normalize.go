package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeServer()
	c.normalizeProcessing()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.BaseURL = strings.TrimSpace(c.Server.BaseURL)
	if value, ok := os.LookupEnv("FINISHER_SERVER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Server.BaseURL = strings.TrimSpace(value)
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaultServerURL
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
}

func (c *Config) normalizeProcessing() {
	c.Processing.Upscaler = strings.TrimSpace(c.Processing.Upscaler)
	if c.Processing.Upscaler == "" {
		c.Processing.Upscaler = defaultUpscaler
	}
	c.Processing.FallbackUpscaler = strings.TrimSpace(c.Processing.FallbackUpscaler)
	if c.Processing.FallbackUpscaler == "" {
		c.Processing.FallbackUpscaler = defaultUpscaler
	}
	c.Processing.Sampler = strings.TrimSpace(c.Processing.Sampler)
	if c.Processing.Sampler == "" {
		c.Processing.Sampler = defaultSampler
	}
	c.Processing.Scheduler = strings.TrimSpace(c.Processing.Scheduler)
	if c.Processing.Scheduler == "" {
		c.Processing.Scheduler = defaultScheduler
	}
	c.Processing.FinalUpscaler = strings.TrimSpace(c.Processing.FinalUpscaler)
	if c.Processing.FinalUpscaler == "" {
		c.Processing.FinalUpscaler = defaultFinalUpscaler
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeHistory() error {
	c.History.Path = strings.TrimSpace(c.History.Path)
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.Paths.StateDir, defaultHistoryFile)
	}
	var err error
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
