package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.base_url %q must be an absolute http(s) URL", c.Server.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server.base_url scheme %q is not supported", parsed.Scheme)
	}
	return ensurePositiveMap(map[string]int{
		"server.processing_timeout": c.Server.ProcessingTimeout,
		"server.status_timeout":     c.Server.StatusTimeout,
		"server.options_timeout":    c.Server.OptionsTimeout,
	})
}

func (c *Config) validateProcessing() error {
	p := c.Processing
	if p.ScaleFactor < 1 || p.ScaleFactor > 8 {
		return errors.New("processing.scale_factor must be between 1 and 8")
	}
	if p.DenoisingStrength < 0 || p.DenoisingStrength > 1 {
		return errors.New("processing.denoising_strength must be between 0 and 1")
	}
	if p.TileOverlap < 0 {
		return errors.New("processing.tile_overlap must not be negative")
	}
	if p.FinalScale < 1 || p.FinalScale > 8 {
		return errors.New("processing.final_scale must be between 1 and 8")
	}
	if p.CFGScale <= 0 {
		return errors.New("processing.cfg_scale must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"processing.steps":  p.Steps,
		"processing.width":  p.Width,
		"processing.height": p.Height,
	})
}

func (c *Config) validatePolling() error {
	if err := ensurePositiveMap(map[string]int{
		"polling.active_interval":        c.Polling.ActiveInterval,
		"polling.idle_interval":          c.Polling.IdleInterval,
		"polling.error_interval":         c.Polling.ErrorInterval,
		"polling.max_consecutive_errors": c.Polling.MaxConsecutiveErrors,
		"polling.unobserved_multiplier":  c.Polling.UnobservedMultiplier,
	}); err != nil {
		return err
	}
	if c.Polling.IdleInterval < c.Polling.ActiveInterval {
		return errors.New("polling.idle_interval must not be shorter than polling.active_interval")
	}
	return nil
}

func (c *Config) validateJobs() error {
	if err := ensurePositiveMap(map[string]int{
		"jobs.capacity":       c.Jobs.Capacity,
		"jobs.cancel_timeout": c.Jobs.CancelTimeout,
		"jobs.history_limit":  c.Jobs.HistoryLimit,
	}); err != nil {
		return err
	}
	if c.Jobs.TimestampTolerance < 0 {
		return errors.New("jobs.timestamp_tolerance must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	topic := strings.TrimSpace(c.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return errors.New("notifications.ntfy_topic must be a full http(s) URL")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
