// Package catalog keeps the server's valid option names (upscalers, models,
// samplers, schedulers) so jobs can be checked before any pass is submitted.
//
// A refresh that fails for one list keeps the previous contents of that list.
// An empty list means the server was never asked successfully; callers treat
// it as "anything goes" rather than rejecting every name.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"finisher/internal/logging"
)

// Kind names one option list.
type Kind string

const (
	KindUpscaler  Kind = "upscaler"
	KindModel     Kind = "model"
	KindSampler   Kind = "sampler"
	KindScheduler Kind = "scheduler"
)

// Options is an immutable snapshot of valid names.
type Options struct {
	Upscalers   []string  `json:"upscalers"`
	Models      []string  `json:"models"`
	Samplers    []string  `json:"samplers"`
	Schedulers  []string  `json:"schedulers"`
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
}

// Loaded reports whether at least the upscaler list is known.
func (o Options) Loaded() bool {
	return len(o.Upscalers) > 0
}

func (o Options) list(kind Kind) []string {
	switch kind {
	case KindUpscaler:
		return o.Upscalers
	case KindModel:
		return o.Models
	case KindSampler:
		return o.Samplers
	case KindScheduler:
		return o.Schedulers
	default:
		return nil
	}
}

// Resolve returns the server's spelling of name for kind. When the list for
// kind is empty the name is accepted unchanged. Matching falls back to a
// case-insensitive comparison.
func (o Options) Resolve(kind Kind, name string) (string, bool) {
	name = strings.TrimSpace(name)
	list := o.list(kind)
	if len(list) == 0 {
		return name, true
	}
	if name == "" {
		return "", false
	}
	for _, candidate := range list {
		if candidate == name {
			return candidate, true
		}
	}
	for _, candidate := range list {
		if strings.EqualFold(candidate, name) {
			return candidate, true
		}
	}
	return "", false
}

// Clone deep-copies the snapshot.
func (o Options) Clone() Options {
	return Options{
		Upscalers:   append([]string(nil), o.Upscalers...),
		Models:      append([]string(nil), o.Models...),
		Samplers:    append([]string(nil), o.Samplers...),
		Schedulers:  append([]string(nil), o.Schedulers...),
		RefreshedAt: o.RefreshedAt,
	}
}

// Source fetches option lists from the server.
type Source interface {
	Upscalers(ctx context.Context) ([]string, error)
	Models(ctx context.Context) ([]string, error)
	Samplers(ctx context.Context) ([]string, error)
	Schedulers(ctx context.Context) ([]string, error)
}

// Catalog caches the last known valid option lists.
type Catalog struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	current Options
	lastErr error
}

// New constructs a catalog backed by source.
func New(source Source, logger *slog.Logger) *Catalog {
	return &Catalog{
		source: source,
		logger: logging.NewComponentLogger(logger, "catalog"),
		now:    time.Now,
	}
}

// Options returns a copy of the current snapshot.
func (c *Catalog) Options() Options {
	if c == nil {
		return Options{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Clone()
}

// LastError returns the error from the most recent refresh, if any.
func (c *Catalog) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Refresh queries every list. Lists that fail keep their previous contents;
// the combined error reports which ones failed.
func (c *Catalog) Refresh(ctx context.Context) (Options, error) {
	if c.source == nil {
		return Options{}, errors.New("catalog: no option source configured")
	}
	fetchers := []struct {
		kind  Kind
		fetch func(context.Context) ([]string, error)
	}{
		{KindUpscaler, c.source.Upscalers},
		{KindModel, c.source.Models},
		{KindSampler, c.source.Samplers},
		{KindScheduler, c.source.Schedulers},
	}

	fetched := make(map[Kind][]string, len(fetchers))
	var errs []error
	for _, f := range fetchers {
		names, err := f.fetch(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s list: %w", f.kind, err))
			logging.WarnWithContext(c.logger, "option discovery failed", "options_refresh_failed",
				logging.String("kind", string(f.kind)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "keeping last known "+string(f.kind)+" names"),
				logging.String(logging.FieldErrorHint, "check that the server is running with --api"),
			)
			continue
		}
		fetched[f.kind] = dedupe(names)
	}
	err := errors.Join(errs...)

	c.mu.Lock()
	next := c.current.Clone()
	if names, ok := fetched[KindUpscaler]; ok {
		next.Upscalers = names
	}
	if names, ok := fetched[KindModel]; ok {
		next.Models = names
	}
	if names, ok := fetched[KindSampler]; ok {
		next.Samplers = names
	}
	if names, ok := fetched[KindScheduler]; ok {
		next.Schedulers = names
	}
	if len(fetched) > 0 {
		next.RefreshedAt = c.now()
	}
	c.current = next
	c.lastErr = err
	snapshot := next.Clone()
	c.mu.Unlock()

	c.logger.Info("options refreshed",
		logging.String(logging.FieldEventType, "options_refreshed"),
		logging.Int("upscalers", len(snapshot.Upscalers)),
		logging.Int("models", len(snapshot.Models)),
		logging.Int("samplers", len(snapshot.Samplers)),
		logging.Int("schedulers", len(snapshot.Schedulers)),
		logging.Bool("partial", err != nil),
	)
	return snapshot, err
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
