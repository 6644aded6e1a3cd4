// Package pipeline runs one job through the two server passes.
//
// Pass 1 sends the source image to img2img with the "SD upscale" script and
// returns the intermediate image. Pass 2 sends that image to
// extra-single-image with save_images=true so the server persists the result;
// its reply is discarded. A failed Pass 1 means Pass 2 is never attempted, and
// nothing is rolled back when Pass 2 fails.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"finisher/internal/catalog"
	"finisher/internal/logging"
	"finisher/internal/services"
	"finisher/internal/services/a1111"
)

const (
	// ScriptName is the img2img script that performs the tiled upscale.
	ScriptName = "SD upscale"

	passOne = "pass1"
	passTwo = "pass2"
)

// ErrCancelled is returned by Run when the cancellation check fires at a pass
// boundary.
var ErrCancelled = errors.New("job cancelled")

// Gateway is the subset of the server client the pipeline needs.
type Gateway interface {
	Img2Img(ctx context.Context, req a1111.Img2ImgRequest) (a1111.Img2ImgResponse, error)
	ExtraSingleImage(ctx context.Context, req a1111.ExtraSingleImageRequest) (a1111.ExtraSingleImageResponse, error)
}

// OptionsProvider supplies the last known valid option names.
type OptionsProvider interface {
	Options() catalog.Options
}

// Fallbacks are the names substituted when a requested option is unknown.
type Fallbacks struct {
	Upscaler      string
	Sampler       string
	Scheduler     string
	FinalUpscaler string
}

// Task is the input for one run.
type Task struct {
	JobID  string
	Image  string
	Config ProcessingConfig
}

// Hooks let the caller observe and steer a run. Nil hooks are skipped.
type Hooks struct {
	// SubmittedPass1 and SubmittedPass2 receive the time recorded just
	// before each request is sent.
	SubmittedPass1 func(time.Time)
	SubmittedPass2 func(time.Time)
	// Cancelled is consulted at pass boundaries.
	Cancelled func() bool
	// EnterPassTwo moves the job into its second pass. An error aborts the
	// run before Pass 2 is sent.
	EnterPassTwo func() error
}

// Result summarizes a successful run.
type Result struct {
	Config        ProcessingConfig
	Substitutions []Substitution
}

// Pipeline executes two-pass jobs against a Gateway.
type Pipeline struct {
	gateway   Gateway
	options   OptionsProvider
	fallbacks Fallbacks
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes the pipeline.
type Option func(*Pipeline)

// WithClock overrides the clock used for submission timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs a pipeline. options may be nil, which disables name checks.
func New(gateway Gateway, options OptionsProvider, fallbacks Fallbacks, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway:   gateway,
		options:   options,
		fallbacks: fallbacks,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare validates cfg and swaps unknown option names for their fallbacks.
// It fails with services.ErrValidation when a fallback is unknown too.
func (p *Pipeline) Prepare(cfg ProcessingConfig) (ProcessingConfig, []Substitution, error) {
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	var opts catalog.Options
	if p.options != nil {
		opts = p.options.Options()
	}

	var subs []Substitution
	resolve := func(kind catalog.Kind, field, requested, fallback string) (string, error) {
		if name, ok := opts.Resolve(kind, requested); ok {
			return name, nil
		}
		if name, ok := opts.Resolve(kind, fallback); ok && strings.TrimSpace(fallback) != "" {
			subs = append(subs, Substitution{Field: field, Requested: requested, Used: name})
			return name, nil
		}
		return "", services.Wrap(services.ErrValidation, "pipeline", "resolve "+field,
			"unknown "+field+" "+strconv.Quote(requested)+" and fallback "+strconv.Quote(fallback)+" is not available", nil)
	}

	var err error
	if cfg.Upscaler, err = resolve(catalog.KindUpscaler, "upscaler", cfg.Upscaler, p.fallbacks.Upscaler); err != nil {
		return cfg, subs, err
	}
	if cfg.FinalUpscaler, err = resolve(catalog.KindUpscaler, "final_upscaler", cfg.FinalUpscaler, p.fallbacks.FinalUpscaler); err != nil {
		return cfg, subs, err
	}
	if cfg.Sampler, err = resolve(catalog.KindSampler, "sampler", cfg.Sampler, p.fallbacks.Sampler); err != nil {
		return cfg, subs, err
	}
	if strings.TrimSpace(cfg.Scheduler) != "" {
		if cfg.Scheduler, err = resolve(catalog.KindScheduler, "scheduler", cfg.Scheduler, p.fallbacks.Scheduler); err != nil {
			return cfg, subs, err
		}
	}
	return cfg, subs, nil
}

// RunPassOne submits the source image and returns the intermediate image.
func (p *Pipeline) RunPassOne(ctx context.Context, task Task, onSubmit func(time.Time)) (string, error) {
	if strings.TrimSpace(task.Image) == "" {
		return "", services.Wrap(services.ErrValidation, passOne, "img2img", "source image is empty", nil)
	}
	cfg := task.Config
	req := a1111.Img2ImgRequest{
		InitImages:        []string{task.Image},
		Prompt:            cfg.Prompt,
		NegativePrompt:    cfg.NegativePrompt,
		ScriptName:        ScriptName,
		ScriptArgs:        []any{"", cfg.TileOverlap, cfg.Upscaler, cfg.ScaleFactor},
		DenoisingStrength: cfg.DenoisingStrength,
		Steps:             cfg.Steps,
		SamplerName:       cfg.Sampler,
		Scheduler:         cfg.Scheduler,
		CFGScale:          cfg.CFGScale,
		Width:             cfg.Width,
		Height:            cfg.Height,
		BatchSize:         1,
		SaveImages:        false,
	}

	ctx = services.WithPass(ctx, passOne)
	logger := logging.WithContext(ctx, p.logger)
	submitted := p.now()
	if onSubmit != nil {
		onSubmit(submitted)
	}
	logger.Info("pass 1 submitted",
		logging.String(logging.FieldEventType, "pass_submitted"),
		logging.String("upscaler", cfg.Upscaler),
		logging.Float64("scale_factor", cfg.ScaleFactor),
		logging.Float64("denoising_strength", cfg.DenoisingStrength),
	)

	resp, err := p.gateway.Img2Img(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Images) == 0 || strings.TrimSpace(resp.Images[0]) == "" {
		return "", services.Wrap(services.ErrServer, passOne, "img2img", "server returned no images", nil)
	}
	logger.Info("pass 1 finished",
		logging.String(logging.FieldEventType, "pass_finished"),
		logging.Duration("elapsed", p.now().Sub(submitted)),
	)
	return resp.Images[0], nil
}

// RunPassTwo submits the intermediate image for the final resize. The server
// saves the output; the returned payload is dropped.
func (p *Pipeline) RunPassTwo(ctx context.Context, task Task, intermediate string, onSubmit func(time.Time)) error {
	if strings.TrimSpace(intermediate) == "" {
		return services.Wrap(services.ErrValidation, passTwo, "extra-single-image", "intermediate image is empty", nil)
	}
	req := a1111.ExtraSingleImageRequest{
		Image:           intermediate,
		UpscalingResize: task.Config.FinalScale,
		Upscaler1:       task.Config.FinalUpscaler,
		SaveImages:      true,
	}

	ctx = services.WithPass(ctx, passTwo)
	logger := logging.WithContext(ctx, p.logger)
	submitted := p.now()
	if onSubmit != nil {
		onSubmit(submitted)
	}
	logger.Info("pass 2 submitted",
		logging.String(logging.FieldEventType, "pass_submitted"),
		logging.Float64("upscaling_resize", req.UpscalingResize),
		logging.String("upscaler", req.Upscaler1),
	)

	if _, err := p.gateway.ExtraSingleImage(ctx, req); err != nil {
		return err
	}
	logger.Info("pass 2 finished",
		logging.String(logging.FieldEventType, "pass_finished"),
		logging.Duration("elapsed", p.now().Sub(submitted)),
	)
	return nil
}

// Run executes both passes. It returns ErrCancelled when hooks.Cancelled
// reports true at a pass boundary.
func (p *Pipeline) Run(ctx context.Context, task Task, hooks Hooks) (Result, error) {
	ctx = services.WithJobID(ctx, task.JobID)
	logger := logging.WithContext(ctx, p.logger)

	cfg, subs, err := p.Prepare(task.Config)
	result := Result{Config: cfg, Substitutions: subs}
	for _, sub := range subs {
		logging.WarnWithContext(logger, "option substituted", "option_substituted",
			logging.String("field", sub.Field),
			logging.String("requested", sub.Requested),
			logging.String("used", sub.Used),
			logging.String(logging.FieldImpact, "job runs with the fallback option"),
			logging.String(logging.FieldErrorHint, "run 'finisher options --refresh' to list valid names"),
		)
	}
	if err != nil {
		return result, err
	}
	task.Config = cfg

	if cancelled(hooks) {
		return result, ErrCancelled
	}
	intermediate, err := p.RunPassOne(ctx, task, hooks.SubmittedPass1)
	if err != nil {
		return result, err
	}
	if cancelled(hooks) {
		logger.Info("pass 2 skipped after cancellation", logging.String(logging.FieldEventType, "pass_skipped"))
		return result, ErrCancelled
	}
	if hooks.EnterPassTwo != nil {
		if err := hooks.EnterPassTwo(); err != nil {
			return result, err
		}
	}
	if err := p.RunPassTwo(ctx, task, intermediate, hooks.SubmittedPass2); err != nil {
		return result, err
	}
	return result, nil
}

func cancelled(h Hooks) bool {
	return h.Cancelled != nil && h.Cancelled()
}
