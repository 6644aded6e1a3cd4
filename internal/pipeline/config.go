package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"finisher/internal/config"
	"finisher/internal/services"
)

// ProcessingConfig holds every parameter of a two-pass job. It is copied into
// the job at enqueue time and never changes after the job starts.
type ProcessingConfig struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Upscaler          string  `json:"upscaler" validate:"required"`
	ScaleFactor       float64 `json:"scale_factor" validate:"gte=1,lte=8"`
	DenoisingStrength float64 `json:"denoising_strength" validate:"gte=0,lte=1"`
	TileOverlap       int     `json:"tile_overlap" validate:"gte=0,lte=512"`
	Steps             int     `json:"steps" validate:"gte=1,lte=150"`
	Sampler           string  `json:"sampler" validate:"required"`
	Scheduler         string  `json:"scheduler"`
	CFGScale          float64 `json:"cfg_scale" validate:"gt=0,lte=30"`
	Width             int     `json:"width" validate:"gte=64,lte=8192"`
	Height            int     `json:"height" validate:"gte=64,lte=8192"`
	FinalScale        float64 `json:"final_scale" validate:"gte=1,lte=8"`
	FinalUpscaler     string  `json:"final_upscaler" validate:"required"`
}

// Substitution records a requested option name that the server did not know
// and the name used in its place.
type Substitution struct {
	Field     string `json:"field"`
	Requested string `json:"requested"`
	Used      string `json:"used"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig derives job defaults from the processing section of the
// application config.
func DefaultConfig(p config.Processing) ProcessingConfig {
	return ProcessingConfig{
		Upscaler:          p.Upscaler,
		ScaleFactor:       p.ScaleFactor,
		DenoisingStrength: p.DenoisingStrength,
		TileOverlap:       p.TileOverlap,
		Steps:             p.Steps,
		Sampler:           p.Sampler,
		Scheduler:         p.Scheduler,
		CFGScale:          p.CFGScale,
		Width:             p.Width,
		Height:            p.Height,
		FinalScale:        p.FinalScale,
		FinalUpscaler:     p.FinalUpscaler,
	}
}

// Merge overlays the non-zero fields of override onto c. Numeric fields named
// in explicit (by their json key) are applied even when zero, so a caller can
// ask for denoising_strength 0 rather than the default.
func (c ProcessingConfig) Merge(override ProcessingConfig, explicit ...string) ProcessingConfig {
	out := c
	wanted := func(key string, nonZero bool) bool {
		return nonZero || slices.Contains(explicit, key)
	}
	if v := strings.TrimSpace(override.Prompt); v != "" {
		out.Prompt = v
	}
	if v := strings.TrimSpace(override.NegativePrompt); v != "" {
		out.NegativePrompt = v
	}
	if v := strings.TrimSpace(override.Upscaler); v != "" {
		out.Upscaler = v
	}
	if v := strings.TrimSpace(override.Sampler); v != "" {
		out.Sampler = v
	}
	if v := strings.TrimSpace(override.Scheduler); v != "" {
		out.Scheduler = v
	}
	if v := strings.TrimSpace(override.FinalUpscaler); v != "" {
		out.FinalUpscaler = v
	}
	if wanted("scale_factor", override.ScaleFactor != 0) {
		out.ScaleFactor = override.ScaleFactor
	}
	if wanted("denoising_strength", override.DenoisingStrength != 0) {
		out.DenoisingStrength = override.DenoisingStrength
	}
	if wanted("tile_overlap", override.TileOverlap != 0) {
		out.TileOverlap = override.TileOverlap
	}
	if wanted("steps", override.Steps != 0) {
		out.Steps = override.Steps
	}
	if wanted("cfg_scale", override.CFGScale != 0) {
		out.CFGScale = override.CFGScale
	}
	if wanted("width", override.Width != 0) {
		out.Width = override.Width
	}
	if wanted("height", override.Height != 0) {
		out.Height = override.Height
	}
	if wanted("final_scale", override.FinalScale != 0) {
		out.FinalScale = override.FinalScale
	}
	return out
}

// Validate checks ranges and required names. Errors are tagged
// services.ErrValidation.
func (c ProcessingConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			msg := fmt.Sprintf("%s fails %s", strings.ToLower(fe.Field()), fe.Tag())
			if fe.Param() != "" {
				msg += "=" + fe.Param()
			}
			return services.Wrap(services.ErrValidation, "pipeline", "validate config", msg, nil)
		}
		return services.Wrap(services.ErrValidation, "pipeline", "validate config", "", err)
	}
	return nil
}
