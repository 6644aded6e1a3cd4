package a1111

import (
	"strings"
	"time"
)

// ServerTimestampLayout is the strftime %Y%m%d%H%M%S layout the server uses
// for state.job_timestamp.
const ServerTimestampLayout = "20060102150405"

// Img2ImgRequest is the payload for POST /sdapi/v1/img2img.
type Img2ImgRequest struct {
	InitImages        []string `json:"init_images"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt"`
	ScriptName        string   `json:"script_name,omitempty"`
	ScriptArgs        []any    `json:"script_args,omitempty"`
	DenoisingStrength float64  `json:"denoising_strength"`
	Steps             int      `json:"steps"`
	SamplerName       string   `json:"sampler_name"`
	Scheduler         string   `json:"scheduler,omitempty"`
	CFGScale          float64  `json:"cfg_scale"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	BatchSize         int      `json:"batch_size"`
	SaveImages        bool     `json:"save_images"`
}

// Img2ImgResponse carries the generated images as base64 strings.
type Img2ImgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info,omitempty"`
}

// ExtraSingleImageRequest is the payload for POST /sdapi/v1/extra-single-image.
type ExtraSingleImageRequest struct {
	Image           string  `json:"image"`
	UpscalingResize float64 `json:"upscaling_resize"`
	Upscaler1       string  `json:"upscaler_1"`
	SaveImages      bool    `json:"save_images"`
}

// ExtraSingleImageResponse is returned by the post-processing endpoint.
type ExtraSingleImageResponse struct {
	Image    string `json:"image"`
	HTMLInfo string `json:"html_info,omitempty"`
}

// ProgressSnapshot is one point-in-time reading of server activity. It is
// never mutated after construction.
type ProgressSnapshot struct {
	Progress           float64       `json:"progress"`
	ETA                time.Duration `json:"eta,omitempty"`
	ServerTimestamp    time.Time     `json:"server_timestamp,omitzero"`
	RawTimestamp       string        `json:"raw_timestamp,omitempty"`
	Interrupted        bool          `json:"interrupted,omitempty"`
	Skipped            bool          `json:"skipped,omitempty"`
	StoppingGeneration bool          `json:"stopping_generation,omitempty"`
	JobCount           int           `json:"job_count,omitempty"`
	JobNo              int           `json:"job_no,omitempty"`
	SamplingStep       int           `json:"sampling_step,omitempty"`
	SamplingSteps      int           `json:"sampling_steps,omitempty"`
	TextInfo           string        `json:"textinfo,omitempty"`
	FetchedAt          time.Time     `json:"fetched_at"`
}

// Idle reports whether the server reported no activity.
func (s ProgressSnapshot) Idle() bool {
	return s.Progress == 0
}

// HasServerTimestamp reports whether the batch timestamp could be parsed.
func (s ProgressSnapshot) HasServerTimestamp() bool {
	return !s.ServerTimestamp.IsZero()
}

type progressResponse struct {
	Progress    float64 `json:"progress"`
	ETARelative float64 `json:"eta_relative"`
	State       struct {
		Skipped            bool   `json:"skipped"`
		Interrupted        bool   `json:"interrupted"`
		StoppingGeneration bool   `json:"stopping_generation"`
		JobCount           int    `json:"job_count"`
		JobNo              int    `json:"job_no"`
		JobTimestamp       string `json:"job_timestamp"`
		SamplingStep       int    `json:"sampling_step"`
		SamplingSteps      int    `json:"sampling_steps"`
	} `json:"state"`
	TextInfo *string `json:"textinfo"`
}

func (r progressResponse) snapshot(fetchedAt time.Time, loc *time.Location) ProgressSnapshot {
	progress := r.Progress
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	snap := ProgressSnapshot{
		Progress:           progress,
		RawTimestamp:       strings.TrimSpace(r.State.JobTimestamp),
		Interrupted:        r.State.Interrupted,
		Skipped:            r.State.Skipped,
		StoppingGeneration: r.State.StoppingGeneration,
		JobCount:           r.State.JobCount,
		JobNo:              r.State.JobNo,
		SamplingStep:       r.State.SamplingStep,
		SamplingSteps:      r.State.SamplingSteps,
		FetchedAt:          fetchedAt,
	}
	if r.ETARelative > 0 {
		snap.ETA = time.Duration(r.ETARelative * float64(time.Second))
	}
	if r.TextInfo != nil {
		snap.TextInfo = strings.TrimSpace(*r.TextInfo)
	}
	snap.ServerTimestamp = ParseServerTimestamp(snap.RawTimestamp, loc)
	return snap
}

// ParseServerTimestamp parses a job_timestamp value. The zero time is
// returned when the value is absent or malformed.
func ParseServerTimestamp(value string, loc *time.Location) time.Time {
	value = strings.TrimSpace(value)
	if len(value) != len(ServerTimestampLayout) {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.ParseInLocation(ServerTimestampLayout, value, loc)
	if err != nil {
		return time.Time{}
	}
	return ts
}

type namedOption struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

func optionNames(items []namedOption, preferTitle bool) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if preferTitle || name == "" {
			if title := strings.TrimSpace(item.Title); title != "" {
				name = title
			}
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
