package queue

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"finisher/internal/pipeline"
)

// Kind identifies the processing recipe a job runs.
type Kind string

// KindTwoPassUpscale is the only recipe: an img2img tiled upscale followed by
// a post-processing resize that the server saves.
const KindTwoPassUpscale Kind = "two_pass_upscale"

// Job is one user-requested upscale and its lifecycle.
type Job struct {
	ID          string
	Kind        Kind
	Status      Status
	Description string
	BatchID     string
	Config      pipeline.ProcessingConfig
	// Image is the base64-encoded source payload. Clone drops it.
	Image      string
	ImageBytes int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Pass1SubmittedAt and Pass2SubmittedAt are recorded immediately before
	// each pass's request is sent.
	Pass1SubmittedAt time.Time
	Pass2SubmittedAt time.Time
	// InterruptAckedAt is set once the server accepted our interrupt. Only
	// idle readings fetched after it confirm the cancellation.
	InterruptAckedAt time.Time
	// InterruptedRemotely marks a running job that the server reported as
	// interrupted without a local cancel. Pass 2 never runs on its output.
	InterruptedRemotely bool

	Progress      float64
	ETA           time.Duration
	Substitutions []pipeline.Substitution

	ErrorKind    string
	ErrorMessage string
}

// NewJobID builds an identifier of the form job_YYYYMMDD_HHMMSS_<8 hex>.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "job_" + now.Format("20060102_150405") + "_" + suffix
}

// NewJob constructs a queued job.
func NewJob(now time.Time, image string, cfg pipeline.ProcessingConfig, description string) *Job {
	return &Job{
		ID:          NewJobID(now),
		Kind:        KindTwoPassUpscale,
		Status:      StatusQueued,
		Description: strings.TrimSpace(description),
		Config:      cfg,
		Image:       image,
		ImageBytes:  len(image),
		CreatedAt:   now,
	}
}

// Transition moves the job to a new status, stamping start and completion
// times. Illegal moves return ErrInvalidTransition and leave the job untouched.
func (j *Job) Transition(to Status, now time.Time) error {
	if err := checkTransition(j.Status, to); err != nil {
		return err
	}
	j.Status = to
	switch {
	case to == StatusRunningPass1:
		j.StartedAt = now
		j.Progress = 0
	case to.IsTerminal():
		j.CompletedAt = now
		j.ETA = 0
		if to == StatusCompleted {
			j.Progress = 1
		}
		// The payload is never needed again once a job is terminal.
		j.Image = ""
	}
	return nil
}

// Fail moves the job to failed and records the error summary.
func (j *Job) Fail(kind, message string, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.ErrorMessage = strings.TrimSpace(message)
	return nil
}

// SubmittedAt returns the submission time of the pass the job is in.
func (j *Job) SubmittedAt() time.Time {
	switch j.Status {
	case StatusRunningPass2:
		return j.Pass2SubmittedAt
	case StatusRunningPass1:
		return j.Pass1SubmittedAt
	case StatusCancelling:
		if !j.Pass2SubmittedAt.IsZero() {
			return j.Pass2SubmittedAt
		}
		return j.Pass1SubmittedAt
	default:
		return time.Time{}
	}
}

// Duration reports how long the job ran, or zero if it never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(j.StartedAt)
}

// Clone returns a copy safe to hand to observers. The image payload is
// omitted.
func (j *Job) Clone() Job {
	if j == nil {
		return Job{}
	}
	cp := *j
	cp.Image = ""
	if len(j.Substitutions) > 0 {
		cp.Substitutions = append([]pipeline.Substitution(nil), j.Substitutions...)
	}
	return cp
}
