package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ProcessingConfig mirrors pipeline.ProcessingConfig. Zero fields mean "use
// the daemon default" when sent with an enqueue request.
type ProcessingConfig struct {
	Prompt            string  `json:"prompt,omitempty"`
	NegativePrompt    string  `json:"negativePrompt,omitempty"`
	Upscaler          string  `json:"upscaler,omitempty"`
	ScaleFactor       float64 `json:"scaleFactor,omitempty"`
	DenoisingStrength float64 `json:"denoisingStrength,omitempty"`
	TileOverlap       int     `json:"tileOverlap,omitempty"`
	Steps             int     `json:"steps,omitempty"`
	Sampler           string  `json:"sampler,omitempty"`
	Scheduler         string  `json:"scheduler,omitempty"`
	CFGScale          float64 `json:"cfgScale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	FinalScale        float64 `json:"finalScale,omitempty"`
	FinalUpscaler     string  `json:"finalUpscaler,omitempty"`
}

// Substitution records an option swapped for its fallback.
type Substitution struct {
	Field     string `json:"field"`
	Requested string `json:"requested"`
	Used      string `json:"used"`
}

// Job describes a job in a transport-friendly format.
type Job struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	Status        string           `json:"status"`
	Description   string           `json:"description,omitempty"`
	BatchID       string           `json:"batchId,omitempty"`
	Position      int              `json:"position"`
	Progress      float64          `json:"progress"`
	ETASeconds    float64          `json:"etaSeconds,omitempty"`
	ImageBytes    int              `json:"imageBytes"`
	Config        ProcessingConfig `json:"config"`
	Substitutions []Substitution   `json:"substitutions,omitempty"`
	ErrorKind     string           `json:"errorKind,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	CreatedAt     string           `json:"createdAt,omitempty"`
	StartedAt     string           `json:"startedAt,omitempty"`
	CompletedAt   string           `json:"completedAt,omitempty"`
	DurationMs    int64            `json:"durationMs,omitempty"`
}

// QueueState is a point-in-time copy of the queue.
type QueueState struct {
	Pending      []string `json:"pending"`
	ActiveID     string   `json:"activeId,omitempty"`
	ActiveStatus string   `json:"activeStatus,omitempty"`
	Paused       bool     `json:"paused"`
	Capacity     int      `json:"capacity"`
}

// Progress mirrors the last server progress reading.
type Progress struct {
	Progress        float64 `json:"progress"`
	ETASeconds      float64 `json:"etaSeconds,omitempty"`
	ServerTimestamp string  `json:"serverTimestamp,omitempty"`
	Interrupted     bool    `json:"interrupted,omitempty"`
	Skipped         bool    `json:"skipped,omitempty"`
	JobCount        int     `json:"jobCount,omitempty"`
	JobNo           int     `json:"jobNo,omitempty"`
	SamplingStep    int     `json:"samplingStep,omitempty"`
	SamplingSteps   int     `json:"samplingSteps,omitempty"`
	TextInfo        string  `json:"textInfo,omitempty"`
	FetchedAt       string  `json:"fetchedAt,omitempty"`
}

// BatchCounts tallies jobs sharing a batch id.
type BatchCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running   bool                   `json:"running"`
	LastError string                 `json:"lastError,omitempty"`
	Queue     QueueState             `json:"queue"`
	Counts    map[string]int         `json:"counts"`
	Batches   map[string]BatchCounts `json:"batches,omitempty"`
	Progress  *Progress              `json:"progress,omitempty"`
	Ownership string                 `json:"ownership,omitempty"`
}

// ServerStatus reports generation server reachability.
type ServerStatus struct {
	URL            string `json:"url"`
	Reachable      bool   `json:"reachable"`
	Detail         string `json:"detail,omitempty"`
	OptionsLoaded  bool   `json:"optionsLoaded"`
	OptionsRefresh string `json:"optionsRefreshedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockFilePath string         `json:"lockFilePath"`
	HistoryPath  string         `json:"historyPath,omitempty"`
	Workflow     WorkflowStatus `json:"workflow"`
	Server       ServerStatus   `json:"server"`
}

// Event is one controller event.
type Event struct {
	Sequence  uint64     `json:"seq"`
	Timestamp string     `json:"ts"`
	Kind      string     `json:"kind"`
	Job       *Job       `json:"job,omitempty"`
	Progress  *Progress  `json:"progress,omitempty"`
	Ownership string     `json:"ownership,omitempty"`
	Queue     QueueState `json:"queue"`
	Message   string     `json:"message,omitempty"`
}

// EventStreamResponse wraps a page of events and the cursor for the next call.
type EventStreamResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// HistoryEntry is an archived terminal job.
type HistoryEntry struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Description   string         `json:"description,omitempty"`
	BatchID       string         `json:"batchId,omitempty"`
	Upscaler      string         `json:"upscaler,omitempty"`
	ScaleFactor   float64        `json:"scaleFactor,omitempty"`
	FinalScale    float64        `json:"finalScale,omitempty"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
	ErrorKind     string         `json:"errorKind,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreatedAt     string         `json:"createdAt,omitempty"`
	CompletedAt   string         `json:"completedAt,omitempty"`
	DurationMs    int64          `json:"durationMs"`
}

// Options lists the names the generation server accepts.
type Options struct {
	Upscalers   []string `json:"upscalers"`
	Models      []string `json:"models"`
	Samplers    []string `json:"samplers"`
	Schedulers  []string `json:"schedulers"`
	RefreshedAt string   `json:"refreshedAt,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// HistoryResponse wraps archived jobs.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// LogEvent is one captured daemon log record.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     string            `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	JobID         string            `json:"jobId,omitempty"`
	Pass          string            `json:"pass,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse wraps log events and the cursor for the next call.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}
