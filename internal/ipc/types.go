package ipc

import "finisher/internal/api"

// EnqueueRequest submits one image.
type EnqueueRequest struct {
	// Image is the base64-encoded source image.
	Image       string               `json:"image"`
	Description string               `json:"description"`
	Overrides   api.ProcessingConfig `json:"overrides"`
	// Explicit names override fields (json keys of the processing config)
	// to apply even when zero.
	Explicit []string `json:"explicit,omitempty"`
}

// EnqueueResponse returns the new job id and its FIFO position.
type EnqueueResponse struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// EnqueueBatchRequest submits several images under one batch id.
type EnqueueBatchRequest struct {
	Jobs []EnqueueRequest `json:"jobs"`
}

// EnqueueBatchResponse lists the created ids in submission order.
type EnqueueBatchResponse struct {
	BatchID string   `json:"batch_id"`
	IDs     []string `json:"ids"`
}

// CancelRequest cancels one job.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse reports the job after the cancel request was applied.
type CancelResponse struct {
	Job api.Job `json:"job"`
}

// InterruptRequest stops whatever the server is generating.
type InterruptRequest struct{}

// InterruptResponse reports whether a local job was affected.
type InterruptResponse struct {
	LocalJob bool `json:"local_job"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse = api.DaemonStatus

// JobsRequest filters the job listing by status.
type JobsRequest struct {
	Statuses []string `json:"statuses"`
}

// JobsResponse contains tracked jobs.
type JobsResponse = api.JobListResponse

// JobRequest fetches a single job by id.
type JobRequest struct {
	ID string `json:"id"`
}

// JobResponse wraps the job.
type JobResponse = api.JobResponse

// PauseRequest holds admission.
type PauseRequest struct{}

// ResumeRequest re-enables admission.
type ResumeRequest struct{}

// ToggleResponse reports whether the call changed the paused flag.
type ToggleResponse struct {
	Changed bool `json:"changed"`
}

// ClearFinishedRequest drops terminal jobs from memory.
type ClearFinishedRequest struct{}

// ClearFinishedResponse reports how many jobs were removed.
type ClearFinishedResponse struct {
	Removed int `json:"removed"`
}

// OptionsRequest fetches option names, optionally refreshing first.
type OptionsRequest struct {
	Refresh bool `json:"refresh"`
}

// OptionsResponse lists valid option names.
type OptionsResponse = api.Options

// EventsRequest fetches events after Since. Follow waits up to WaitMillis for
// new events when none are buffered.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// EventsResponse wraps a page of events.
type EventsResponse = api.EventStreamResponse

// HistoryRequest lists archived jobs.
type HistoryRequest struct {
	Limit  int    `json:"limit"`
	Status string `json:"status"`
}

// HistoryResponse wraps archived jobs.
type HistoryResponse = api.HistoryResponse

// LogTailRequest reads captured daemon log records.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	JobID      string `json:"job_id"`
}

// LogTailResponse wraps log records.
type LogTailResponse = api.LogStreamResponse

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
