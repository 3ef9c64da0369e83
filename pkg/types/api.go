package types

// Job states reported in JobStatus.State and StepStatus.State.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateSkipped   = "skipped"
)

// StepStatus summarizes one pipeline step.
type StepStatus struct {
	// Step name.
	// example: evaluate
	Name string `json:"name" example:"evaluate"`
	// One of pending, running, succeeded, failed, skipped.
	// example: running
	State string `json:"state" example:"running"`
	// Start time (unix seconds); zero when the step never started.
	StartedUnix int64 `json:"started_unix,omitempty"`
	// Wall time spent in the step, in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`
	// Failure message, if any.
	Error string `json:"error,omitempty"`
}

// UploadStatus reports the background upload of a merged model.
type UploadStatus struct {
	// Target hub repository.
	// example: my-org/llama-merged
	RepoID string `json:"repo_id" example:"my-org/llama-merged"`
	State  string `json:"state"`
	// Repository URL once the upload finished.
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// JobStatus is returned by GET /status.
type JobStatus struct {
	// Overall state of the run.
	// example: running
	State string `json:"state" example:"running"`
	// Name of the step currently executing.
	CurrentStep string `json:"current_step,omitempty"`
	// Model identifier as given on the command line.
	// example: s3://bucket/checkpoints/run-1
	ModelID string `json:"model_id" example:"s3://bucket/checkpoints/run-1"`
	// Local path handed to the evaluation harness.
	ModelPath string `json:"model_path,omitempty"`
	// Evaluation tasks, split for display only.
	Tasks []string `json:"tasks"`
	// Notification address accepted on the command line.
	Email string `json:"email,omitempty"`
	Steps []StepStatus `json:"steps"`
	// Present only when an upload was requested.
	Upload *UploadStatus `json:"upload,omitempty"`
	// Last error observed.
	Error        string `json:"error,omitempty"`
	StartedUnix  int64  `json:"started_unix"`
	FinishedUnix int64  `json:"finished_unix,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: not found
	Error string `json:"error" example:"not found"`
	// example: 404
	Code int `json:"code" example:"404"`
}
