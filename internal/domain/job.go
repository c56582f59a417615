package domain

import "time"

// JobDescriptor is one crawl request as accepted by the scheduler. A
// descriptor is immutable once enqueued; the launcher consumes it as-is.
type JobDescriptor struct {
	Project  string            `json:"project"`
	Spider   string            `json:"spider"`
	JobID    string            `json:"id"`
	Settings Settings          `json:"settings,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	Version  string            `json:"version,omitempty"`
}

// Job is the runtime and historical record of one spider invocation. For
// running jobs EndTime is zero and ExitCode is meaningless; for finished
// jobs ExitCode is the process exit status, or -1 when the process was
// killed by a signal or never started.
type Job struct {
	Project   string    `json:"project"`
	Spider    string    `json:"spider"`
	ID        string    `json:"id"`
	PID       int       `json:"pid,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	ExitCode  int       `json:"exit_code"`
	LogURL    string    `json:"log_url,omitempty"`
	ItemsURL  string    `json:"items_url,omitempty"`
}
