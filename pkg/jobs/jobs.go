package jobs

import (
	"context"
	"time"
)

// Priority names one of the five fixed queues
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PriorityBulk     Priority = "bulk"
)

// priorityOrder is the strict selection order on every dispatch tick
var priorityOrder = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityBulk,
}

// BackoffType selects the retry delay curve
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffLinear      BackoffType = "linear"
	BackoffExponential BackoffType = "exponential"
)

// RetryConfig is the per-job retry policy
type RetryConfig struct {
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     BackoffType   `json:"backoff"`
	BaseDelay   time.Duration `json:"baseDelay"`
	MaxDelay    time.Duration `json:"maxDelay"`
	Jitter      bool          `json:"jitter"`
}

// DefaultRetry is applied when a job carries no retry policy
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	Backoff:     BackoffExponential,
	BaseDelay:   time.Second,
	MaxDelay:    time.Minute,
	Jitter:      true,
}

// ScheduleType selects how a schedule fires
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// Schedule submits the job on a timer instead of immediately
type Schedule struct {
	Type     ScheduleType  `json:"type"`
	At       time.Time     `json:"at,omitempty"`       // once
	Interval time.Duration `json:"interval,omitempty"` // interval
	Cron     string        `json:"cron,omitempty"`     // cron expression
}

// Job is one unit of background work; Type names a registered processor
type Job struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Priority     Priority       `json:"priority"`
	Data         map[string]any `json:"data,omitempty"`
	Delay        time.Duration  `json:"delay,omitempty"`
	Schedule     *Schedule      `json:"schedule,omitempty"`
	Retry        *RetryConfig   `json:"retryConfig,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"` // 0 = queue default
	Dependencies []string       `json:"dependencies,omitempty"`
}

// ExecutionStatus is the state of one run
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecRetrying  ExecutionStatus = "retrying"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecPaused    ExecutionStatus = "paused"
	ExecScheduled ExecutionStatus = "scheduled"
)

// ExecutionMetrics carries timing facts about one run
type ExecutionMetrics struct {
	QueuedAt    time.Time     `json:"queuedAt"`
	QueueWait   time.Duration `json:"queueWait"`
	RunDuration time.Duration `json:"runDuration"`
}

// Execution is the handle for one run of a job. Processors receive it and
// may watch Done() to honor cancellation.
type Execution struct {
	ID          string           `json:"id"`
	JobID       string           `json:"jobId"`
	Attempt     int              `json:"attempt"`
	Status      ExecutionStatus  `json:"status"`
	StartedAt   time.Time        `json:"startedAt,omitempty"`
	CompletedAt time.Time        `json:"completedAt,omitempty"`
	Error       string           `json:"error,omitempty"`
	Metrics     ExecutionMetrics `json:"metrics"`

	nextEligible time.Time
	cancel       context.CancelFunc
	done         chan struct{}
}

// Done is closed when the execution is cancelled; cooperative processors
// select on it
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Processor executes one job attempt. Returning nil completes the execution;
// an error consults the retry policy.
type Processor func(ctx context.Context, job *Job, exec *Execution) error
