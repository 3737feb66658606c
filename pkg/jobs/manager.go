package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/ids"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/metrics"
)

// dispatchInterval is how often the dispatcher scans the queues
const dispatchInterval = 100 * time.Millisecond

// queued is one pending execution waiting in a queue, FIFO by enqueue time
type queued struct {
	job  *Job
	exec *Execution
}

// queue is one of the five fixed priority lanes
type queue struct {
	name     Priority
	cfg      config.QueueConfig
	pending  []*queued
	running  int
	paused   bool
	tokens   float64
	refilled time.Time
}

// takeToken enforces the per-queue rate limit with a refilling token bucket
func (q *queue) takeToken(now time.Time) bool {
	if q.cfg.RateLimitPerSecond <= 0 {
		return true
	}
	limit := float64(q.cfg.RateLimitPerSecond)
	q.tokens += now.Sub(q.refilled).Seconds() * limit
	if q.tokens > limit {
		q.tokens = limit
	}
	q.refilled = now
	if q.tokens < 1 {
		return false
	}
	q.tokens--
	return true
}

// Manager runs background jobs across five priority queues. Higher priority
// strictly dominates: a bulk job waits as long as any critical job is
// runnable, regardless of age.
type Manager struct {
	mu         sync.Mutex
	queues     map[Priority]*queue
	processors map[string]Processor
	jobs       map[string]*Job
	executions map[string]*Execution
	timers     map[string]*time.Timer
	completed  map[string]bool

	cfg    config.JobsConfig
	broker *events.Broker
	logger zerolog.Logger

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewManager builds a stopped manager; call Start to begin dispatching
func NewManager(cfg config.JobsConfig, broker *events.Broker) *Manager {
	m := &Manager{
		queues:     make(map[Priority]*queue, len(priorityOrder)),
		processors: make(map[string]Processor),
		jobs:       make(map[string]*Job),
		executions: make(map[string]*Execution),
		timers:     make(map[string]*time.Timer),
		completed:  make(map[string]bool),
		cfg:        cfg,
		broker:     broker,
		logger:     log.WithComponent("jobs"),
	}
	now := time.Now()
	for pri, qc := range map[Priority]config.QueueConfig{
		PriorityCritical: cfg.Critical,
		PriorityHigh:     cfg.High,
		PriorityNormal:   cfg.Normal,
		PriorityLow:      cfg.Low,
		PriorityBulk:     cfg.Bulk,
	} {
		m.queues[pri] = &queue{name: pri, cfg: qc, refilled: now}
	}
	return m
}

// RegisterProcessor installs the handler for a job type. Submitting a job
// with no processor fails immediately.
func (m *Manager) RegisterProcessor(jobType string, p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processors[jobType] = p
}

// Start launches the dispatch loop
func (m *Manager) Start() {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.dispatchLoop()
	m.logger.Info().Int("queues", len(m.queues)).Msg("Job manager started")
}

// Submit enqueues a job. Delayed and scheduled jobs are armed on a timer and
// enter their queue when it fires.
func (m *Manager) Submit(job *Job) (*Execution, error) {
	if job.Type == "" {
		return nil, fmt.Errorf("job type is required")
	}
	if job.ID == "" {
		job.ID = ids.New("job")
	}
	if job.Priority == "" {
		job.Priority = PriorityNormal
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, fmt.Errorf("job manager is shut down")
	}
	if _, ok := m.processors[job.Type]; !ok {
		return nil, fmt.Errorf("no processor registered for job type %q", job.Type)
	}
	if _, ok := m.queues[job.Priority]; !ok {
		return nil, fmt.Errorf("unknown priority %q", job.Priority)
	}
	m.jobs[job.ID] = job

	if job.Schedule != nil {
		if err := m.armSchedule(job); err != nil {
			delete(m.jobs, job.ID)
			return nil, err
		}
		exec := m.newExecution(job, 1)
		exec.Status = ExecScheduled
		return exec, nil
	}
	if job.Delay > 0 {
		exec := m.newExecution(job, 1)
		exec.Status = ExecScheduled
		jobID := job.ID
		m.timers[jobID] = time.AfterFunc(job.Delay, func() {
			m.fire(jobID)
		})
		return exec, nil
	}
	return m.enqueueLocked(job, 1), nil
}

// armSchedule installs the timer for a once, interval or cron schedule.
// Caller holds the lock.
func (m *Manager) armSchedule(job *Job) error {
	jobID := job.ID
	switch job.Schedule.Type {
	case ScheduleOnce:
		delay := time.Until(job.Schedule.At)
		if delay < 0 {
			delay = 0
		}
		m.timers[jobID] = time.AfterFunc(delay, func() {
			m.fire(jobID)
		})
	case ScheduleInterval:
		if job.Schedule.Interval <= 0 {
			return fmt.Errorf("schedule interval must be positive")
		}
		m.timers[jobID] = time.AfterFunc(job.Schedule.Interval, func() {
			m.fire(jobID)
			m.rearmInterval(jobID)
		})
	case ScheduleCron:
		sched, err := cron.ParseStandard(job.Schedule.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", job.Schedule.Cron, err)
		}
		m.armCron(jobID, sched)
	default:
		return fmt.Errorf("unknown schedule type %q", job.Schedule.Type)
	}
	return nil
}

func (m *Manager) rearmInterval(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.stopped || job.Schedule == nil {
		return
	}
	m.timers[jobID] = time.AfterFunc(job.Schedule.Interval, func() {
		m.fire(jobID)
		m.rearmInterval(jobID)
	})
}

// armCron installs the timer for the next cron firing. Caller holds the lock.
func (m *Manager) armCron(jobID string, sched cron.Schedule) {
	next := sched.Next(time.Now())
	m.timers[jobID] = time.AfterFunc(time.Until(next), func() {
		m.fire(jobID)
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.jobs[jobID]; ok && !m.stopped {
			m.armCron(jobID, sched)
		}
	})
}

// fire moves a timer-armed job into its queue
func (m *Manager) fire(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || m.stopped {
		return
	}
	m.enqueueLocked(job, 1)
}

// newExecution builds and tracks an execution handle. Caller holds the lock.
func (m *Manager) newExecution(job *Job, attempt int) *Execution {
	exec := &Execution{
		ID:      ids.Execution(),
		JobID:   job.ID,
		Attempt: attempt,
		Status:  ExecPending,
		Metrics: ExecutionMetrics{QueuedAt: time.Now()},
		done:    make(chan struct{}),
	}
	m.executions[exec.ID] = exec
	return exec
}

// enqueueLocked appends a fresh execution to the job's queue
func (m *Manager) enqueueLocked(job *Job, attempt int) *Execution {
	exec := m.newExecution(job, attempt)
	q := m.queues[job.Priority]
	q.pending = append(q.pending, &queued{job: job, exec: exec})
	metrics.JobsPending.WithLabelValues(string(job.Priority)).Inc()
	return exec
}

// dispatchLoop scans the queues in priority order on a fixed tick and starts
// every execution that fits under its queue's concurrency and rate caps
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.dispatch()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) dispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, pri := range priorityOrder {
		q := m.queues[pri]
		if q.paused {
			continue
		}
		for q.running < q.cfg.MaxConcurrency && len(q.pending) > 0 {
			idx := m.nextRunnable(q, now)
			if idx < 0 {
				break
			}
			if !q.takeToken(now) {
				break
			}
			item := q.pending[idx]
			q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
			q.running++
			metrics.JobsPending.WithLabelValues(string(pri)).Dec()
			metrics.JobsRunning.WithLabelValues(string(pri)).Inc()
			m.wg.Add(1)
			go m.run(q, item)
		}
	}
}

// nextRunnable returns the index of the oldest pending execution whose
// retry delay has elapsed and whose dependencies have all completed.
// Caller holds the lock.
func (m *Manager) nextRunnable(q *queue, now time.Time) int {
	for i, item := range q.pending {
		if now.Before(item.exec.nextEligible) {
			continue
		}
		if !m.dependenciesMet(item.job) {
			continue
		}
		return i
	}
	return -1
}

func (m *Manager) dependenciesMet(job *Job) bool {
	for _, dep := range job.Dependencies {
		if !m.completed[dep] {
			return false
		}
	}
	return true
}

// run executes one attempt and resolves its outcome
func (m *Manager) run(q *queue, item *queued) {
	defer m.wg.Done()

	exec := item.exec

	m.mu.Lock()
	proc := m.processors[item.job.Type]
	exec.Status = ExecRunning
	exec.StartedAt = time.Now()
	exec.Metrics.QueueWait = exec.StartedAt.Sub(exec.Metrics.QueuedAt)
	timeout := item.job.Timeout
	if timeout <= 0 {
		timeout = time.Duration(q.cfg.DefaultTimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	exec.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	err := proc(ctx, item.job, exec)

	m.mu.Lock()
	defer m.mu.Unlock()
	exec.CompletedAt = time.Now()
	exec.Metrics.RunDuration = exec.CompletedAt.Sub(exec.StartedAt)
	q.running--
	metrics.JobsRunning.WithLabelValues(string(q.name)).Dec()

	if exec.Status == ExecCancelled {
		return
	}
	if err == nil {
		exec.Status = ExecCompleted
		m.completed[item.job.ID] = true
		metrics.JobsCompleted.WithLabelValues(string(q.name), "completed").Inc()
		m.broker.Publish(&events.Event{
			Type: events.EventJobCompleted,
			Metadata: map[string]string{
				"job_id":       item.job.ID,
				"job_type":     item.job.Type,
				"execution_id": exec.ID,
			},
		})
		return
	}

	retry := DefaultRetry
	if item.job.Retry != nil {
		retry = *item.job.Retry
	}
	if Recoverable(err) && exec.Attempt < retry.MaxAttempts {
		exec.Status = ExecRetrying
		exec.Error = err.Error()
		next := m.enqueueLocked(item.job, exec.Attempt+1)
		next.nextEligible = time.Now().Add(BackoffDelay(retry, exec.Attempt))
		m.logger.Warn().Err(err).
			Str("job_id", item.job.ID).
			Int("attempt", exec.Attempt).
			Time("next_attempt", next.nextEligible).
			Msg("Job attempt failed, retrying")
		return
	}

	exec.Status = ExecFailed
	exec.Error = err.Error()
	metrics.JobsCompleted.WithLabelValues(string(q.name), "failed").Inc()
	m.logger.Error().Err(err).
		Str("job_id", item.job.ID).
		Str("job_type", item.job.Type).
		Int("attempt", exec.Attempt).
		Msg("Job failed permanently")
	m.broker.Publish(&events.Event{
		Type:    events.EventJobFailed,
		Message: err.Error(),
		Metadata: map[string]string{
			"job_id":   item.job.ID,
			"job_type": item.job.Type,
		},
	})
}

// Cancel stops a job: its timer is disarmed, pending executions are removed
// from their queue and a running execution gets its cancellation signal.
// Running processors that ignore the signal finish naturally.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if t, ok := m.timers[jobID]; ok {
		t.Stop()
		delete(m.timers, jobID)
	}

	q := m.queues[job.Priority]
	kept := q.pending[:0]
	for _, item := range q.pending {
		if item.job.ID == jobID {
			item.exec.Status = ExecCancelled
			metrics.JobsPending.WithLabelValues(string(job.Priority)).Dec()
			continue
		}
		kept = append(kept, item)
	}
	q.pending = kept

	for _, exec := range m.executions {
		if exec.JobID == jobID && exec.Status == ExecRunning {
			exec.Status = ExecCancelled
			close(exec.done)
			if exec.cancel != nil {
				exec.cancel()
			}
		}
	}
	delete(m.jobs, jobID)
	return nil
}

// Pause stops dispatching from one queue; running executions are unaffected
func (m *Manager) Pause(pri Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[pri]
	if !ok {
		return fmt.Errorf("unknown priority %q", pri)
	}
	q.paused = true
	m.logger.Info().Str("queue", string(pri)).Msg("Queue paused")
	return nil
}

// Resume re-enables dispatching from a paused queue
func (m *Manager) Resume(pri Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[pri]
	if !ok {
		return fmt.Errorf("unknown priority %q", pri)
	}
	q.paused = false
	m.logger.Info().Str("queue", string(pri)).Msg("Queue resumed")
	return nil
}

// Execution returns the tracked handle for an execution id
func (m *Manager) Execution(id string) (*Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	return exec, ok
}

// Shutdown stops dispatching, disarms every timer and waits for running
// executions up to the configured grace period
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	close(m.stopCh)

	grace := time.Duration(m.cfg.ShutdownGraceSeconds) * time.Second
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info().Msg("Job manager stopped")
	case <-time.After(grace):
		m.logger.Warn().Dur("grace", grace).Msg("Job manager shutdown grace elapsed with executions still running")
	}
}
