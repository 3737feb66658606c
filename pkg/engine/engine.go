package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/metrics"
	"github.com/m00npl/guardant/pkg/probe"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

const (
	// networkTestTimeout bounds each connectivity probe in the sanity check
	networkTestTimeout = 3 * time.Second

	// shutdownGrace is how long in-flight probes may drain on shutdown
	shutdownGrace = 30 * time.Second
)

// Engine owns probe scheduling, the retry policy, result persistence and
// service status updates. One ticker goroutine runs per registered service;
// per-service ticks are dropped while a previous run is still in flight, and
// a global semaphore bounds engine-wide concurrency.
type Engine struct {
	store    storage.Store
	registry *probe.Registry
	broker   *events.Broker
	cfg      config.MonitoringConfig
	logger   zerolog.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	schedules map[string]context.CancelFunc // nestID/serviceID -> schedule cancel
	inflight  map[string]bool               // nestID/serviceID -> probe running

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a probe engine
func New(store storage.Store, registry *probe.Registry, broker *events.Broker, cfg config.MonitoringConfig) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		registry:   registry,
		broker:     broker,
		cfg:        cfg,
		logger:     log.WithComponent("engine"),
		sem:        semaphore.NewWeighted(int64(cfg.ConcurrentChecks)),
		schedules:  make(map[string]context.CancelFunc),
		inflight:   make(map[string]bool),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

func scheduleKey(nestID, serviceID string) string {
	return nestID + "/" + serviceID
}

func serviceRowKey(serviceID string) string {
	return "service:" + serviceID
}

// RegisterService validates and persists a service, then installs its probe
// schedule. Re-registration replaces the previous schedule atomically.
func (e *Engine) RegisterService(svc *types.NestService) error {
	if err := ValidateService(svc); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if svc.CreatedAt == 0 {
		svc.CreatedAt = now
	}
	svc.UpdatedAt = now

	if err := e.store.Put(svc.NestID, storage.DataTypeConfiguration, serviceRowKey(svc.ID), svc); err != nil {
		return fmt.Errorf("failed to persist service %s: %w", svc.ID, err)
	}

	key := scheduleKey(svc.NestID, svc.ID)

	e.mu.Lock()
	if cancel, exists := e.schedules[key]; exists {
		cancel()
	}
	ctx, cancel := context.WithCancel(e.rootCtx)
	e.schedules[key] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.scheduleLoop(ctx, svc.NestID, svc.ID, time.Duration(svc.Interval)*time.Second)

	metrics.ServicesMonitored.Set(float64(e.scheduleCount()))
	e.broker.Publish(&events.Event{
		Type:    events.EventServiceRegistered,
		NestID:  svc.NestID,
		Message: svc.Name,
		Metadata: map[string]string{
			"service_id": svc.ID,
			"type":       string(svc.Type),
		},
	})
	return nil
}

// RemoveService cancels the schedule and deletes the service row
func (e *Engine) RemoveService(nestID, serviceID string) error {
	key := scheduleKey(nestID, serviceID)

	e.mu.Lock()
	if cancel, exists := e.schedules[key]; exists {
		cancel()
		delete(e.schedules, key)
	}
	e.mu.Unlock()

	if err := e.store.Delete(nestID, storage.DataTypeConfiguration, serviceRowKey(serviceID)); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", serviceID, err)
	}

	metrics.ServicesMonitored.Set(float64(e.scheduleCount()))
	e.broker.Publish(&events.Event{
		Type:     events.EventServiceRemoved,
		NestID:   nestID,
		Metadata: map[string]string{"service_id": serviceID},
	})
	return nil
}

// GetService loads the current service row
func (e *Engine) GetService(nestID, serviceID string) (*types.NestService, error) {
	var svc types.NestService
	found, err := e.store.Get(nestID, storage.DataTypeConfiguration, serviceRowKey(serviceID), &svc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("service %s: %w", serviceID, storage.ErrNotFound)
	}
	return &svc, nil
}

// RecordHeartbeat persists a heartbeat timestamp on the service row. The
// ingestion transport lives outside the core and calls through here.
func (e *Engine) RecordHeartbeat(nestID, serviceID string) error {
	svc, err := e.GetService(nestID, serviceID)
	if err != nil {
		return err
	}
	if svc.Type != types.ServiceTypeHeartbeat {
		return fmt.Errorf("service %s is not a heartbeat service", serviceID)
	}
	if svc.Heartbeat == nil {
		svc.Heartbeat = &types.HeartbeatConfig{}
	}
	svc.Heartbeat.LastHeartbeat = time.Now().UnixMilli()
	svc.UpdatedAt = time.Now().UnixMilli()
	return e.store.Put(nestID, storage.DataTypeConfiguration, serviceRowKey(serviceID), svc)
}

// scheduleLoop ticks at the service interval and starts a probe unless one is
// already in flight for the service (the tick is dropped, never queued)
func (e *Engine) scheduleLoop(ctx context.Context, nestID, serviceID string, interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			key := scheduleKey(nestID, serviceID)
			e.mu.Lock()
			if e.inflight[key] {
				e.mu.Unlock()
				metrics.ProbeTicksDropped.Inc()
				e.logger.Debug().Str("service_id", serviceID).Msg("tick dropped, probe in flight")
				continue
			}
			e.inflight[key] = true
			e.mu.Unlock()

			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				defer func() {
					e.mu.Lock()
					delete(e.inflight, key)
					e.mu.Unlock()
				}()
				e.runScheduledCheck(ctx, nestID, serviceID)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// runScheduledCheck reloads the service row (config may have changed since
// registration), runs the check chain and persists the side effects
func (e *Engine) runScheduledCheck(ctx context.Context, nestID, serviceID string) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer e.sem.Release(1)

	svc, err := e.GetService(nestID, serviceID)
	if err != nil {
		e.logger.Error().Err(err).Str("service_id", serviceID).Msg("failed to load service for check")
		return
	}

	result := e.CheckService(ctx, svc)
	e.persistResult(svc, result)
}

// CheckService runs the full attempt chain for one service and returns the
// final result. It never returns nil.
func (e *Engine) CheckService(ctx context.Context, svc *types.NestService) *types.ProbeResult {
	started := time.Now()

	executor := e.registry.ForType(svc.Type)
	if executor == nil {
		return e.finish(svc, started, probe.Result{
			Status:  types.StatusDown,
			Message: "Unknown service type",
		}, 1)
	}

	checkTimeout := time.Duration(e.cfg.CheckTimeoutMillis) * time.Millisecond
	retryDelay := time.Duration(e.cfg.RetryDelaySeconds) * time.Second

	var last probe.Result
	attempt := 0
	for attempt = 1; attempt <= e.cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		last = executor.Check(attemptCtx, svc)
		cancel()

		if last.Status == types.StatusUp {
			return e.finish(svc, started, last, attempt)
		}
		if attempt < e.cfg.MaxRetries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return e.finish(svc, started, last, attempt)
			}
		}
	}
	attempt = e.cfg.MaxRetries

	// All attempts failed. Before blaming the target, make sure we can reach
	// the internet at all; an isolated monitor must not report down.
	if e.cfg.NetworkConnectivityCheck != nil && *e.cfg.NetworkConnectivityCheck {
		if !e.networkReachable(ctx) {
			return e.finish(svc, started, probe.Result{
				Status:  types.StatusUnknown,
				Message: "Network connectivity issue: monitoring host cannot reach the internet",
			}, attempt)
		}
	}

	if last.Message == "" {
		last = probe.Result{Status: types.StatusDown, Message: "check failed"}
	}
	return e.finish(svc, started, last, attempt)
}

func (e *Engine) finish(svc *types.NestService, started time.Time, r probe.Result, attempt int) *types.ProbeResult {
	duration := time.Since(started)
	metrics.ProbesTotal.WithLabelValues(string(svc.Type), string(r.Status)).Inc()
	metrics.ProbeDuration.WithLabelValues(string(svc.Type)).Observe(duration.Seconds())

	return &types.ProbeResult{
		ServiceID:     svc.ID,
		NestID:        svc.NestID,
		Status:        r.Status,
		Message:       r.Message,
		ResponseTime:  r.ResponseTime,
		Timestamp:     time.Now().UnixMilli(),
		CheckDuration: duration.Milliseconds(),
		Attempt:       attempt,
		Metadata:      r.Metadata,
	}
}

// networkReachable HEADs the configured sanity URLs; any response means the
// network path out of the monitor works
func (e *Engine) networkReachable(ctx context.Context) bool {
	for _, url := range e.cfg.NetworkTestURLs {
		testCtx, cancel := context.WithTimeout(ctx, networkTestTimeout)
		req, err := http.NewRequestWithContext(testCtx, http.MethodHead, url, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil {
			resp.Body.Close()
			return true
		}
	}
	return false
}

// persistResult writes the monitoring row (when enabled) and always updates
// the service's last-known fields. Store failures are logged, never surfaced:
// the probe result stands regardless.
func (e *Engine) persistResult(svc *types.NestService, result *types.ProbeResult) {
	if e.cfg.StoreMetrics == nil || *e.cfg.StoreMetrics {
		key := fmt.Sprintf("check:%s:%d", svc.ID, result.Timestamp)
		if err := e.store.Put(svc.NestID, storage.DataTypeMonitoring, key, result); err != nil {
			e.logger.Error().Err(err).Str("service_id", svc.ID).Msg("failed to store probe result")
		}
	}

	previous := svc.LastStatus
	svc.LastStatus = result.Status
	svc.LastCheck = result.Timestamp
	svc.Message = result.Message
	svc.ResponseTime = result.ResponseTime
	svc.RetryCount = result.Attempt
	svc.UpdatedAt = time.Now().UnixMilli()

	if err := e.store.Put(svc.NestID, storage.DataTypeConfiguration, serviceRowKey(svc.ID), svc); err != nil {
		e.logger.Error().Err(err).Str("service_id", svc.ID).Msg("failed to update service status")
	}

	e.broker.Publish(&events.Event{
		Type:    events.EventProbeCompleted,
		NestID:  svc.NestID,
		Message: result.Message,
		Metadata: map[string]string{
			"service_id": svc.ID,
			"status":     string(result.Status),
		},
	})
	if previous != "" && previous != result.Status {
		e.broker.Publish(&events.Event{
			Type:    events.EventServiceStatusChanged,
			NestID:  svc.NestID,
			Message: fmt.Sprintf("%s: %s -> %s", svc.Name, previous, result.Status),
			Metadata: map[string]string{
				"service_id": svc.ID,
				"from":       string(previous),
				"to":         string(result.Status),
			},
		})
	}
}

func (e *Engine) scheduleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.schedules)
}

// Shutdown cancels all schedules and waits for in-flight probes to drain,
// bounded by a grace period
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for key, cancel := range e.schedules {
		cancel()
		delete(e.schedules, key)
	}
	e.mu.Unlock()
	e.rootCancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		e.logger.Warn().Msg("shutdown grace expired with probes still in flight")
	}

	e.broker.Publish(&events.Event{Type: events.EventShutdown, Message: "engine"})
	e.logger.Info().Msg("probe engine stopped")
}
