package failover

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/metrics"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

// ringCapacity bounds per-endpoint health history. At the default 30 s check
// interval this holds an hour of samples.
const ringCapacity = 120

// slowFloor: a healthy baseline below this never classifies a check as
// degraded, however large the relative jump
const slowFloor = time.Second

// sample is one health check observation
type sample struct {
	ts           time.Time
	healthy      bool
	responseTime time.Duration
	status       types.EndpointStatus
}

// sampleRing is a fixed-capacity ring of health samples, oldest overwritten
type sampleRing struct {
	buf  []sample
	next int
	size int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]sample, capacity)}
}

func (r *sampleRing) add(s sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// newestFirst visits samples from newest to oldest until fn returns false
func (r *sampleRing) newestFirst(fn func(sample) bool) {
	for i := 0; i < r.size; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		if !fn(r.buf[idx]) {
			return
		}
	}
}

// healthyAverage returns the mean response time of the last n healthy
// samples, and whether any were found
func (r *sampleRing) healthyAverage(n int) (time.Duration, bool) {
	var sum time.Duration
	count := 0
	r.newestFirst(func(s sample) bool {
		if s.healthy {
			sum += s.responseTime
			count++
		}
		return count < n
	})
	if count == 0 {
		return 0, false
	}
	return sum / time.Duration(count), true
}

// EndpointMetrics are the derived values rule conditions compare against
type EndpointMetrics struct {
	ResponseTime float64 // mean, ms
	ErrorRate    float64 // percent
	Availability float64 // percent
	Samples      int
}

// Metrics derives response_time, error_rate and availability from the last
// 60 seconds of the endpoint's health history
func (c *Controller) Metrics(epID string) (EndpointMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.endpoints[epID]
	if !ok {
		return EndpointMetrics{}, false
	}

	cutoff := time.Now().Add(-metricWindow)
	var total, healthy int
	var sumRT time.Duration
	st.ring.newestFirst(func(s sample) bool {
		if s.ts.Before(cutoff) {
			return false
		}
		total++
		sumRT += s.responseTime
		if s.healthy {
			healthy++
		}
		return true
	})
	if total == 0 {
		return EndpointMetrics{}, false
	}
	return EndpointMetrics{
		ResponseTime: float64(sumRT.Milliseconds()) / float64(total),
		ErrorRate:    float64(total-healthy) / float64(total) * 100,
		Availability: float64(healthy) / float64(total) * 100,
		Samples:      total,
	}, true
}

// healthLoop probes every non-maintenance endpoint at the health check
// interval, one in-flight check per endpoint
func (c *Controller) healthLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.HealthCheckIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) checkAll() {
	c.mu.Lock()
	var due []*endpointState
	for _, st := range c.endpoints {
		if st.ep.Status == types.EndpointMaintenance || st.inflight {
			continue
		}
		st.inflight = true
		due = append(due, st)
	}
	c.mu.Unlock()

	for _, st := range due {
		c.wg.Add(1)
		go func(st *endpointState) {
			defer c.wg.Done()
			c.checkEndpoint(st)
		}(st)
	}
}

// checkEndpoint runs one classified health check and records the sample
func (c *Controller) checkEndpoint(st *endpointState) {
	c.mu.Lock()
	url := st.ep.URL + st.ep.HealthCheckPath
	id := st.ep.ID
	c.mu.Unlock()

	ok, rt := c.probeURL(url)

	c.mu.Lock()
	defer c.mu.Unlock()
	st.inflight = false

	status := classify(st.ring, ok, rt)
	st.ring.add(sample{ts: time.Now(), healthy: ok, responseTime: rt, status: status})
	st.ep.LastHealthCheck = time.Now().UnixMilli()
	c.transitionLocked(st, status)
	if err := c.store.Put(storage.SystemNest, storage.DataTypeFailover, endpointKeyPrefix+id, st.ep); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", id).Msg("failed to persist endpoint health")
	}
}

// classify maps one check outcome to an endpoint status. A successful but
// slow check, over twice the recent healthy average when that average is
// above the slow floor, is degraded rather than unhealthy; degraded checks
// still count as up in derived metrics.
func classify(ring *sampleRing, ok bool, rt time.Duration) types.EndpointStatus {
	if !ok {
		return types.EndpointUnhealthy
	}
	if avg, found := ring.healthyAverage(10); found && avg > slowFloor && rt > 2*avg {
		return types.EndpointDegraded
	}
	return types.EndpointHealthy
}

// probeURL GETs the health URL with the configured timeout, retrying up to
// the configured attempts; returns success and the last response time
func (c *Controller) probeURL(url string) (bool, time.Duration) {
	timeout := time.Duration(c.cfg.HealthCheckTimeoutSeconds) * time.Second
	var rt time.Duration
	for attempt := 0; attempt < c.cfg.HealthCheckRetries; attempt++ {
		start := time.Now()
		ok := func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return false
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			return resp.StatusCode >= 200 && resp.StatusCode < 400
		}()
		rt = time.Since(start)
		if ok {
			return true, rt
		}
	}
	return false, rt
}

// transitionLocked applies a status change, emitting endpoint-status-changed
// on every transition. Caller holds the lock.
func (c *Controller) transitionLocked(st *endpointState, to types.EndpointStatus) {
	from := st.ep.Status
	if from == to {
		return
	}
	st.ep.Status = to

	gauge := 0.0
	if to == types.EndpointHealthy {
		gauge = 1.0
	}
	metrics.EndpointStatus.WithLabelValues(st.ep.ID).Set(gauge)

	c.logger.Info().
		Str("endpoint", st.ep.ID).
		Str("name", st.ep.Name).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("endpoint status changed")
	c.broker.Publish(&events.Event{
		Type:    events.EventEndpointStatusChanged,
		Message: fmt.Sprintf("%s: %s -> %s", st.ep.Name, from, to),
		Metadata: map[string]string{
			"endpoint_id": st.ep.ID,
			"from":        string(from),
			"to":          string(to),
		},
	})
}
