package failover

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/ids"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/metrics"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

// TrafficRouter is the external side-effect surface for moving traffic.
// The controller decides when and how much; the router owns the LB/DNS
// mechanics.
type TrafficRouter interface {
	// RedirectAll moves all of source's traffic to target
	RedirectAll(ctx context.Context, source, target *types.ServiceEndpoint) error

	// RedirectPercentage moves the given share of source's traffic to target
	RedirectPercentage(ctx context.Context, source, target *types.ServiceEndpoint, percent int) error

	// ValidateReady verifies the target can take traffic before a cutover
	ValidateReady(ctx context.Context, target *types.ServiceEndpoint) error
}

// LogRouter is a TrafficRouter that only records intent. It stands in where
// no real load balancer integration is wired.
type LogRouter struct {
	logger zerolog.Logger
}

func NewLogRouter() *LogRouter {
	return &LogRouter{logger: log.WithComponent("traffic-router")}
}

func (r *LogRouter) RedirectAll(_ context.Context, source, target *types.ServiceEndpoint) error {
	r.logger.Info().Str("source", source.Name).Str("target", target.Name).Msg("redirecting all traffic")
	return nil
}

func (r *LogRouter) RedirectPercentage(_ context.Context, source, target *types.ServiceEndpoint, percent int) error {
	r.logger.Info().Str("source", source.Name).Str("target", target.Name).Int("percent", percent).Msg("redirecting traffic share")
	return nil
}

func (r *LogRouter) ValidateReady(_ context.Context, target *types.ServiceEndpoint) error {
	r.logger.Info().Str("target", target.Name).Msg("validating target readiness")
	return nil
}

// TriggerFailover initiates a failover for the source endpoint under the
// given rule. If a failover for the source is already in flight, the
// existing event is returned instead of starting a second one.
func (c *Controller) TriggerFailover(sourceID string, rule *types.FailoverRule) (*types.FailoverEvent, error) {
	// manual triggers proceed regardless of condition state; the evaluated
	// conditions are recorded on the event when metrics are derivable
	_, evaluated := c.conditionsMet(sourceID, rule)
	return c.trigger(sourceID, rule, evaluated)
}

func (c *Controller) trigger(sourceID string, rule *types.FailoverRule, evaluated []types.EvaluatedCondition) (*types.FailoverEvent, error) {
	c.mu.Lock()

	if evID, ok := c.active[sourceID]; ok {
		ev := c.events[evID]
		cp := *ev
		c.mu.Unlock()
		return &cp, nil
	}
	if len(c.active) >= c.cfg.MaxConcurrentFailovers {
		c.mu.Unlock()
		return nil, fmt.Errorf("concurrent failover limit reached (%d)", c.cfg.MaxConcurrentFailovers)
	}
	if rule.MaxFailovers > 0 && c.ruleFiringsLocked(rule) >= rule.MaxFailovers {
		c.mu.Unlock()
		return nil, fmt.Errorf("rule %s reached its failover limit (%d per %ds)",
			rule.ID, rule.MaxFailovers, rule.TimeWindow)
	}
	src, ok := c.endpoints[sourceID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("endpoint %s not found", sourceID)
	}

	target := c.selectTargetLocked(src.ep, rule.FailoverStrategy.TargetSelection)
	if target == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("no healthy failover target for %s", src.ep.Name)
	}

	ev := &types.FailoverEvent{
		ID:             ids.New(ids.PrefixFailover),
		RuleID:         rule.ID,
		SourceEndpoint: sourceID,
		TargetEndpoint: target.ID,
		TriggerReason:  fmt.Sprintf("rule %s matched %s", rule.Name, src.ep.Name),
		Conditions:     evaluated,
		Status:         types.FailoverTriggered,
		Timestamp:      time.Now().UnixMilli(),
	}
	c.events[ev.ID] = ev
	c.active[sourceID] = ev.ID
	metrics.ActiveFailovers.Set(float64(len(c.active)))
	c.persistEventLocked(ev)
	c.mu.Unlock()

	c.logger.Warn().
		Str("event", ev.ID).
		Str("source", sourceID).
		Str("target", target.ID).
		Str("rule", rule.ID).
		Msg("failover triggered")
	c.broker.Publish(&events.Event{
		Type:    events.EventFailoverTriggered,
		Message: ev.TriggerReason,
		Metadata: map[string]string{
			"event_id": ev.ID,
			"source":   sourceID,
			"target":   target.ID,
		},
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(ev, rule)
	}()

	cp := *ev
	return &cp, nil
}

// selectTargetLocked picks a healthy target for the source: same region
// first, then any region, ordered by the rule's selection strategy
func (c *Controller) selectTargetLocked(src *types.ServiceEndpoint, sel types.TargetSelection) *types.ServiceEndpoint {
	var sameRegion, anyRegion []*types.ServiceEndpoint
	for _, st := range c.endpoints {
		if st.ep.ID == src.ID || st.ep.Status != types.EndpointHealthy {
			continue
		}
		anyRegion = append(anyRegion, st.ep)
		if src.Region != "" && st.ep.Region == src.Region {
			sameRegion = append(sameRegion, st.ep)
		}
	}
	candidates := sameRegion
	if len(candidates) == 0 {
		candidates = anyRegion
	}
	if len(candidates) == 0 {
		return nil
	}

	switch sel {
	case types.SelectLowestLoad:
		sort.Slice(candidates, func(i, j int) bool {
			return loadRatio(candidates[i]) < loadRatio(candidates[j])
		})
		return candidates[0]
	case types.SelectRandom:
		return candidates[rand.Intn(len(candidates))]
	default: // highest_priority; lower number wins
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Priority < candidates[j].Priority
		})
		return candidates[0]
	}
}

func loadRatio(ep *types.ServiceEndpoint) float64 {
	if ep.Capacity > 0 {
		return float64(ep.CurrentLoad) / float64(ep.Capacity)
	}
	return float64(ep.CurrentLoad)
}

// execute drives the event through its strategy to a completed or failed
// status, then hands completed events to the recovery monitor
func (c *Controller) execute(ev *types.FailoverEvent, rule *types.FailoverRule) {
	start := time.Now()
	c.setStatus(ev, types.FailoverInProgress, "")

	var err error
	switch rule.FailoverStrategy.Type {
	case types.StrategyGradual:
		err = c.executeGradual(ev, rule)
	case types.StrategyBlueGreen:
		err = c.executeBlueGreen(ev, rule)
	default:
		err = c.executeImmediate(ev)
	}

	if err != nil {
		c.setStatus(ev, types.FailoverFailed, err.Error())
		metrics.FailoversTotal.WithLabelValues("failed").Inc()
		c.broker.Publish(&events.Event{
			Type:     events.EventFailoverFailed,
			Message:  err.Error(),
			Metadata: map[string]string{"event_id": ev.ID, "source": ev.SourceEndpoint},
		})
		return
	}

	c.mu.Lock()
	ev.Duration = time.Since(start).Milliseconds()
	c.mu.Unlock()
	c.setStatus(ev, types.FailoverCompleted, "")
	metrics.FailoversTotal.WithLabelValues("completed").Inc()
	c.broker.Publish(&events.Event{
		Type:    events.EventFailoverCompleted,
		Message: ev.TriggerReason,
		Metadata: map[string]string{
			"event_id": ev.ID,
			"source":   ev.SourceEndpoint,
			"target":   ev.TargetEndpoint,
		},
	})

	if rule.RecoveryStrategy.Type == "automatic" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.monitorRecovery(ev, rule)
		}()
	}
}

// executeImmediate marks the source unhealthy, attributes its load to the
// target and redirects everything in one call
func (c *Controller) executeImmediate(ev *types.FailoverEvent) error {
	c.mu.Lock()
	src, srcOK := c.endpoints[ev.SourceEndpoint]
	tgt, tgtOK := c.endpoints[ev.TargetEndpoint]
	if !srcOK || !tgtOK {
		c.mu.Unlock()
		return fmt.Errorf("endpoint disappeared during failover")
	}
	c.transitionLocked(src, types.EndpointUnhealthy)
	tgt.ep.CurrentLoad += src.ep.CurrentLoad
	src.ep.CurrentLoad = 0
	srcEP, tgtEP := *src.ep, *tgt.ep
	c.persistEndpointsLocked(src, tgt)
	c.mu.Unlock()

	return c.router.RedirectAll(context.Background(), &srcEP, &tgtEP)
}

// executeGradual shifts 20% of traffic per step across five equal steps of
// the drain timeout
func (c *Controller) executeGradual(ev *types.FailoverEvent, rule *types.FailoverRule) error {
	srcEP, tgtEP, err := c.eventEndpoints(ev)
	if err != nil {
		return err
	}
	stepWait := time.Duration(rule.FailoverStrategy.DrainTimeout) * time.Second / 5

	for step := 1; step <= 5; step++ {
		if err := c.router.RedirectPercentage(context.Background(), srcEP, tgtEP, step*20); err != nil {
			return fmt.Errorf("drain step %d: %w", step, err)
		}
		if step < 5 {
			select {
			case <-time.After(stepWait):
			case <-c.stopCh:
				return fmt.Errorf("shutdown during gradual failover")
			}
		}
	}
	return nil
}

// executeBlueGreen optionally validates the target, then cuts over at once
func (c *Controller) executeBlueGreen(ev *types.FailoverEvent, rule *types.FailoverRule) error {
	srcEP, tgtEP, err := c.eventEndpoints(ev)
	if err != nil {
		return err
	}
	if rule.FailoverStrategy.ValidateTarget {
		if err := c.router.ValidateReady(context.Background(), tgtEP); err != nil {
			return fmt.Errorf("target validation failed: %w", err)
		}
	}
	return c.router.RedirectAll(context.Background(), srcEP, tgtEP)
}

func (c *Controller) eventEndpoints(ev *types.FailoverEvent) (*types.ServiceEndpoint, *types.ServiceEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, srcOK := c.endpoints[ev.SourceEndpoint]
	tgt, tgtOK := c.endpoints[ev.TargetEndpoint]
	if !srcOK || !tgtOK {
		return nil, nil, fmt.Errorf("endpoint disappeared during failover")
	}
	srcEP, tgtEP := *src.ep, *tgt.ep
	return &srcEP, &tgtEP, nil
}

// monitorRecovery watches the original source and ramps traffic back once it
// has proven itself. Any failed check resets the success count. The monitor
// closes after 24 hours regardless of outcome.
func (c *Controller) monitorRecovery(ev *types.FailoverEvent, rule *types.FailoverRule) {
	rec := rule.RecoveryStrategy
	required := rec.ConsecutiveSuccessRequired
	if required <= 0 {
		required = 3
	}

	deadline := time.NewTimer(recoveryWall)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Duration(c.cfg.HealthCheckIntervalSeconds) * time.Second)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ticker.C:
			if c.sourceResponding(ev.SourceEndpoint) {
				consecutive++
			} else {
				consecutive = 0
			}
			if consecutive < required {
				continue
			}
			if rec.RecoveryDelay > 0 {
				select {
				case <-time.After(time.Duration(rec.RecoveryDelay) * time.Second):
				case <-c.stopCh:
					return
				}
			}
			if err := c.recover(ev, rec); err != nil {
				c.logger.Warn().Err(err).Str("event", ev.ID).Msg("recovery attempt failed")
				consecutive = 0
				continue
			}
			return
		case <-deadline.C:
			c.logger.Warn().Str("event", ev.ID).Msg("recovery window elapsed without recovery")
			c.closeActive(ev)
			return
		case <-c.stopCh:
			return
		}
	}
}

// sourceResponding HEADs the source health URL once
func (c *Controller) sourceResponding(sourceID string) bool {
	c.mu.Lock()
	st, ok := c.endpoints[sourceID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	url := st.ep.URL + st.ep.HealthCheckPath
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.HealthCheckTimeoutSeconds)*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// recover moves traffic back to the source, ramping when configured
func (c *Controller) recover(ev *types.FailoverEvent, rec types.RecoveryStrategy) error {
	c.setStatus(ev, types.FailoverRecovering, "")

	tgtEP, srcEP, err := func() (*types.ServiceEndpoint, *types.ServiceEndpoint, error) {
		s, t, err := c.eventEndpoints(ev)
		return t, s, err
	}()
	if err != nil {
		return err
	}

	if rec.RampUp {
		pct := rec.InitialPercentage
		if pct <= 0 {
			pct = 10
		}
		step := rec.IncrementPercentage
		if step <= 0 {
			step = 10
		}
		interval := time.Duration(rec.IncrementInterval) * time.Second
		for pct < 100 {
			if err := c.router.RedirectPercentage(context.Background(), tgtEP, srcEP, pct); err != nil {
				return err
			}
			select {
			case <-time.After(interval):
			case <-c.stopCh:
				return fmt.Errorf("shutdown during recovery ramp")
			}
			pct += step
		}
	}
	if err := c.router.RedirectAll(context.Background(), tgtEP, srcEP); err != nil {
		return err
	}

	c.mu.Lock()
	if src, ok := c.endpoints[ev.SourceEndpoint]; ok {
		c.transitionLocked(src, types.EndpointHealthy)
		c.persistEndpointsLocked(src)
	}
	ev.RecoveredAt = time.Now().UnixMilli()
	c.mu.Unlock()
	c.setStatus(ev, types.FailoverRecovered, "")
	metrics.FailoversTotal.WithLabelValues("recovered").Inc()
	c.broker.Publish(&events.Event{
		Type:     events.EventFailoverRecovered,
		Metadata: map[string]string{"event_id": ev.ID, "source": ev.SourceEndpoint},
	})
	return nil
}

// setStatus is the single writer of event status; terminal statuses leave
// the active set
func (c *Controller) setStatus(ev *types.FailoverEvent, status types.FailoverEventStatus, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev.Status = status
	if errMsg != "" {
		ev.Error = errMsg
	}
	if terminal(status) {
		delete(c.active, ev.SourceEndpoint)
		metrics.ActiveFailovers.Set(float64(len(c.active)))
	}
	c.persistEventLocked(ev)
}

// closeActive drops an event from the active set without a terminal status,
// used only when the recovery window elapses
func (c *Controller) closeActive(ev *types.FailoverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, ev.SourceEndpoint)
	metrics.ActiveFailovers.Set(float64(len(c.active)))
}

func (c *Controller) persistEventLocked(ev *types.FailoverEvent) {
	if err := c.store.Put(storage.SystemNest, storage.DataTypeFailover, eventKeyPrefix+ev.ID, ev); err != nil {
		c.logger.Warn().Err(err).Str("event", ev.ID).Msg("failed to persist failover event")
	}
}

func (c *Controller) persistEndpointsLocked(states ...*endpointState) {
	for _, st := range states {
		if err := c.store.Put(storage.SystemNest, storage.DataTypeFailover, endpointKeyPrefix+st.ep.ID, st.ep); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", st.ep.ID).Msg("failed to persist endpoint")
		}
	}
}
