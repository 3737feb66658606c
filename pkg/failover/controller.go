package failover

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/ids"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/metrics"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

const (
	endpointKeyPrefix = "endpoint:"
	ruleKeyPrefix     = "rule:"
	eventKeyPrefix    = "event:"

	// metricWindow is the slice of ring buffer samples metric derivation reads
	metricWindow = 60 * time.Second

	// recoveryWall closes a recovery monitor no matter what
	recoveryWall = 24 * time.Hour
)

// endpointState pairs the persisted endpoint row with its in-memory health
// history and the per-endpoint in-flight gate
type endpointState struct {
	ep       *types.ServiceEndpoint
	ring     *sampleRing
	inflight bool
}

// Controller owns failover endpoints, rules and events. Endpoints live under
// the reserved system namespace; tenants never see them.
type Controller struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	rules     map[string]*types.FailoverRule
	events    map[string]*types.FailoverEvent
	active    map[string]string // source endpoint id -> non-terminal event id
	patterns  map[string]*regexp.Regexp

	store  storage.Store
	broker *events.Broker
	router TrafficRouter
	cfg    config.FailoverConfig
	client *http.Client
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewController builds a controller and loads persisted endpoints, rules and
// events from the system namespace
func NewController(store storage.Store, broker *events.Broker, router TrafficRouter, cfg config.FailoverConfig) (*Controller, error) {
	c := &Controller{
		endpoints: make(map[string]*endpointState),
		rules:     make(map[string]*types.FailoverRule),
		events:    make(map[string]*types.FailoverEvent),
		active:    make(map[string]string),
		patterns:  make(map[string]*regexp.Regexp),
		store:     store,
		broker:    broker,
		router:    router,
		cfg:       cfg,
		client:    &http.Client{},
		logger:    log.WithComponent("failover"),
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) load() error {
	rows, err := c.store.ListByType(storage.SystemNest, storage.DataTypeFailover)
	if err != nil {
		return fmt.Errorf("failed to load failover state: %w", err)
	}
	for key := range rows {
		switch {
		case len(key) > len(endpointKeyPrefix) && key[:len(endpointKeyPrefix)] == endpointKeyPrefix:
			ep := &types.ServiceEndpoint{}
			if _, err := c.store.Get(storage.SystemNest, storage.DataTypeFailover, key, ep); err == nil {
				c.endpoints[ep.ID] = &endpointState{ep: ep, ring: newSampleRing(ringCapacity)}
			}
		case len(key) > len(ruleKeyPrefix) && key[:len(ruleKeyPrefix)] == ruleKeyPrefix:
			rule := &types.FailoverRule{}
			if _, err := c.store.Get(storage.SystemNest, storage.DataTypeFailover, key, rule); err == nil {
				c.rules[rule.ID] = rule
			}
		case len(key) > len(eventKeyPrefix) && key[:len(eventKeyPrefix)] == eventKeyPrefix:
			ev := &types.FailoverEvent{}
			if _, err := c.store.Get(storage.SystemNest, storage.DataTypeFailover, key, ev); err == nil {
				c.events[ev.ID] = ev
				if !terminal(ev.Status) {
					c.active[ev.SourceEndpoint] = ev.ID
				}
			}
		}
	}
	metrics.ActiveFailovers.Set(float64(len(c.active)))
	return nil
}

// Start launches the endpoint health loop and the rule detection loop
func (c *Controller) Start() {
	c.stopCh = make(chan struct{})
	c.wg.Add(2)
	go c.healthLoop()
	go c.detectLoop()
	c.logger.Info().
		Int("endpoints", len(c.endpoints)).
		Int("rules", len(c.rules)).
		Msg("failover controller started")
}

// RegisterEndpoint validates and persists an endpoint and starts tracking it
func (c *Controller) RegisterEndpoint(ep *types.ServiceEndpoint) error {
	if ep.URL == "" {
		return fmt.Errorf("endpoint url is required")
	}
	if ep.ID == "" {
		ep.ID = ids.New(ids.PrefixEndpoint)
	}
	if ep.Status == "" {
		ep.Status = types.EndpointUnknown
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(storage.SystemNest, storage.DataTypeFailover, endpointKeyPrefix+ep.ID, ep); err != nil {
		return err
	}
	if st, ok := c.endpoints[ep.ID]; ok {
		st.ep = ep
	} else {
		c.endpoints[ep.ID] = &endpointState{ep: ep, ring: newSampleRing(ringCapacity)}
	}
	return nil
}

// RemoveEndpoint drops an endpoint from tracking and the store
func (c *Controller) RemoveEndpoint(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	if err := c.store.Delete(storage.SystemNest, storage.DataTypeFailover, endpointKeyPrefix+id); err != nil {
		return err
	}
	delete(c.endpoints, id)
	metrics.EndpointStatus.DeleteLabelValues(id)
	return nil
}

// Endpoint returns a copy of the current endpoint row
func (c *Controller) Endpoint(id string) (*types.ServiceEndpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.endpoints[id]
	if !ok {
		return nil, false
	}
	cp := *st.ep
	return &cp, true
}

// SetMaintenance marks an endpoint administratively in or out of service.
// The health loop skips endpoints in maintenance.
func (c *Controller) SetMaintenance(id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.endpoints[id]
	if !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	if on {
		c.transitionLocked(st, types.EndpointMaintenance)
	} else {
		c.transitionLocked(st, types.EndpointUnknown)
	}
	return c.store.Put(storage.SystemNest, storage.DataTypeFailover, endpointKeyPrefix+id, st.ep)
}

// AddRule validates, persists and activates a failover rule
func (c *Controller) AddRule(rule *types.FailoverRule) error {
	if rule.ServicePattern == "" {
		return fmt.Errorf("rule servicePattern is required")
	}
	re, err := regexp.Compile(rule.ServicePattern)
	if err != nil {
		return fmt.Errorf("invalid servicePattern %q: %w", rule.ServicePattern, err)
	}
	if len(rule.TriggerConditions) == 0 {
		return fmt.Errorf("rule needs at least one trigger condition")
	}
	for _, cond := range rule.TriggerConditions {
		switch cond.Operator {
		case types.OpGT, types.OpGTE, types.OpLT, types.OpLTE, types.OpEQ, types.OpNEQ:
		default:
			return fmt.Errorf("unknown condition operator %q", cond.Operator)
		}
	}
	if rule.ID == "" {
		rule.ID = ids.New(ids.PrefixRule)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Put(storage.SystemNest, storage.DataTypeFailover, ruleKeyPrefix+rule.ID, rule); err != nil {
		return err
	}
	c.rules[rule.ID] = rule
	c.patterns[rule.ID] = re
	return nil
}

// RemoveRule drops a rule
func (c *Controller) RemoveRule(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rules[id]; !ok {
		return fmt.Errorf("rule %s not found", id)
	}
	if err := c.store.Delete(storage.SystemNest, storage.DataTypeFailover, ruleKeyPrefix+id); err != nil {
		return err
	}
	delete(c.rules, id)
	delete(c.patterns, id)
	return nil
}

// Event returns a copy of a failover event
func (c *Controller) Event(id string) (*types.FailoverEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	if !ok {
		return nil, false
	}
	cp := *ev
	return &cp, true
}

// ActiveFailovers returns the ids of non-terminal failover events
func (c *Controller) ActiveFailovers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.active))
	for _, id := range c.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func terminal(s types.FailoverEventStatus) bool {
	return s == types.FailoverFailed || s == types.FailoverRecovered
}

// detectLoop evaluates every enabled rule at the detection interval
func (c *Controller) detectLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(c.cfg.DetectionIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evaluateRules()
		case <-c.stopCh:
			return
		}
	}
}

// evaluateRules walks rules in priority order, lowest Priority value first,
// and triggers a failover for every matching endpoint whose conditions all
// hold
func (c *Controller) evaluateRules() {
	c.mu.Lock()
	rules := make([]*types.FailoverRule, 0, len(c.rules))
	for _, r := range c.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	c.mu.Unlock()
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		for _, epID := range c.matchingEndpoints(rule) {
			if c.inCooldown(epID, rule) {
				continue
			}
			met, evaluated := c.conditionsMet(epID, rule)
			if !met {
				continue
			}
			if _, err := c.trigger(epID, rule, evaluated); err != nil {
				c.logger.Warn().Err(err).
					Str("endpoint", epID).
					Str("rule", rule.ID).
					Msg("failover not initiated")
			}
		}
	}
}

func (c *Controller) matchingEndpoints(rule *types.FailoverRule) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	re, ok := c.patterns[rule.ID]
	if !ok {
		var err error
		re, err = regexp.Compile(rule.ServicePattern)
		if err != nil {
			return nil
		}
		c.patterns[rule.ID] = re
	}
	var out []string
	for id, st := range c.endpoints {
		if re.MatchString(st.ep.Name) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// inCooldown reports whether a completed failover for this endpoint happened
// within the rule's cooldown period
func (c *Controller) inCooldown(epID string, rule *types.FailoverRule) bool {
	if rule.CooldownPeriod <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(rule.CooldownPeriod) * time.Second).UnixMilli()
	for _, ev := range c.events {
		if ev.SourceEndpoint != epID {
			continue
		}
		if ev.Status == types.FailoverCompleted || ev.Status == types.FailoverRecovering || ev.Status == types.FailoverRecovered {
			if ev.Timestamp >= cutoff {
				return true
			}
		}
	}
	return false
}

// ruleFiringsLocked counts events this rule has fired inside its time
// window. A TimeWindow of zero means the limit spans all recorded events.
func (c *Controller) ruleFiringsLocked(rule *types.FailoverRule) int {
	var cutoff int64
	if rule.TimeWindow > 0 {
		cutoff = time.Now().Add(-time.Duration(rule.TimeWindow) * time.Second).UnixMilli()
	}
	n := 0
	for _, ev := range c.events {
		if ev.RuleID == rule.ID && ev.Timestamp >= cutoff {
			n++
		}
	}
	return n
}

// conditionsMet evaluates every trigger condition against freshly derived
// metrics; all must hold
func (c *Controller) conditionsMet(epID string, rule *types.FailoverRule) (bool, []types.EvaluatedCondition) {
	m, ok := c.Metrics(epID)
	if !ok {
		return false, nil
	}

	evaluated := make([]types.EvaluatedCondition, 0, len(rule.TriggerConditions))
	all := true
	for _, cond := range rule.TriggerConditions {
		var actual float64
		switch cond.Metric {
		case "response_time":
			actual = m.ResponseTime
		case "error_rate":
			actual = m.ErrorRate
		case "availability":
			actual = m.Availability
		default:
			all = false
			evaluated = append(evaluated, types.EvaluatedCondition{Condition: cond, Met: false})
			continue
		}
		met := compare(actual, cond.Operator, cond.Value)
		evaluated = append(evaluated, types.EvaluatedCondition{Condition: cond, Actual: actual, Met: met})
		if !met {
			all = false
		}
	}
	return all, evaluated
}

func compare(actual float64, op types.ConditionOperator, value float64) bool {
	switch op {
	case types.OpGT:
		return actual > value
	case types.OpGTE:
		return actual >= value
	case types.OpLT:
		return actual < value
	case types.OpLTE:
		return actual <= value
	case types.OpEQ:
		return actual == value
	case types.OpNEQ:
		return actual != value
	}
	return false
}

// Shutdown stops the loops and waits for in-flight strategy executions
func (c *Controller) Shutdown() {
	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info().Msg("failover controller stopped")
}
