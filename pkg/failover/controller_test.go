package failover

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

// fakeRouter records traffic movements
type fakeRouter struct {
	mu          sync.Mutex
	redirects   []string
	percentages []int
	validations int
	failAll     bool
	failValid   bool
}

func (r *fakeRouter) RedirectAll(_ context.Context, source, target *types.ServiceEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return assert.AnError
	}
	r.redirects = append(r.redirects, source.ID+"->"+target.ID)
	return nil
}

func (r *fakeRouter) RedirectPercentage(_ context.Context, source, target *types.ServiceEndpoint, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.percentages = append(r.percentages, percent)
	return nil
}

func (r *fakeRouter) ValidateReady(_ context.Context, target *types.ServiceEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations++
	if r.failValid {
		return assert.AnError
	}
	return nil
}

func testFailoverConfig() config.FailoverConfig {
	return config.FailoverConfig{
		HealthCheckIntervalSeconds:   1,
		HealthCheckTimeoutSeconds:    1,
		HealthCheckRetries:           1,
		DetectionIntervalSeconds:     1,
		MaxConcurrentFailovers:       2,
		MetricsRetentionPeriodSecond: 3600,
	}
}

func newTestController(t *testing.T, router TrafficRouter) *Controller {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	if router == nil {
		router = &fakeRouter{}
	}
	c, err := NewController(store, broker, router, testFailoverConfig())
	require.NoError(t, err)
	return c
}

func endpoint(id, name, region string, priority int, status types.EndpointStatus) *types.ServiceEndpoint {
	return &types.ServiceEndpoint{
		ID:       id,
		Name:     name,
		URL:      "http://" + name + ".internal",
		Region:   region,
		Priority: priority,
		Status:   status,
	}
}

// seedHealth injects health samples so metric derivation has data
func seedHealth(c *Controller, epID string, healthy, unhealthy int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.endpoints[epID]
	now := time.Now()
	for i := 0; i < healthy; i++ {
		st.ring.add(sample{ts: now, healthy: true, responseTime: 100 * time.Millisecond, status: types.EndpointHealthy})
	}
	for i := 0; i < unhealthy; i++ {
		st.ring.add(sample{ts: now, healthy: false, responseTime: time.Second, status: types.EndpointUnhealthy})
	}
}

func failoverRule(pattern string) *types.FailoverRule {
	return &types.FailoverRule{
		ID:             "rule_test",
		Name:           "error spike",
		ServicePattern: pattern,
		TriggerConditions: []types.TriggerCondition{
			{Metric: "error_rate", Operator: types.OpGT, Value: 50},
		},
		FailoverStrategy: types.FailoverStrategy{Type: types.StrategyImmediate},
		Priority:         1,
		Enabled:          true,
	}
}

func TestController_RegisterAndReloadState(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c, err := NewController(store, broker, &fakeRouter{}, testFailoverConfig())
	require.NoError(t, err)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_a", "api-east", "us-east", 1, types.EndpointHealthy)))
	require.NoError(t, c.AddRule(failoverRule("^api-")))

	// A fresh controller over the same store sees the persisted state
	c2, err := NewController(store, broker, &fakeRouter{}, testFailoverConfig())
	require.NoError(t, err)
	ep, ok := c2.Endpoint("ep_a")
	require.True(t, ok)
	assert.Equal(t, "api-east", ep.Name)
	assert.Len(t, c2.rules, 1)
}

func TestController_RejectsBadRules(t *testing.T) {
	c := newTestController(t, nil)

	rule := failoverRule("[invalid regex")
	assert.Error(t, c.AddRule(rule))

	rule = failoverRule("^api-")
	rule.TriggerConditions = nil
	assert.Error(t, c.AddRule(rule))

	rule = failoverRule("^api-")
	rule.TriggerConditions[0].Operator = "between"
	assert.Error(t, c.AddRule(rule))
}

func TestCompareOperators(t *testing.T) {
	tests := []struct {
		actual float64
		op     types.ConditionOperator
		value  float64
		want   bool
	}{
		{5, types.OpGT, 4, true},
		{5, types.OpGT, 5, false},
		{5, types.OpGTE, 5, true},
		{3, types.OpLT, 4, true},
		{4, types.OpLTE, 4, true},
		{4, types.OpEQ, 4, true},
		{4, types.OpNEQ, 4, false},
		{4, types.OpNEQ, 5, true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, compare(tc.actual, tc.op, tc.value),
			"%v %s %v", tc.actual, tc.op, tc.value)
	}
}

func TestController_MetricDerivation(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_a", "api-east", "us-east", 1, types.EndpointHealthy)))

	// 3 healthy at 100ms, 1 failed at 1s: 25% error rate, 75% availability
	seedHealth(c, "ep_a", 3, 1)

	m, ok := c.Metrics("ep_a")
	require.True(t, ok)
	assert.Equal(t, 4, m.Samples)
	assert.InDelta(t, 25.0, m.ErrorRate, 0.01)
	assert.InDelta(t, 75.0, m.Availability, 0.01)
	assert.InDelta(t, 325.0, m.ResponseTime, 0.01) // (3*100 + 1000) / 4
}

func TestController_MetricsWithoutSamples(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_a", "api-east", "us-east", 1, types.EndpointHealthy)))

	_, ok := c.Metrics("ep_a")
	assert.False(t, ok)
}

func TestSampleRing_HealthyAverage(t *testing.T) {
	ring := newSampleRing(4)
	_, found := ring.healthyAverage(10)
	assert.False(t, found)

	ring.add(sample{healthy: true, responseTime: 100 * time.Millisecond})
	ring.add(sample{healthy: false, responseTime: 5 * time.Second})
	ring.add(sample{healthy: true, responseTime: 300 * time.Millisecond})

	avg, found := ring.healthyAverage(10)
	require.True(t, found)
	assert.Equal(t, 200*time.Millisecond, avg)

	// Overflow drops the oldest sample
	ring.add(sample{healthy: true, responseTime: 500 * time.Millisecond})
	ring.add(sample{healthy: true, responseTime: 700 * time.Millisecond})
	avg, found = ring.healthyAverage(10)
	require.True(t, found)
	assert.Equal(t, 500*time.Millisecond, avg) // (300+500+700)/3
}

func TestController_TargetSelection(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_src", "api-east-1", "us-east", 1, types.EndpointUnhealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_same", "api-east-2", "us-east", 5, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_far", "api-west-1", "us-west", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_sick", "api-east-3", "us-east", 0, types.EndpointUnhealthy)))

	c.mu.Lock()
	src := c.endpoints["ep_src"].ep

	// Same region wins even at worse priority
	tgt := c.selectTargetLocked(src, types.SelectHighestPriority)
	assert.Equal(t, "ep_same", tgt.ID)

	// Without a same-region candidate, any region serves
	c.endpoints["ep_same"].ep.Status = types.EndpointUnhealthy
	tgt = c.selectTargetLocked(src, types.SelectHighestPriority)
	assert.Equal(t, "ep_far", tgt.ID)

	// No healthy candidate at all
	c.endpoints["ep_far"].ep.Status = types.EndpointDegraded
	assert.Nil(t, c.selectTargetLocked(src, types.SelectHighestPriority))
	c.mu.Unlock()
}

func TestController_TargetSelectionLowestLoad(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_src", "db-1", "eu", 1, types.EndpointUnhealthy)))

	busy := endpoint("ep_busy", "db-2", "eu", 1, types.EndpointHealthy)
	busy.Capacity = 100
	busy.CurrentLoad = 90
	require.NoError(t, c.RegisterEndpoint(busy))

	idle := endpoint("ep_idle", "db-3", "eu", 9, types.EndpointHealthy)
	idle.Capacity = 100
	idle.CurrentLoad = 10
	require.NoError(t, c.RegisterEndpoint(idle))

	c.mu.Lock()
	tgt := c.selectTargetLocked(c.endpoints["ep_src"].ep, types.SelectLowestLoad)
	c.mu.Unlock()
	assert.Equal(t, "ep_idle", tgt.ID)
}

func waitForStatus(t *testing.T, c *Controller, eventID string, want types.FailoverEventStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := c.Event(eventID); ok && ev.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	ev, _ := c.Event(eventID)
	t.Fatalf("event %s never reached %s (now %s)", eventID, want, ev.Status)
}

func TestController_ImmediateFailover(t *testing.T) {
	router := &fakeRouter{}
	c := newTestController(t, router)

	src := endpoint("ep_src", "api-east-1", "us-east", 1, types.EndpointHealthy)
	src.CurrentLoad = 40
	require.NoError(t, c.RegisterEndpoint(src))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_tgt", "api-east-2", "us-east", 2, types.EndpointHealthy)))

	rule := failoverRule("^api-")
	require.NoError(t, c.AddRule(rule))
	seedHealth(c, "ep_src", 1, 9)

	ev, err := c.TriggerFailover("ep_src", rule)
	require.NoError(t, err)
	assert.Equal(t, "ep_src", ev.SourceEndpoint)
	assert.Equal(t, "ep_tgt", ev.TargetEndpoint)

	waitForStatus(t, c, ev.ID, types.FailoverCompleted)

	// Load moved, source marked unhealthy, traffic redirected
	srcNow, _ := c.Endpoint("ep_src")
	tgtNow, _ := c.Endpoint("ep_tgt")
	assert.Equal(t, types.EndpointUnhealthy, srcNow.Status)
	assert.Equal(t, 0, srcNow.CurrentLoad)
	assert.Equal(t, 40, tgtNow.CurrentLoad)

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Equal(t, []string{"ep_src->ep_tgt"}, router.redirects)
}

func TestController_TriggerIsIdempotentWhileActive(t *testing.T) {
	c := newTestController(t, &fakeRouter{})
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_src", "api-1", "eu", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_tgt", "api-2", "eu", 2, types.EndpointHealthy)))
	rule := failoverRule("^api-")
	require.NoError(t, c.AddRule(rule))

	first, err := c.TriggerFailover("ep_src", rule)
	require.NoError(t, err)
	second, err := c.TriggerFailover("ep_src", rule)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "a second trigger while active must return the same event")
}

func TestController_ConcurrentFailoverLimit(t *testing.T) {
	cfg := testFailoverConfig()
	cfg.MaxConcurrentFailovers = 1

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c, err := NewController(store, broker, &fakeRouter{}, cfg)
	require.NoError(t, err)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_1", "api-1", "eu", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_2", "api-2", "eu", 2, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_3", "api-3", "eu", 3, types.EndpointHealthy)))
	rule := failoverRule("^api-")
	require.NoError(t, c.AddRule(rule))

	_, err = c.TriggerFailover("ep_1", rule)
	require.NoError(t, err)
	_, err = c.TriggerFailover("ep_2", rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent failover limit")
}

func TestController_RuleFailoverLimit(t *testing.T) {
	c := newTestController(t, &fakeRouter{})
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_1", "api-1", "eu", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_2", "api-2", "eu", 2, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_3", "api-3", "eu", 3, types.EndpointHealthy)))

	rule := failoverRule("^api-")
	rule.MaxFailovers = 1
	rule.TimeWindow = 3600
	require.NoError(t, c.AddRule(rule))

	ev, err := c.TriggerFailover("ep_1", rule)
	require.NoError(t, err)
	waitForStatus(t, c, ev.ID, types.FailoverCompleted)

	// The rule spent its one firing for the window; a different endpoint
	// under the global concurrency cap is still refused
	_, err = c.TriggerFailover("ep_2", rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failover limit")
}

func TestController_BlueGreenValidationFailure(t *testing.T) {
	router := &fakeRouter{failValid: true}
	c := newTestController(t, router)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_src", "api-1", "eu", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_tgt", "api-2", "eu", 2, types.EndpointHealthy)))

	rule := failoverRule("^api-")
	rule.FailoverStrategy = types.FailoverStrategy{Type: types.StrategyBlueGreen, ValidateTarget: true}
	require.NoError(t, c.AddRule(rule))

	ev, err := c.TriggerFailover("ep_src", rule)
	require.NoError(t, err)
	waitForStatus(t, c, ev.ID, types.FailoverFailed)

	got, _ := c.Event(ev.ID)
	assert.Contains(t, got.Error, "target validation failed")
	assert.Empty(t, c.ActiveFailovers(), "failed events leave the active set")
}

func TestController_GradualFailoverSteps(t *testing.T) {
	router := &fakeRouter{}
	c := newTestController(t, router)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_src", "api-1", "eu", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_tgt", "api-2", "eu", 2, types.EndpointHealthy)))

	rule := failoverRule("^api-")
	rule.FailoverStrategy = types.FailoverStrategy{Type: types.StrategyGradual, DrainTimeout: 0}
	require.NoError(t, c.AddRule(rule))

	ev, err := c.TriggerFailover("ep_src", rule)
	require.NoError(t, err)
	waitForStatus(t, c, ev.ID, types.FailoverCompleted)

	router.mu.Lock()
	defer router.mu.Unlock()
	assert.Equal(t, []int{20, 40, 60, 80, 100}, router.percentages)
}

func TestController_MatchingEndpoints(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_a", "api-east", "us-east", 1, types.EndpointHealthy)))
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_b", "db-east", "us-east", 1, types.EndpointHealthy)))

	rule := failoverRule("^api-")
	require.NoError(t, c.AddRule(rule))

	matched := c.matchingEndpoints(rule)
	assert.Equal(t, []string{"ep_a"}, matched)
}

func TestController_ConditionsRequireAll(t *testing.T) {
	c := newTestController(t, nil)
	require.NoError(t, c.RegisterEndpoint(endpoint("ep_a", "api-east", "us-east", 1, types.EndpointHealthy)))
	seedHealth(c, "ep_a", 3, 1) // 25% error rate, 75% availability

	rule := failoverRule("^api-")
	rule.TriggerConditions = []types.TriggerCondition{
		{Metric: "error_rate", Operator: types.OpGT, Value: 10},     // holds
		{Metric: "availability", Operator: types.OpLT, Value: 50.0}, // does not
	}
	met, evaluated := c.conditionsMet("ep_a", rule)
	assert.False(t, met)
	require.Len(t, evaluated, 2)
	assert.True(t, evaluated[0].Met)
	assert.False(t, evaluated[1].Met)
}
