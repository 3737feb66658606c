package sla

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
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
	targetKeyPrefix      = "sla-target:"
	measurementKeyPrefix = "measurement:"
	reportKeyPrefix      = "report:"
	checkKeyPrefix       = "check:"

	// defaultPercentile applies when a response-time target names none
	defaultPercentile = 95.0

	// gapFactor: an inter-sample interval beyond this multiple of the nominal
	// probe interval counts as a data gap
	gapFactor = 3
)

// Manager owns SLA targets, computes measurements over probe history and
// aggregates them into reports
type Manager struct {
	store  storage.Store
	broker *events.Broker
	cfg    config.SLAConfig
	logger zerolog.Logger
}

func NewManager(store storage.Store, broker *events.Broker, cfg config.SLAConfig) *Manager {
	return &Manager{
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("sla"),
	}
}

// CreateTarget validates and persists an SLA target
func (m *Manager) CreateTarget(target *types.SLATarget) error {
	if target.NestID == "" {
		return fmt.Errorf("nest id is required")
	}
	if target.Uptime.Target < 0 || target.Uptime.Target > 100 {
		return fmt.Errorf("uptime target must be in [0, 100], got %v", target.Uptime.Target)
	}
	if target.ErrorRate.Target < 0 || target.ErrorRate.Target > 100 {
		return fmt.Errorf("error rate target must be in [0, 100], got %v", target.ErrorRate.Target)
	}
	if target.Availability.Target < 0 || target.Availability.Target > 100 {
		return fmt.Errorf("availability target must be in [0, 100], got %v", target.Availability.Target)
	}
	if target.ResponseTime.Target < 0 {
		return fmt.Errorf("response time target must not be negative, got %v", target.ResponseTime.Target)
	}
	if target.ID == "" {
		target.ID = ids.New(ids.PrefixSLA)
	}
	if target.Version == 0 {
		target.Version = 1
	}
	if target.CreatedAt == 0 {
		target.CreatedAt = time.Now().UnixMilli()
	}
	return m.store.Put(target.NestID, storage.DataTypeSLA, targetKeyPrefix+target.ID, target)
}

// GetTarget loads a target by id within a nest
func (m *Manager) GetTarget(nestID, targetID string) (*types.SLATarget, error) {
	target := &types.SLATarget{}
	found, err := m.store.Get(nestID, storage.DataTypeSLA, targetKeyPrefix+targetID, target)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("sla target %s: %w", targetID, storage.ErrNotFound)
	}
	return target, nil
}

// Measure computes the immutable roll-up for one window of a target. Probe
// results with unknown status never count toward any denominator.
func (m *Manager) Measure(nestID, targetID string, start, end time.Time) (*types.SLAMeasurement, error) {
	target, err := m.GetTarget(nestID, targetID)
	if err != nil {
		return nil, err
	}
	results, err := m.loadResults(target, start, end)
	if err != nil {
		return nil, err
	}

	var up, down int
	var responseTimes []float64
	for _, r := range results {
		switch r.Status {
		case types.StatusUp:
			up++
			if r.ResponseTime > 0 {
				responseTimes = append(responseTimes, float64(r.ResponseTime))
			}
		case types.StatusDown:
			down++
		}
	}
	total := up + down

	windowMinutes := end.Sub(start).Minutes()
	denomMinutes := windowMinutes
	if target.ExcludeScheduledMaintenance {
		denomMinutes -= target.ScheduledDowntimeMinutes
	}

	meas := &types.SLAMeasurement{
		ID:          ids.New(ids.PrefixMeasurement),
		SLATargetID: target.ID,
		NestID:      target.NestID,
		ServiceID:   target.ServiceID,
		WindowStart: start.UnixMilli(),
		WindowEnd:   end.UnixMilli(),
		CreatedAt:   time.Now().UnixMilli(),
	}

	var uptimePct, errorRate, availability float64
	if total > 0 && denomMinutes > 0 {
		upMinutes := windowMinutes * float64(up) / float64(total)
		uptimePct = upMinutes / denomMinutes * 100
		errorRate = float64(down) / float64(total) * 100
		availability = float64(up) / float64(total) * 100
	}

	pct := target.ResponseTime.Percentile
	if pct <= 0 {
		pct = defaultPercentile
	}
	respTime := percentile(responseTimes, pct)

	meas.Uptime = types.MetricResult{
		Actual: uptimePct, Target: target.Uptime.Target,
		Compliant: uptimePct >= target.Uptime.Target, Samples: total,
	}
	meas.ResponseTime = types.MetricResult{
		Actual: respTime, Target: target.ResponseTime.Target,
		Compliant: respTime <= target.ResponseTime.Target, Samples: len(responseTimes),
	}
	meas.ErrorRate = types.MetricResult{
		Actual: errorRate, Target: target.ErrorRate.Target,
		Compliant: errorRate <= target.ErrorRate.Target, Samples: total,
	}
	meas.Availability = types.MetricResult{
		Actual: availability, Target: target.Availability.Target,
		Compliant: availability >= target.Availability.Target, Samples: total,
	}

	compliant := 0
	for _, r := range []types.MetricResult{meas.Uptime, meas.ResponseTime, meas.ErrorRate, meas.Availability} {
		if r.Compliant {
			compliant++
		}
	}
	meas.OverallCompliance = compliant == 4
	meas.ComplianceScore = 100 * float64(compliant) / 4

	actuals := map[string]float64{
		"uptime":        uptimePct,
		"response_time": respTime,
		"error_rate":    errorRate,
		"availability":  availability,
	}
	for _, rule := range target.Penalties {
		if actual, ok := actuals[rule.Metric]; ok && missesThreshold(rule.Metric, actual, rule.Threshold) {
			meas.Penalties = append(meas.Penalties, types.AppliedPenalty{Rule: rule, Actual: actual})
		}
	}
	for _, rule := range target.Credits {
		if actual, ok := actuals[rule.Metric]; ok && beatsThreshold(rule.Metric, actual, rule.Threshold) {
			meas.Credits = append(meas.Credits, types.EarnedCredit{Rule: rule, Actual: actual})
		}
	}

	meas.DataQuality = m.dataQuality(target, results, start, end)

	if err := m.store.Put(target.NestID, storage.DataTypeSLA, measurementKeyPrefix+meas.ID, meas); err != nil {
		return nil, err
	}
	metrics.SLAMeasurementsTotal.Inc()
	metrics.SLAComplianceScore.WithLabelValues(target.ID).Set(meas.ComplianceScore)
	m.broker.Publish(&events.Event{
		Type:   events.EventSLAMeasured,
		NestID: target.NestID,
		Metadata: map[string]string{
			"sla_target_id":  target.ID,
			"measurement_id": meas.ID,
			"score":          fmt.Sprintf("%.1f", meas.ComplianceScore),
		},
	})
	m.logger.Info().
		Str("nest_id", target.NestID).
		Str("sla_target", target.ID).
		Float64("score", meas.ComplianceScore).
		Bool("compliant", meas.OverallCompliance).
		Msg("sla window measured")
	return meas, nil
}

// loadResults pulls the probe results for the target's scope filtered to the
// window, ordered by timestamp
func (m *Manager) loadResults(target *types.SLATarget, start, end time.Time) ([]*types.ProbeResult, error) {
	rows, err := m.store.ListByType(target.NestID, storage.DataTypeMonitoring)
	if err != nil {
		return nil, err
	}

	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	var out []*types.ProbeResult
	for key, raw := range rows {
		if !strings.HasPrefix(key, checkKeyPrefix) {
			continue
		}
		if target.ServiceID != "" && !strings.HasPrefix(key, checkKeyPrefix+target.ServiceID+":") {
			continue
		}
		r := &types.ProbeResult{}
		if err := json.Unmarshal(raw, r); err != nil {
			continue
		}
		if r.Timestamp < startMs || r.Timestamp > endMs {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// dataQuality derives completeness and gaps from inter-sample spacing. The
// nominal interval comes from the service row when the target is scoped to
// one service, otherwise from the median observed spacing.
func (m *Manager) dataQuality(target *types.SLATarget, results []*types.ProbeResult, start, end time.Time) types.DataQuality {
	if len(results) == 0 {
		return types.DataQuality{Completeness: 0}
	}

	nominalMs := m.nominalIntervalMs(target, results)
	if nominalMs <= 0 {
		return types.DataQuality{Completeness: 1}
	}

	expected := float64(end.Sub(start).Milliseconds()) / float64(nominalMs)
	completeness := float64(len(results)) / expected
	if completeness > 1 {
		completeness = 1
	}

	var gaps []types.DataGap
	for i := 1; i < len(results); i++ {
		delta := results[i].Timestamp - results[i-1].Timestamp
		if delta > gapFactor*nominalMs {
			gaps = append(gaps, types.DataGap{Start: results[i-1].Timestamp, End: results[i].Timestamp})
		}
	}
	return types.DataQuality{Completeness: completeness, Gaps: gaps}
}

func (m *Manager) nominalIntervalMs(target *types.SLATarget, results []*types.ProbeResult) int64 {
	if target.ServiceID != "" {
		svc := &types.NestService{}
		if found, err := m.store.Get(target.NestID, storage.DataTypeConfiguration, "service:"+target.ServiceID, svc); err == nil && found && svc.Interval > 0 {
			return int64(svc.Interval) * 1000
		}
	}
	if len(results) < 2 {
		return 0
	}
	deltas := make([]int64, 0, len(results)-1)
	for i := 1; i < len(results); i++ {
		deltas = append(deltas, results[i].Timestamp-results[i-1].Timestamp)
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}

// percentile returns the nearest-rank percentile of values; 0 when empty
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(p/100*float64(len(sorted))+0.9999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// missesThreshold: lower-is-better metrics miss above the threshold,
// higher-is-better metrics miss below it
func missesThreshold(metric string, actual, threshold float64) bool {
	switch metric {
	case "response_time", "error_rate":
		return actual > threshold
	default: // uptime, availability
		return actual < threshold
	}
}

func beatsThreshold(metric string, actual, threshold float64) bool {
	switch metric {
	case "response_time", "error_rate":
		return actual < threshold
	default:
		return actual > threshold
	}
}
