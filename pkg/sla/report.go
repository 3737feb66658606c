package sla

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/ids"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

// trendThreshold: average score movement beyond this fraction flips the
// trend away from stable
const trendThreshold = 0.10

// FileGenerator renders a report into one artifact format. The core only
// emits the structured report and the resulting file descriptors.
type FileGenerator interface {
	Generate(report *types.SLAReport, format string) (types.ReportFile, error)
}

// GenerateReport aggregates a nest's measurements over a window into a
// report, rendering one file per requested format through gen. A nil gen
// produces the structured report only.
func (m *Manager) GenerateReport(nestID string, start, end time.Time, formats []string, gen FileGenerator) (*types.SLAReport, error) {
	measurements, err := m.loadMeasurements(nestID, start, end)
	if err != nil {
		return nil, err
	}

	report := &types.SLAReport{
		ID:          ids.New(ids.PrefixReport),
		NestID:      nestID,
		WindowStart: start.UnixMilli(),
		WindowEnd:   end.UnixMilli(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	byTarget := make(map[string][]*types.SLAMeasurement)
	for _, meas := range measurements {
		byTarget[meas.SLATargetID] = append(byTarget[meas.SLATargetID], meas)
	}

	targetIDs := make([]string, 0, len(byTarget))
	for id := range byTarget {
		targetIDs = append(targetIDs, id)
	}
	sort.Strings(targetIDs)

	var scoreSum float64
	for _, targetID := range targetIDs {
		series := byTarget[targetID]
		sort.Slice(series, func(i, j int) bool { return series[i].WindowStart < series[j].WindowStart })

		perf := types.TargetPerformance{
			SLATargetID:  targetID,
			ServiceID:    series[0].ServiceID,
			Measurements: len(series),
			Trend:        trend(series),
		}
		var sum float64
		for _, meas := range series {
			sum += meas.ComplianceScore
			if meas.OverallCompliance {
				perf.CompliantCount++
			} else {
				report.Incidents++
			}
		}
		perf.AverageScore = sum / float64(len(series))
		latest := series[len(series)-1]
		perf.LatestUptime = latest.Uptime.Actual
		perf.LatestErrorRate = latest.ErrorRate.Actual

		report.Targets = append(report.Targets, perf)
		scoreSum += perf.AverageScore
		if perf.CompliantCount == perf.Measurements {
			report.Compliant++
		}
	}
	report.TotalTargets = len(report.Targets)
	if report.TotalTargets > 0 {
		report.AverageScore = scoreSum / float64(report.TotalTargets)
	}

	if gen != nil {
		for _, format := range formats {
			file, err := gen.Generate(report, format)
			if err != nil {
				m.logger.Warn().Err(err).Str("format", format).Msg("report file generation failed")
				continue
			}
			report.Files = append(report.Files, file)
		}
	}

	if err := m.store.Put(nestID, storage.DataTypeSLA, reportKeyPrefix+report.ID, report); err != nil {
		return nil, err
	}
	m.broker.Publish(&events.Event{
		Type:   events.EventSLAReportGenerated,
		NestID: nestID,
		Metadata: map[string]string{
			"report_id": report.ID,
			"targets":   strconv.Itoa(report.TotalTargets),
		},
	})
	return report, nil
}

func (m *Manager) loadMeasurements(nestID string, start, end time.Time) ([]*types.SLAMeasurement, error) {
	rows, err := m.store.ListByType(nestID, storage.DataTypeSLA)
	if err != nil {
		return nil, err
	}
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	var out []*types.SLAMeasurement
	for key, raw := range rows {
		if !strings.HasPrefix(key, measurementKeyPrefix) {
			continue
		}
		meas := &types.SLAMeasurement{}
		if err := json.Unmarshal(raw, meas); err != nil {
			continue
		}
		if meas.WindowEnd < startMs || meas.WindowStart > endMs {
			continue
		}
		out = append(out, meas)
	}
	return out, nil
}

// trend compares the average score of the older half of the series against
// the newer half; movement within 10% is stable
func trend(series []*types.SLAMeasurement) types.TrendDirection {
	if len(series) < 2 {
		return types.TrendStable
	}
	mid := len(series) / 2
	older := averageScore(series[:mid])
	newer := averageScore(series[mid:])
	if older == 0 {
		return types.TrendStable
	}
	change := (newer - older) / older
	switch {
	case change > trendThreshold:
		return types.TrendImproving
	case change < -trendThreshold:
		return types.TrendDegrading
	default:
		return types.TrendStable
	}
}

func averageScore(series []*types.SLAMeasurement) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, meas := range series {
		sum += meas.ComplianceScore
	}
	return sum / float64(len(series))
}
