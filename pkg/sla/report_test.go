package sla

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

// fakeGenerator records requested formats and can fail selectively
type fakeGenerator struct {
	formats    []string
	failFormat string
}

func (g *fakeGenerator) Generate(report *types.SLAReport, format string) (types.ReportFile, error) {
	if format == g.failFormat {
		return types.ReportFile{}, fmt.Errorf("renderer for %s unavailable", format)
	}
	g.formats = append(g.formats, format)
	return types.ReportFile{Format: format, URL: "file:///reports/" + report.ID + "." + format}, nil
}

// seedMeasurements writes a series of hourly measurements for one target
func seedMeasurements(t *testing.T, store storage.Store, nestID, targetID, serviceID string, base time.Time, scores []float64) {
	t.Helper()
	for i, score := range scores {
		ws := base.Add(time.Duration(i) * time.Hour)
		meas := &types.SLAMeasurement{
			ID:                fmt.Sprintf("meas_%s_%d", targetID, i),
			SLATargetID:       targetID,
			NestID:            nestID,
			ServiceID:         serviceID,
			WindowStart:       ws.UnixMilli(),
			WindowEnd:         ws.Add(time.Hour).UnixMilli(),
			ComplianceScore:   score,
			OverallCompliance: score == 100,
			Uptime:            types.MetricResult{Actual: score},
			ErrorRate:         types.MetricResult{Actual: 100 - score},
			CreatedAt:         time.Now().UnixMilli(),
		}
		key := measurementKeyPrefix + meas.ID
		require.NoError(t, store.Put(nestID, storage.DataTypeSLA, key, meas))
	}
}

func TestGenerateReport_Aggregation(t *testing.T) {
	m, store := newTestManager(t)

	base := time.Now().Add(-24 * time.Hour).Truncate(time.Hour)
	// Target A recovers over the window; target B never misses
	seedMeasurements(t, store, "nest-1", "sla_a", "svc_api", base, []float64{50, 50, 100, 100})
	seedMeasurements(t, store, "nest-1", "sla_b", "svc_web", base, []float64{100, 100, 100, 100})

	gen := &fakeGenerator{}
	report, err := m.GenerateReport("nest-1", base, base.Add(6*time.Hour), []string{"json", "csv"}, gen)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalTargets)
	assert.Equal(t, 1, report.Compliant, "only the target with every window compliant counts")
	assert.Equal(t, 2, report.Incidents)
	assert.InDelta(t, 87.5, report.AverageScore, 0.01) // (75 + 100) / 2

	require.Len(t, report.Targets, 2)
	a, b := report.Targets[0], report.Targets[1]
	assert.Equal(t, "sla_a", a.SLATargetID)
	assert.Equal(t, types.TrendImproving, a.Trend)
	assert.Equal(t, 2, a.CompliantCount)
	assert.InDelta(t, 75.0, a.AverageScore, 0.01)
	assert.InDelta(t, 100.0, a.LatestUptime, 0.01)
	assert.Equal(t, types.TrendStable, b.Trend)

	assert.Equal(t, []string{"json", "csv"}, gen.formats)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "json", report.Files[0].Format)
}

func TestGenerateReport_FailedFormatSkipped(t *testing.T) {
	m, store := newTestManager(t)

	base := time.Now().Add(-24 * time.Hour).Truncate(time.Hour)
	seedMeasurements(t, store, "nest-1", "sla_a", "svc_api", base, []float64{100})

	gen := &fakeGenerator{failFormat: "pdf"}
	report, err := m.GenerateReport("nest-1", base, base.Add(2*time.Hour), []string{"pdf", "json"}, gen)
	require.NoError(t, err, "a failed renderer must not fail the report")

	require.Len(t, report.Files, 1)
	assert.Equal(t, "json", report.Files[0].Format)
}

func TestGenerateReport_EmptyWindow(t *testing.T) {
	m, _ := newTestManager(t)

	base := time.Now().Add(-24 * time.Hour)
	report, err := m.GenerateReport("nest-1", base, base.Add(time.Hour), nil, nil)
	require.NoError(t, err)

	assert.Zero(t, report.TotalTargets)
	assert.Zero(t, report.AverageScore)
	assert.Empty(t, report.Targets)

	// The empty report is still durable
	loaded := &types.SLAReport{}
	found, err := m.store.Get("nest-1", storage.DataTypeSLA, reportKeyPrefix+report.ID, loaded)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestGenerateReport_WindowOverlapFilter(t *testing.T) {
	m, store := newTestManager(t)

	base := time.Now().Add(-48 * time.Hour).Truncate(time.Hour)
	seedMeasurements(t, store, "nest-1", "sla_a", "svc_api", base, []float64{100, 100})

	// A report window starting after the measurements excludes them
	report, err := m.GenerateReport("nest-1", base.Add(12*time.Hour), base.Add(24*time.Hour), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.TotalTargets)

	// A window overlapping the tail of a measurement includes it
	report, err = m.GenerateReport("nest-1", base.Add(90*time.Minute), base.Add(3*time.Hour), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalTargets)
}

func TestTrend(t *testing.T) {
	series := func(scores ...float64) []*types.SLAMeasurement {
		out := make([]*types.SLAMeasurement, len(scores))
		for i, s := range scores {
			out[i] = &types.SLAMeasurement{WindowStart: int64(i), ComplianceScore: s}
		}
		return out
	}

	tests := []struct {
		name   string
		series []*types.SLAMeasurement
		want   types.TrendDirection
	}{
		{"single measurement", series(100), types.TrendStable},
		{"flat", series(75, 75, 75, 75), types.TrendStable},
		{"improving", series(50, 50, 100, 100), types.TrendImproving},
		{"degrading", series(100, 100, 50, 50), types.TrendDegrading},
		{"within threshold", series(95, 100), types.TrendStable},
		{"older half zero", series(0, 0, 100, 100), types.TrendStable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, trend(tc.series))
		})
	}
}
