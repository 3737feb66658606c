package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/engine"
	"github.com/m00npl/guardant/pkg/jobs"
	"github.com/m00npl/guardant/pkg/notify"
	"github.com/m00npl/guardant/pkg/sla"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

// registerProcessors installs the built-in job types. Probe checks, SLA
// windows, retention cleanup, notification delivery and report generation
// all run through the job system so queue priorities and retry policies
// apply uniformly.
func registerProcessors(jm *jobs.Manager, eng *engine.Engine, slaMgr *sla.Manager, store storage.Store, dispatcher *notify.Dispatcher, cfg *config.Config) {
	jm.RegisterProcessor("probe-check", func(ctx context.Context, job *jobs.Job, _ *jobs.Execution) error {
		nestID := dataString(job, "nestId")
		serviceID := dataString(job, "serviceId")
		svc, err := eng.GetService(nestID, serviceID)
		if err != nil {
			return err
		}
		result := eng.CheckService(ctx, svc)
		if result.Status == types.StatusDown {
			return fmt.Errorf("service %s is down: %s", serviceID, result.Message)
		}
		return nil
	})

	jm.RegisterProcessor("sla-measurement", func(_ context.Context, job *jobs.Job, _ *jobs.Execution) error {
		nestID := dataString(job, "nestId")
		targetID := dataString(job, "slaTargetId")
		start, end, err := dataWindow(job)
		if err != nil {
			return err
		}
		_, err = slaMgr.Measure(nestID, targetID, start, end)
		return err
	})

	jm.RegisterProcessor("probe-retention-cleanup", func(_ context.Context, job *jobs.Job, _ *jobs.Execution) error {
		nestID := dataString(job, "nestId")
		cutoff := time.Now().AddDate(0, 0, -cfg.SLA.DataRetentionDays).UnixMilli()
		keys, err := store.ListKeys(nestID, storage.DataTypeMonitoring, "check:")
		if err != nil {
			return err
		}
		for _, key := range keys {
			// key shape: check:<serviceId>:<timestamp-ms>
			idx := strings.LastIndexByte(key, ':')
			if idx < 0 {
				continue
			}
			ts, err := strconv.ParseInt(key[idx+1:], 10, 64)
			if err != nil || ts >= cutoff {
				continue
			}
			if err := store.Delete(nestID, storage.DataTypeMonitoring, key); err != nil {
				return err
			}
		}
		return nil
	})

	jm.RegisterProcessor("notification-delivery", func(ctx context.Context, job *jobs.Job, _ *jobs.Execution) error {
		dispatcher.Dispatch(ctx, notify.Message{
			Channel: notify.Channel(dataString(job, "channel")),
			Target:  dataString(job, "target"),
			Subject: dataString(job, "subject"),
			Body:    dataString(job, "body"),
		})
		return nil
	})

	jm.RegisterProcessor("report-generation", func(_ context.Context, job *jobs.Job, _ *jobs.Execution) error {
		nestID := dataString(job, "nestId")
		start, end, err := dataWindow(job)
		if err != nil {
			return err
		}
		var formats []string
		if raw, ok := job.Data["formats"].([]any); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					formats = append(formats, s)
				}
			}
		}
		gen := &jsonReportWriter{dir: filepath.Join(cfg.DataDir, "reports")}
		_, err = slaMgr.GenerateReport(nestID, start, end, formats, gen)
		return err
	})
}

func dataString(job *jobs.Job, key string) string {
	if v, ok := job.Data[key].(string); ok {
		return v
	}
	return ""
}

// dataWindow reads windowStart/windowEnd in ms since epoch from job data
func dataWindow(job *jobs.Job) (time.Time, time.Time, error) {
	start, ok1 := dataInt64(job, "windowStart")
	end, ok2 := dataInt64(job, "windowEnd")
	if !ok1 || !ok2 || end <= start {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid input: windowStart and windowEnd are required")
	}
	return time.UnixMilli(start), time.UnixMilli(end), nil
}

func dataInt64(job *jobs.Job, key string) (int64, bool) {
	switch v := job.Data[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// jsonReportWriter renders json-format reports to the data directory.
// Other formats come from external generators this binary does not bundle.
type jsonReportWriter struct {
	dir string
}

func (w *jsonReportWriter) Generate(report *types.SLAReport, format string) (types.ReportFile, error) {
	if format != "json" {
		return types.ReportFile{}, fmt.Errorf("no generator for format %q", format)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return types.ReportFile{}, err
	}
	path := filepath.Join(w.dir, report.ID+".json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return types.ReportFile{}, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.ReportFile{}, err
	}
	return types.ReportFile{Format: "json", URL: "file://" + path}, nil
}
