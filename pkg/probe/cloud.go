package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// Published status feeds per provider; overridable through CloudConfig
var cloudFeedDefaults = map[types.ServiceType]string{
	types.ServiceTypeAWSHealth: "https://status.aws.amazon.com/rss/all.rss",
	types.ServiceTypeAzure:     "https://status.azure.com/en-us/status/feed/",
	types.ServiceTypeGCPHealth: "https://status.cloud.google.com/incidents.json",
}

// incidentMarkers flag trouble in AWS/Azure RSS feeds
var incidentMarkers = []string{"degraded", "disruption", "outage", "incident"}

// CloudChecker scans a provider status feed: substring markers for the RSS
// feeds (AWS, Azure), unresolved incident counting for the GCP JSON feed
type CloudChecker struct {
	serviceType types.ServiceType
}

// NewCloudChecker creates a checker for one cloud provider
func NewCloudChecker(t types.ServiceType) *CloudChecker {
	return &CloudChecker{serviceType: t}
}

// Check performs the status-feed check
func (c *CloudChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	url := cloudFeedDefaults[c.serviceType]
	if svc.Cloud != nil && svc.Cloud.FeedURL != "" {
		url = svc.Cloud.FeedURL
	} else if svc.Target != "" && strings.HasPrefix(svc.Target, "http") {
		url = svc.Target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return down(start, err.Error())
	}

	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return failure(start, err)
	}
	defer resp.Body.Close()
	latency := time.Since(begin).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return down(start, fmt.Sprintf("status feed returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return failure(start, err)
	}

	if c.serviceType == types.ServiceTypeGCPHealth {
		return c.checkGCP(start, body, latency)
	}
	return c.checkRSS(start, body, latency)
}

// Type returns the service type
func (c *CloudChecker) Type() types.ServiceType {
	return c.serviceType
}

func (c *CloudChecker) checkRSS(start time.Time, body []byte, latency int64) Result {
	text := strings.ToLower(string(body))
	var hits []string
	for _, marker := range incidentMarkers {
		if strings.Contains(text, marker) {
			hits = append(hits, marker)
		}
	}
	if len(hits) > 0 {
		return down(start, fmt.Sprintf("status feed reports: %s", strings.Join(hits, ", ")))
	}
	return up(start, "no incidents reported", latency)
}

type gcpIncident struct {
	ID    string `json:"id"`
	Begin string `json:"begin"`
	End   string `json:"end"`
}

func (c *CloudChecker) checkGCP(start time.Time, body []byte, latency int64) Result {
	var incidents []gcpIncident
	if err := json.Unmarshal(body, &incidents); err != nil {
		return down(start, fmt.Sprintf("bad incident feed: %v", err))
	}

	now := time.Now()
	open := 0
	for _, inc := range incidents {
		if inc.End == "" {
			open++
			continue
		}
		if end, err := time.Parse(time.RFC3339, inc.End); err == nil && end.After(now) {
			open++
		}
	}

	if open > 0 {
		r := down(start, fmt.Sprintf("%d unresolved incident(s)", open))
		r.Metadata = map[string]string{"open_incidents": strconv.Itoa(open)}
		return r
	}
	return up(start, "no unresolved incidents", latency)
}
