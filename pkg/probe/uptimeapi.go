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

// UptimeAPIChecker consumes a generic uptime-API JSON feed. The feed must
// expose a monitors array; the service is down iff any monitor is down
// (maintenance counts as up).
type UptimeAPIChecker struct{}

// NewUptimeAPIChecker creates a new uptime-API checker
func NewUptimeAPIChecker() *UptimeAPIChecker {
	return &UptimeAPIChecker{}
}

type uptimeFeed struct {
	Monitors []uptimeMonitor `json:"monitors"`
}

type uptimeMonitor struct {
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	Availability float64 `json:"availability"`
	Incidents    int     `json:"incidents"`
}

// Check performs the feed check
func (u *UptimeAPIChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	url := svc.Target
	if svc.Uptime != nil && svc.Uptime.URL != "" {
		url = svc.Uptime.URL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return down(start, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return failure(start, err)
	}
	defer resp.Body.Close()
	latency := time.Since(begin).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return down(start, fmt.Sprintf("feed returned HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(start, err)
	}

	var feed uptimeFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return down(start, fmt.Sprintf("bad feed payload: %v", err))
	}
	if feed.Monitors == nil {
		return down(start, "feed has no monitors array")
	}

	meta := make(map[string]string, len(feed.Monitors)*2)
	var downNames []string
	for _, m := range feed.Monitors {
		meta["availability:"+m.Name] = strconv.FormatFloat(m.Availability, 'f', 2, 64)
		meta["incidents:"+m.Name] = strconv.Itoa(m.Incidents)
		if strings.EqualFold(m.Status, "down") {
			downNames = append(downNames, m.Name)
		}
	}

	if len(downNames) > 0 {
		r := down(start, fmt.Sprintf("%d of %d monitors down: %s",
			len(downNames), len(feed.Monitors), strings.Join(downNames, ", ")))
		r.Metadata = meta
		return r
	}

	r := up(start, fmt.Sprintf("all %d monitors up", len(feed.Monitors)), latency)
	r.Metadata = meta
	return r
}

// Type returns the service type
func (u *UptimeAPIChecker) Type() types.ServiceType {
	return types.ServiceTypeUptimeAPI
}
