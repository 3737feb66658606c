package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// HeartbeatChecker is the only executor with no network I/O: it compares the
// last ingested heartbeat timestamp against the expected interval. The
// timestamp is written out-of-band by the heartbeat ingestion path and flows
// in on the service row.
type HeartbeatChecker struct {
	// now allows tests to freeze time
	now func() time.Time
}

// NewHeartbeatChecker creates a new heartbeat checker
func NewHeartbeatChecker() *HeartbeatChecker {
	return &HeartbeatChecker{now: time.Now}
}

// Check performs the heartbeat check
func (h *HeartbeatChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := h.now()

	if svc.Heartbeat == nil || svc.Heartbeat.ExpectedInterval <= 0 {
		return down(start, "heartbeat configuration missing")
	}
	cfg := svc.Heartbeat

	if cfg.LastHeartbeat == 0 {
		return down(start, "no heartbeat received yet")
	}

	elapsed := start.UnixMilli() - cfg.LastHeartbeat
	allowed := int64(cfg.ExpectedInterval+cfg.Tolerance) * 1000

	if elapsed > allowed {
		return down(start, fmt.Sprintf("last heartbeat %ds ago, allowed %ds",
			elapsed/1000, allowed/1000))
	}
	return up(start, fmt.Sprintf("heartbeat received %ds ago", elapsed/1000), 0)
}

// Type returns the service type
func (h *HeartbeatChecker) Type() types.ServiceType {
	return types.ServiceTypeHeartbeat
}
