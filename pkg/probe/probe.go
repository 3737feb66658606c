package probe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// Result is the outcome of one executor invocation. Executors never return
// errors; failures are folded into Status/Message.
type Result struct {
	Status       types.ServiceStatus
	Message      string
	ResponseTime int64 // ms, 0 when not applicable
	Duration     time.Duration
	Metadata     map[string]string
}

// Executor performs one check attempt for a service type. Implementations are
// stateless and safe under parallel invocation; the deadline arrives through
// ctx and an expired deadline yields `down "Request timeout"`.
type Executor interface {
	Check(ctx context.Context, svc *types.NestService) Result

	Type() types.ServiceType
}

// httpClient is shared by every HTTP-speaking executor. No client timeout:
// the per-attempt deadline travels in the request context.
var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 4,
		DisableKeepAlives:   false,
	},
}

// TimeoutMessage is the canonical message for an expired check deadline
const TimeoutMessage = "Request timeout"

// down builds a failing result
func down(start time.Time, message string) Result {
	return Result{
		Status:   types.StatusDown,
		Message:  message,
		Duration: time.Since(start),
	}
}

// up builds a passing result
func up(start time.Time, message string, responseTime int64) Result {
	return Result{
		Status:       types.StatusUp,
		Message:      message,
		ResponseTime: responseTime,
		Duration:     time.Since(start),
	}
}

// failure translates a transport error, mapping deadline expiry to the
// canonical timeout message
func failure(start time.Time, err error) Result {
	if isTimeout(err) {
		return down(start, TimeoutMessage)
	}
	return down(start, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// net/http wraps the context error into a *url.Error with a text marker
	return err != nil && strings.Contains(err.Error(), "context deadline exceeded")
}

// hostFromTarget strips an URL scheme, path and port from a target string
func hostFromTarget(target string) string {
	host := target
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	return host
}
