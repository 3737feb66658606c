package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// commonPorts probed when ICMP is unavailable, in order
var commonPorts = []int{80, 443, 22, 21, 25, 53, 110, 993, 995}

// PingChecker probes host reachability. ICMP first, then a fixed set of
// common TCP ports, then HTTP and HTTPS HEAD. The fall-through order is part
// of the contract: a blocked ICMP path with any listed port open is still up.
type PingChecker struct {
	// pingBinary allows tests to stub the system ping
	pingBinary string
}

// NewPingChecker creates a new ping checker
func NewPingChecker() *PingChecker {
	return &PingChecker{pingBinary: "ping"}
}

// Check performs the reachability check
func (p *PingChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()
	host := hostFromTarget(svc.Target)
	if host == "" {
		return down(start, fmt.Sprintf("invalid target %q", svc.Target))
	}

	// 1. System ping, one packet, short deadline
	if latency, ok := p.systemPing(ctx, host); ok {
		return up(start, fmt.Sprintf("ICMP ping to %s successful", host), latency)
	}

	// 2. Common TCP ports, first success wins
	for _, port := range commonPorts {
		if err := ctx.Err(); err != nil {
			return failure(start, err)
		}
		if latency, ok := tryPort(ctx, host, port); ok {
			return up(start, fmt.Sprintf("host %s reachable on tcp/%d", host, port), latency)
		}
	}

	// 3. HTTP then HTTPS HEAD
	for _, scheme := range []string{"http", "https"} {
		if err := ctx.Err(); err != nil {
			return failure(start, err)
		}
		if latency, ok := tryHead(ctx, scheme+"://"+host); ok {
			return up(start, fmt.Sprintf("host %s reachable over %s", host, scheme), latency)
		}
	}

	if ctx.Err() != nil {
		return down(start, TimeoutMessage)
	}
	return down(start, fmt.Sprintf("host %s unreachable via ICMP, TCP and HTTP", host))
}

// Type returns the service type
func (p *PingChecker) Type() types.ServiceType {
	return types.ServiceTypePing
}

func (p *PingChecker) systemPing(ctx context.Context, host string) (int64, bool) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	begin := time.Now()
	cmd := exec.CommandContext(pingCtx, p.pingBinary, "-c", "1", "-W", "3", host)
	if err := cmd.Run(); err != nil {
		return 0, false
	}
	return time.Since(begin).Milliseconds(), true
}

func tryPort(ctx context.Context, host string, port int) (int64, bool) {
	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	dialer := &net.Dialer{}
	begin := time.Now()
	conn, err := dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return 0, false
	}
	conn.Close()
	return time.Since(begin).Milliseconds(), true
}

func tryHead(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	begin := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	// Any response at all proves reachability
	return time.Since(begin).Milliseconds(), true
}
