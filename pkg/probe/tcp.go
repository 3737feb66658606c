package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// TCPChecker probes raw TCP endpoints; up means the connection opened
type TCPChecker struct{}

// NewTCPChecker creates a new TCP checker
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

// Check performs the TCP check. Target must be host:port.
func (t *TCPChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	host, port, err := net.SplitHostPort(svc.Target)
	if err != nil {
		return down(start, fmt.Sprintf("invalid target %q: expected host:port", svc.Target))
	}

	dialer := &net.Dialer{}
	begin := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return failure(start, err)
	}
	latency := time.Since(begin).Milliseconds()
	conn.Close()

	return up(start, fmt.Sprintf("TCP connection to %s successful", svc.Target), latency)
}

// Type returns the service type
func (t *TCPChecker) Type() types.ServiceType {
	return types.ServiceTypeTCP
}
