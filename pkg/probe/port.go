package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

const (
	bannerReadTimeout = 2 * time.Second
	bannerReadLimit   = 1024
)

// PortChecker connects to host:port and optionally requires a banner
// substring in the first kilobyte the server sends
type PortChecker struct{}

// NewPortChecker creates a new port checker
func NewPortChecker() *PortChecker {
	return &PortChecker{}
}

// Check performs the port check
func (p *PortChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	if svc.Port != nil && strings.EqualFold(svc.Port.Protocol, "udp") {
		return down(start, "UDP monitoring not yet implemented")
	}

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
	defer conn.Close()
	latency := time.Since(begin).Milliseconds()

	if svc.Port == nil || svc.Port.Banner == "" {
		return up(start, fmt.Sprintf("port %s open", port), latency)
	}

	_ = conn.SetReadDeadline(time.Now().Add(bannerReadTimeout))
	buf := make([]byte, bannerReadLimit)
	n, _ := conn.Read(buf)
	banner := string(buf[:n])

	if !strings.Contains(banner, svc.Port.Banner) {
		return down(start, fmt.Sprintf("banner %q not found in greeting", svc.Port.Banner))
	}
	return up(start, fmt.Sprintf("port %s open, banner matched", port), latency)
}

// Type returns the service type
func (p *PortChecker) Type() types.ServiceType {
	return types.ServiceTypePort
}
