package probe

import (
	"context"
	"net"
	"testing"

	"github.com/m00npl/guardant/pkg/types"
)

// bannerListener accepts connections and writes greeting to each
func bannerListener(t *testing.T, greeting string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if greeting != "" {
				_, _ = conn.Write([]byte(greeting))
			}
			conn.Close()
		}
	}()
	return ln
}

func TestPortChecker_Open(t *testing.T) {
	ln := bannerListener(t, "")
	defer ln.Close()

	svc := &types.NestService{Type: types.ServiceTypePort, Target: ln.Addr().String()}
	result := NewPortChecker().Check(context.Background(), svc)

	if result.Status != types.StatusUp {
		t.Errorf("Expected up for open port, got %s: %s", result.Status, result.Message)
	}
}

func TestPortChecker_BannerMatch(t *testing.T) {
	ln := bannerListener(t, "SSH-2.0-OpenSSH_9.6\r\n")
	defer ln.Close()

	svc := &types.NestService{
		Type:   types.ServiceTypePort,
		Target: ln.Addr().String(),
		Port:   &types.PortConfig{Banner: "SSH-2.0"},
	}
	result := NewPortChecker().Check(context.Background(), svc)

	if result.Status != types.StatusUp {
		t.Errorf("Expected up for matching banner, got %s: %s", result.Status, result.Message)
	}
}

func TestPortChecker_BannerMismatch(t *testing.T) {
	ln := bannerListener(t, "220 smtp.example.com ESMTP\r\n")
	defer ln.Close()

	svc := &types.NestService{
		Type:   types.ServiceTypePort,
		Target: ln.Addr().String(),
		Port:   &types.PortConfig{Banner: "SSH-2.0"},
	}
	result := NewPortChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Errorf("Expected down for banner mismatch, got %s: %s", result.Status, result.Message)
	}
}

func TestPortChecker_UDPUnsupported(t *testing.T) {
	svc := &types.NestService{
		Type:   types.ServiceTypePort,
		Target: "127.0.0.1:53",
		Port:   &types.PortConfig{Protocol: "udp"},
	}
	result := NewPortChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Errorf("Expected down for udp, got %s", result.Status)
	}
	if result.Message != "UDP monitoring not yet implemented" {
		t.Errorf("Unexpected udp message: %q", result.Message)
	}
}

func TestPortChecker_InvalidTarget(t *testing.T) {
	svc := &types.NestService{Type: types.ServiceTypePort, Target: "no-port-here"}
	result := NewPortChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Errorf("Expected down for invalid target, got %s", result.Status)
	}
}

func TestTCPChecker_ClosedPort(t *testing.T) {
	svc := &types.NestService{Type: types.ServiceTypeTCP, Target: "127.0.0.1:1"}
	result := NewTCPChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Errorf("Expected down for closed port, got %s", result.Status)
	}
}

func TestTCPChecker_OpenPort(t *testing.T) {
	ln := bannerListener(t, "")
	defer ln.Close()

	svc := &types.NestService{Type: types.ServiceTypeTCP, Target: ln.Addr().String()}
	result := NewTCPChecker().Check(context.Background(), svc)

	if result.Status != types.StatusUp {
		t.Errorf("Expected up for open port, got %s: %s", result.Status, result.Message)
	}
}
