package probe

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"

	"github.com/m00npl/guardant/pkg/types"
)

// startResolver runs a local DNS server and returns its address
func startResolver(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func answerWith(t *testing.T, records ...string) dns.HandlerFunc {
	t.Helper()
	return func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		for _, rec := range records {
			rr, err := dns.NewRR(req.Question[0].Name + " 60 IN " + rec)
			if err != nil {
				t.Errorf("bad record %q: %v", rec, err)
				continue
			}
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	}
}

func dnsService(resolver, target string, cfg *types.DNSConfig) *types.NestService {
	if cfg == nil {
		cfg = &types.DNSConfig{}
	}
	cfg.Resolver = resolver
	return &types.NestService{Type: types.ServiceTypeDNS, Target: target, DNS: cfg}
}

func TestDNSChecker_ARecord(t *testing.T) {
	resolver := startResolver(t, answerWith(t, "A 192.0.2.10"))

	result := NewDNSChecker().Check(context.Background(), dnsService(resolver, "example.test", nil))

	if result.Status != types.StatusUp {
		t.Fatalf("Expected up, got %s: %s", result.Status, result.Message)
	}
	if !strings.Contains(result.Metadata["records"], "192.0.2.10") {
		t.Errorf("Expected resolved address in metadata, got %q", result.Metadata["records"])
	}
}

func TestDNSChecker_ExpectedValueMatch(t *testing.T) {
	resolver := startResolver(t, answerWith(t, "A 192.0.2.10", "A 192.0.2.11"))

	svc := dnsService(resolver, "example.test", &types.DNSConfig{ExpectedValue: "192.0.2.11"})
	result := NewDNSChecker().Check(context.Background(), svc)

	if result.Status != types.StatusUp {
		t.Errorf("Expected up for matching value, got %s: %s", result.Status, result.Message)
	}
}

func TestDNSChecker_ExpectedValueMismatch(t *testing.T) {
	resolver := startResolver(t, answerWith(t, "A 192.0.2.10"))

	svc := dnsService(resolver, "example.test", &types.DNSConfig{ExpectedValue: "198.51.100.1"})
	result := NewDNSChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Fatalf("Expected down for mismatch, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "matches") || !strings.Contains(result.Message, "192.0.2.10") {
		t.Errorf("Message should name the returned records: %q", result.Message)
	}
}

func TestDNSChecker_NXDomain(t *testing.T) {
	resolver := startResolver(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	result := NewDNSChecker().Check(context.Background(), dnsService(resolver, "gone.test", nil))

	if result.Status != types.StatusDown {
		t.Fatalf("Expected down for NXDOMAIN, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "NXDOMAIN") {
		t.Errorf("Expected NXDOMAIN in message, got %q", result.Message)
	}
}

func TestDNSChecker_EmptyAnswer(t *testing.T) {
	resolver := startResolver(t, answerWith(t))

	result := NewDNSChecker().Check(context.Background(), dnsService(resolver, "empty.test", nil))

	if result.Status != types.StatusDown {
		t.Fatalf("Expected down for empty answer, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "no A records") {
		t.Errorf("Unexpected message: %q", result.Message)
	}
}

func TestDNSChecker_MXRecord(t *testing.T) {
	resolver := startResolver(t, answerWith(t, "MX 10 mail.example.test."))

	svc := dnsService(resolver, "example.test", &types.DNSConfig{
		RecordType:    "mx",
		ExpectedValue: "mail.example.test",
	})
	result := NewDNSChecker().Check(context.Background(), svc)

	if result.Status != types.StatusUp {
		t.Errorf("Expected up for MX match, got %s: %s", result.Status, result.Message)
	}
}

func TestDNSChecker_UnsupportedRecordType(t *testing.T) {
	svc := dnsService("127.0.0.1:53", "example.test", &types.DNSConfig{RecordType: "SRV"})
	result := NewDNSChecker().Check(context.Background(), svc)

	if result.Status != types.StatusDown {
		t.Fatalf("Expected down for unsupported type, got %s", result.Status)
	}
	if !strings.Contains(result.Message, `unsupported record type "SRV"`) {
		t.Errorf("Unexpected message: %q", result.Message)
	}
}

func TestDNSChecker_ResolverUnreachable(t *testing.T) {
	// Nothing listens here; the query must fail within the 5s query timeout
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	addr := pc.LocalAddr().String()
	pc.Close()

	result := NewDNSChecker().Check(context.Background(), dnsService(addr, "example.test", nil))

	if result.Status != types.StatusDown {
		t.Errorf("Expected down for unreachable resolver, got %s", result.Status)
	}
}
