package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/m00npl/guardant/pkg/types"
)

// DefaultWarningDays is how close to expiry a certificate may get before the
// check fails
const DefaultWarningDays = 30

// SSLChecker connects with SNI and inspects the peer certificate chain
type SSLChecker struct{}

// NewSSLChecker creates a new SSL checker
func NewSSLChecker() *SSLChecker {
	return &SSLChecker{}
}

// Check performs the certificate check
func (s *SSLChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	warningDays := DefaultWarningDays
	if svc.SSL != nil && svc.SSL.WarningDays > 0 {
		warningDays = svc.SSL.WarningDays
	}

	host, port := splitHostPortDefault(svc.Target, "443")

	dialer := &net.Dialer{}
	begin := time.Now()
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return failure(start, err)
	}
	defer rawConn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = rawConn.SetDeadline(deadline)
	}

	conn := tls.Client(rawConn, &tls.Config{
		ServerName: host,
		// Expiry is judged below; let handshakes with expired certs complete
		InsecureSkipVerify: true,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		return failure(start, err)
	}
	latency := time.Since(begin).Milliseconds()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return down(start, "no peer certificate presented")
	}
	cert := certs[0]

	now := time.Now()
	validTo := cert.NotAfter.Format(time.RFC3339)
	if now.After(cert.NotAfter) {
		return down(start, fmt.Sprintf("certificate expired, valid_to=%s", validTo))
	}
	if time.Until(cert.NotAfter) <= time.Duration(warningDays)*24*time.Hour {
		days := int(time.Until(cert.NotAfter).Hours() / 24)
		return down(start, fmt.Sprintf("certificate expires in %d day(s), valid_to=%s", days, validTo))
	}

	return up(start, fmt.Sprintf("certificate valid, valid_to=%s", validTo), latency)
}

// Type returns the service type
func (s *SSLChecker) Type() types.ServiceType {
	return types.ServiceTypeSSL
}

func splitHostPortDefault(target, defaultPort string) (string, string) {
	t := target
	if i := strings.Index(t, "://"); i >= 0 {
		t = t[i+3:]
	}
	if i := strings.IndexAny(t, "/?#"); i >= 0 {
		t = t[:i]
	}
	if host, port, err := net.SplitHostPort(t); err == nil {
		return host, port
	}
	return t, defaultPort
}
