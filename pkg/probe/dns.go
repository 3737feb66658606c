package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/m00npl/guardant/pkg/types"
)

// DefaultResolver is used when the service config does not name one
const DefaultResolver = "8.8.8.8"

// dnsQueryTimeout is the hard per-query limit regardless of the check deadline
const dnsQueryTimeout = 5 * time.Second

var recordTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"TXT":   dns.TypeTXT,
	"NS":    dns.TypeNS,
}

// DNSChecker resolves records against an explicit resolver and optionally
// matches an expected value against any returned record
type DNSChecker struct{}

// NewDNSChecker creates a new DNS checker
func NewDNSChecker() *DNSChecker {
	return &DNSChecker{}
}

// Check performs the DNS check
func (d *DNSChecker) Check(ctx context.Context, svc *types.NestService) Result {
	start := time.Now()

	recordType := "A"
	resolver := DefaultResolver
	expected := ""
	if svc.DNS != nil {
		if svc.DNS.RecordType != "" {
			recordType = strings.ToUpper(svc.DNS.RecordType)
		}
		if svc.DNS.Resolver != "" {
			resolver = svc.DNS.Resolver
		}
		expected = svc.DNS.ExpectedValue
	}

	qtype, ok := recordTypes[recordType]
	if !ok {
		return down(start, fmt.Sprintf("unsupported record type %q", recordType))
	}

	name := dns.Fqdn(hostFromTarget(svc.Target))
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: dnsQueryTimeout}
	queryCtx, cancel := context.WithTimeout(ctx, dnsQueryTimeout)
	defer cancel()

	addr := resolver
	if !strings.Contains(addr, ":") {
		addr += ":53"
	}

	begin := time.Now()
	reply, _, err := client.ExchangeContext(queryCtx, msg, addr)
	if err != nil {
		return failure(start, err)
	}
	latency := time.Since(begin).Milliseconds()

	if reply.Rcode != dns.RcodeSuccess {
		return down(start, fmt.Sprintf("%s lookup for %s failed: %s", recordType, name, dns.RcodeToString[reply.Rcode]))
	}
	if len(reply.Answer) == 0 {
		return down(start, fmt.Sprintf("no %s records for %s", recordType, name))
	}

	values := recordValues(reply.Answer)
	if expected != "" && !matchesExpected(values, expected) {
		return down(start, fmt.Sprintf("no %s record for %s matches %q (got %s)",
			recordType, name, expected, strings.Join(values, ", ")))
	}

	r := up(start, fmt.Sprintf("%d %s record(s) for %s", len(reply.Answer), recordType, name), latency)
	r.Metadata = map[string]string{"records": strings.Join(values, ",")}
	return r
}

// Type returns the service type
func (d *DNSChecker) Type() types.ServiceType {
	return types.ServiceTypeDNS
}

// recordValues extracts the comparable value of each answer record
func recordValues(answers []dns.RR) []string {
	var values []string
	for _, rr := range answers {
		switch rec := rr.(type) {
		case *dns.A:
			values = append(values, rec.A.String())
		case *dns.AAAA:
			values = append(values, rec.AAAA.String())
		case *dns.CNAME:
			values = append(values, rec.Target)
		case *dns.MX:
			values = append(values, rec.Mx)
		case *dns.NS:
			values = append(values, rec.Ns)
		case *dns.TXT:
			values = append(values, strings.Join(rec.Txt, ""))
		default:
			values = append(values, rr.String())
		}
	}
	return values
}

// matchesExpected reports whether any record value matches, ignoring the
// trailing dot on names
func matchesExpected(values []string, expected string) bool {
	want := strings.TrimSuffix(strings.ToLower(expected), ".")
	for _, v := range values {
		if strings.TrimSuffix(strings.ToLower(v), ".") == want {
			return true
		}
	}
	return false
}
