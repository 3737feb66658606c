package engine

import (
	"fmt"
	"strings"

	"github.com/m00npl/guardant/pkg/types"
)

var knownTypes = map[types.ServiceType]bool{
	types.ServiceTypeWeb:        true,
	types.ServiceTypeTCP:        true,
	types.ServiceTypePing:       true,
	types.ServiceTypeDNS:        true,
	types.ServiceTypeSSL:        true,
	types.ServiceTypeKeyword:    true,
	types.ServiceTypePort:       true,
	types.ServiceTypeHeartbeat:  true,
	types.ServiceTypeGitHub:     true,
	types.ServiceTypeUptimeAPI:  true,
	types.ServiceTypeCustom:     true,
	types.ServiceTypeAWSHealth:  true,
	types.ServiceTypeAzure:      true,
	types.ServiceTypeGCPHealth:  true,
	types.ServiceTypeKubernetes: true,
	types.ServiceTypeDocker:     true,
}

// ValidateService checks the invariants a service row must satisfy before a
// schedule is installed. Type-specific configuration is required where the
// executor cannot run without it.
func ValidateService(svc *types.NestService) error {
	if svc.ID == "" {
		return fmt.Errorf("service id is required")
	}
	if svc.NestID == "" {
		return fmt.Errorf("nest id is required")
	}
	if !knownTypes[svc.Type] {
		return fmt.Errorf("unknown service type %q", svc.Type)
	}
	if svc.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %d", svc.Interval)
	}
	if svc.Target == "" && svc.Type != types.ServiceTypeHeartbeat &&
		svc.Type != types.ServiceTypeAWSHealth && svc.Type != types.ServiceTypeAzure &&
		svc.Type != types.ServiceTypeGCPHealth && svc.Type != types.ServiceTypeKubernetes &&
		svc.Type != types.ServiceTypeDocker {
		return fmt.Errorf("target is required for type %s", svc.Type)
	}

	switch svc.Type {
	case types.ServiceTypeKeyword:
		if svc.Keyword == nil || svc.Keyword.Keyword == "" {
			return fmt.Errorf("keyword configuration is required")
		}
	case types.ServiceTypeHeartbeat:
		if svc.Heartbeat == nil || svc.Heartbeat.ExpectedInterval <= 0 {
			return fmt.Errorf("heartbeat configuration with a positive expectedInterval is required")
		}
	case types.ServiceTypePort:
		if svc.Port != nil && svc.Port.Protocol != "" {
			proto := strings.ToLower(svc.Port.Protocol)
			if proto != "tcp" && proto != "udp" {
				return fmt.Errorf("unsupported port protocol %q", svc.Port.Protocol)
			}
		}
	case types.ServiceTypeDNS:
		if svc.DNS != nil && svc.DNS.RecordType != "" {
			switch strings.ToUpper(svc.DNS.RecordType) {
			case "A", "AAAA", "CNAME", "MX", "TXT", "NS":
			default:
				return fmt.Errorf("unsupported DNS record type %q", svc.DNS.RecordType)
			}
		}
	case types.ServiceTypeSSL:
		if svc.SSL != nil && svc.SSL.WarningDays < 0 {
			return fmt.Errorf("warningDays must not be negative")
		}
	}
	return nil
}
