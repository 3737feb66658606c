package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/m00npl/guardant/pkg/types"
)

func TestValidateService(t *testing.T) {
	valid := func() *types.NestService {
		return &types.NestService{
			ID:       "svc_1",
			NestID:   "nest-1",
			Type:     types.ServiceTypeWeb,
			Target:   "https://example.com",
			Interval: 60,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*types.NestService)
		wantErr string
	}{
		{"valid web service", func(s *types.NestService) {}, ""},
		{"missing id", func(s *types.NestService) { s.ID = "" }, "service id"},
		{"missing nest", func(s *types.NestService) { s.NestID = "" }, "nest id"},
		{"unknown type", func(s *types.NestService) { s.Type = "carrier-pigeon" }, "unknown service type"},
		{"zero interval", func(s *types.NestService) { s.Interval = 0 }, "interval"},
		{"negative interval", func(s *types.NestService) { s.Interval = -5 }, "interval"},
		{"missing target", func(s *types.NestService) { s.Target = "" }, "target is required"},
		{
			"keyword without config",
			func(s *types.NestService) { s.Type = types.ServiceTypeKeyword },
			"keyword configuration",
		},
		{
			"keyword with config",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeKeyword
				s.Keyword = &types.KeywordConfig{Keyword: "ok", MustContain: true}
			},
			"",
		},
		{
			"heartbeat without interval",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeHeartbeat
				s.Target = ""
				s.Heartbeat = &types.HeartbeatConfig{}
			},
			"heartbeat configuration",
		},
		{
			"heartbeat needs no target",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeHeartbeat
				s.Target = ""
				s.Heartbeat = &types.HeartbeatConfig{ExpectedInterval: 60}
			},
			"",
		},
		{
			"bad port protocol",
			func(s *types.NestService) {
				s.Type = types.ServiceTypePort
				s.Target = "example.com:22"
				s.Port = &types.PortConfig{Protocol: "sctp"}
			},
			"port protocol",
		},
		{
			"bad dns record type",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeDNS
				s.DNS = &types.DNSConfig{RecordType: "SRV"}
			},
			"DNS record type",
		},
		{
			"negative ssl warning days",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeSSL
				s.SSL = &types.SSLConfig{WarningDays: -1}
			},
			"warningDays",
		},
		{
			"cloud needs no target",
			func(s *types.NestService) {
				s.Type = types.ServiceTypeAWSHealth
				s.Target = ""
			},
			"",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := valid()
			tc.mutate(svc)
			err := ValidateService(svc)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}
