package probe

import (
	"github.com/m00npl/guardant/pkg/types"
)

// Registry resolves the executor for a service type
type Registry struct {
	executors map[types.ServiceType]Executor
}

// NewRegistry creates a registry with every built-in executor installed
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[types.ServiceType]Executor)}

	for _, e := range []Executor{
		NewWebChecker(),
		NewCustomChecker(),
		NewTCPChecker(),
		NewPingChecker(),
		NewDNSChecker(),
		NewSSLChecker(),
		NewKeywordChecker(),
		NewPortChecker(),
		NewHeartbeatChecker(),
		NewGitHubChecker(),
		NewUptimeAPIChecker(),
		NewCloudChecker(types.ServiceTypeAWSHealth),
		NewCloudChecker(types.ServiceTypeAzure),
		NewCloudChecker(types.ServiceTypeGCPHealth),
		NewKubernetesChecker(),
		NewDockerChecker(),
	} {
		r.executors[e.Type()] = e
	}
	return r
}

// Register installs or replaces the executor for a type
func (r *Registry) Register(e Executor) {
	r.executors[e.Type()] = e
}

// ForType returns the executor for a service type, or nil when unknown
func (r *Registry) ForType(t types.ServiceType) Executor {
	return r.executors[t]
}
