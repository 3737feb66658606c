package types

// ServiceType discriminates the probe executor used for a service
type ServiceType string

const (
	ServiceTypeWeb        ServiceType = "web"
	ServiceTypeTCP        ServiceType = "tcp"
	ServiceTypePing       ServiceType = "ping"
	ServiceTypeDNS        ServiceType = "dns"
	ServiceTypeSSL        ServiceType = "ssl"
	ServiceTypeKeyword    ServiceType = "keyword"
	ServiceTypePort       ServiceType = "port"
	ServiceTypeHeartbeat  ServiceType = "heartbeat"
	ServiceTypeGitHub     ServiceType = "github"
	ServiceTypeUptimeAPI  ServiceType = "uptime-api"
	ServiceTypeCustom     ServiceType = "custom"
	ServiceTypeAWSHealth  ServiceType = "aws-health"
	ServiceTypeAzure      ServiceType = "azure-health"
	ServiceTypeGCPHealth  ServiceType = "gcp-health"
	ServiceTypeKubernetes ServiceType = "kubernetes"
	ServiceTypeDocker     ServiceType = "docker"
)

// ServiceStatus is the three-valued outcome of a probe
type ServiceStatus string

const (
	StatusUp      ServiceStatus = "up"
	StatusDown    ServiceStatus = "down"
	StatusUnknown ServiceStatus = "unknown"
)

// NestService is a monitored target owned by a tenant ("nest")
type NestService struct {
	ID              string      `json:"id"`
	NestID          string      `json:"nestId"`
	Name            string      `json:"name"`
	Type            ServiceType `json:"type"`
	Target          string      `json:"target"`
	Interval        int         `json:"interval"` // seconds between checks
	Order           int         `json:"order,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	AlertingEnabled bool        `json:"alertingEnabled"`

	// Type-specific configuration; at most one is populated per Type
	GitHub     *GitHubConfig    `json:"github,omitempty"`
	Uptime     *UptimeConfig    `json:"uptimeConfig,omitempty"`
	DNS        *DNSConfig       `json:"dnsConfig,omitempty"`
	SSL        *SSLConfig       `json:"sslConfig,omitempty"`
	Cloud      *CloudConfig     `json:"cloudConfig,omitempty"`
	Kubernetes *KubeConfig      `json:"kubernetesConfig,omitempty"`
	Docker     *DockerConfig    `json:"dockerConfig,omitempty"`
	Keyword    *KeywordConfig   `json:"keywordConfig,omitempty"`
	Heartbeat  *HeartbeatConfig `json:"heartbeatConfig,omitempty"`
	Port       *PortConfig      `json:"portConfig,omitempty"`
	Custom     *CustomConfig    `json:"customConfig,omitempty"`

	// Last-known fields, written by the probe engine only
	LastStatus   ServiceStatus `json:"lastStatus,omitempty"`
	LastCheck    int64         `json:"lastCheck,omitempty"` // ms since epoch
	Message      string        `json:"message,omitempty"`
	ResponseTime int64         `json:"responseTime,omitempty"` // ms
	RetryCount   int           `json:"retryCount,omitempty"`

	CreatedAt int64 `json:"createdAt,omitempty"`
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// GitHubConfig configures repository health checks
type GitHubConfig struct {
	Token string `json:"token,omitempty"` // optional, raises rate limits
}

// UptimeConfig configures generic uptime-API feeds
type UptimeConfig struct {
	URL string `json:"url,omitempty"` // overrides Target when set
}

// DNSConfig configures DNS record checks
type DNSConfig struct {
	RecordType    string `json:"recordType,omitempty"` // A|AAAA|CNAME|MX|TXT|NS, default A
	Resolver      string `json:"resolver,omitempty"`   // default 8.8.8.8
	ExpectedValue string `json:"expectedValue,omitempty"`
}

// SSLConfig configures certificate expiry checks
type SSLConfig struct {
	WarningDays int `json:"warningDays,omitempty"` // default 30
}

// CloudConfig configures cloud status-feed checks
type CloudConfig struct {
	FeedURL string `json:"feedUrl,omitempty"` // overrides the provider default
	Region  string `json:"region,omitempty"`
}

// KubeConfig configures kubectl-based fleet checks
type KubeConfig struct {
	Namespace string `json:"namespace,omitempty"` // default "default"
	Context   string `json:"context,omitempty"`
}

// DockerConfig configures docker CLI fleet checks
type DockerConfig struct {
	Containers []string `json:"containers,omitempty"` // names that must be Up; empty = all running
	Host       string   `json:"host,omitempty"`       // DOCKER_HOST override
}

// KeywordConfig configures content keyword checks
type KeywordConfig struct {
	Keyword       string `json:"keyword"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
	MustContain   bool   `json:"mustContain"`
}

// HeartbeatConfig configures passive heartbeat checks
type HeartbeatConfig struct {
	ExpectedInterval int   `json:"expectedInterval"`        // seconds
	Tolerance        int   `json:"tolerance,omitempty"`     // seconds of slack
	LastHeartbeat    int64 `json:"lastHeartbeat,omitempty"` // ms, written by ingestion
}

// PortConfig configures raw port checks
type PortConfig struct {
	Protocol string `json:"protocol,omitempty"` // tcp (default) or udp (unsupported)
	Banner   string `json:"banner,omitempty"`   // required substring in the first read
}

// CustomConfig configures custom-status expectations for web checks
type CustomConfig struct {
	ExpectedStatus int `json:"expectedStatus,omitempty"`
}

// ProbeResult is the atomic output of one check attempt chain
type ProbeResult struct {
	ServiceID     string            `json:"serviceId"`
	NestID        string            `json:"nestId"`
	Status        ServiceStatus     `json:"status"`
	Message       string            `json:"message"`
	ResponseTime  int64             `json:"responseTime,omitempty"` // ms
	Timestamp     int64             `json:"timestamp"`              // ms since epoch
	CheckDuration int64             `json:"checkDuration"`          // ms, whole attempt chain
	Attempt       int               `json:"attempt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EndpointStatus is the health classification of a failover endpoint
type EndpointStatus string

const (
	EndpointHealthy     EndpointStatus = "healthy"
	EndpointDegraded    EndpointStatus = "degraded"
	EndpointUnhealthy   EndpointStatus = "unhealthy"
	EndpointMaintenance EndpointStatus = "maintenance"
	EndpointUnknown     EndpointStatus = "unknown"
)

// ServiceEndpoint is an upstream instance the platform itself routes traffic to.
// Endpoints live under the reserved "system" namespace, not under a tenant.
type ServiceEndpoint struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	URL             string         `json:"url"`
	Region          string         `json:"region,omitempty"`
	Priority        int            `json:"priority"` // lower wins
	Capacity        int            `json:"capacity,omitempty"`
	CurrentLoad     int            `json:"currentLoad"`
	HealthCheckPath string         `json:"healthCheckPath,omitempty"`
	Status          EndpointStatus `json:"status"`
	LastHealthCheck int64          `json:"lastHealthCheck,omitempty"` // ms
}

// ConditionOperator compares a derived metric against a threshold
type ConditionOperator string

const (
	OpGT  ConditionOperator = "gt"
	OpGTE ConditionOperator = "gte"
	OpLT  ConditionOperator = "lt"
	OpLTE ConditionOperator = "lte"
	OpEQ  ConditionOperator = "eq"
	OpNEQ ConditionOperator = "neq"
)

// TriggerCondition is one clause of a failover rule; all clauses must hold
type TriggerCondition struct {
	Metric   string            `json:"metric"` // response_time | error_rate | availability
	Operator ConditionOperator `json:"operator"`
	Value    float64           `json:"value"`
	Duration int               `json:"duration,omitempty"` // seconds of metric window
}

// FailoverStrategyType selects how traffic moves to the target
type FailoverStrategyType string

const (
	StrategyImmediate FailoverStrategyType = "immediate"
	StrategyGradual   FailoverStrategyType = "gradual"
	StrategyBlueGreen FailoverStrategyType = "blue_green"
)

// TargetSelection orders failover candidates
type TargetSelection string

const (
	SelectHighestPriority TargetSelection = "highest_priority"
	SelectLowestLoad      TargetSelection = "lowest_load"
	SelectRandom          TargetSelection = "random"
)

// FailoverStrategy describes target selection and traffic movement
type FailoverStrategy struct {
	Type            FailoverStrategyType `json:"type"`
	TargetSelection TargetSelection      `json:"targetSelection,omitempty"`
	DrainTimeout    int                  `json:"drainTimeout,omitempty"` // seconds, gradual only
	ValidateTarget  bool                 `json:"validateTarget,omitempty"`
}

// RecoveryStrategy describes how traffic returns to the original source
type RecoveryStrategy struct {
	Type                       string `json:"type"` // automatic | manual
	ConsecutiveSuccessRequired int    `json:"consecutiveSuccessRequired,omitempty"`
	RecoveryDelay              int    `json:"recoveryDelay,omitempty"` // seconds
	RampUp                     bool   `json:"rampUp,omitempty"`
	InitialPercentage          int    `json:"initialPercentage,omitempty"`
	IncrementPercentage        int    `json:"incrementPercentage,omitempty"`
	IncrementInterval          int    `json:"incrementInterval,omitempty"` // seconds
}

// FailoverRule binds endpoints to conditions and a strategy
type FailoverRule struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	ServicePattern    string             `json:"servicePattern"` // regex over endpoint names
	TriggerConditions []TriggerCondition `json:"triggerConditions"`
	FailoverStrategy  FailoverStrategy   `json:"failoverStrategy"`
	RecoveryStrategy  RecoveryStrategy   `json:"recoveryStrategy"`
	CooldownPeriod    int                `json:"cooldownPeriod,omitempty"` // seconds
	MaxFailovers      int                `json:"maxFailovers,omitempty"` // firings allowed per TimeWindow; 0 = unlimited
	TimeWindow        int                `json:"timeWindow,omitempty"`   // seconds
	Priority          int                `json:"priority"`               // lower evaluates first
	Enabled           bool               `json:"enabled"`
}

// FailoverEventStatus is the state of one failover
type FailoverEventStatus string

const (
	FailoverTriggered  FailoverEventStatus = "triggered"
	FailoverInProgress FailoverEventStatus = "in_progress"
	FailoverCompleted  FailoverEventStatus = "completed"
	FailoverFailed     FailoverEventStatus = "failed"
	FailoverRecovering FailoverEventStatus = "recovering"
	FailoverRecovered  FailoverEventStatus = "recovered"
)

// EvaluatedCondition records a condition and the metric value that tripped it
type EvaluatedCondition struct {
	Condition TriggerCondition `json:"condition"`
	Actual    float64          `json:"actual"`
	Met       bool             `json:"met"`
}

// FailoverEvent is the state record of one failover
type FailoverEvent struct {
	ID             string               `json:"id"`
	RuleID         string               `json:"ruleId"`
	SourceEndpoint string               `json:"sourceEndpoint"`
	TargetEndpoint string               `json:"targetEndpoint,omitempty"`
	TriggerReason  string               `json:"triggerReason"`
	Conditions     []EvaluatedCondition `json:"conditions,omitempty"`
	Status         FailoverEventStatus  `json:"status"`
	Timestamp      int64                `json:"timestamp"` // ms
	Duration       int64                `json:"duration,omitempty"`
	RecoveredAt    int64                `json:"recoveredAt,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// MetricTarget is one contractual metric inside an SLA target
type MetricTarget struct {
	Target     float64 `json:"target"`
	Percentile float64 `json:"percentile,omitempty"` // response time only
}

// PenaltyRule applies when a metric misses its threshold
type PenaltyRule struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Amount    float64 `json:"amount"`
	Unit      string  `json:"unit,omitempty"` // percent | fixed
}

// CreditRule earns credit when a metric beats its threshold
type CreditRule struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Amount    float64 `json:"amount"`
	Unit      string  `json:"unit,omitempty"`
}

// SLAWindow is the measurement window for a target
type SLAWindow string

const (
	WindowMonthly   SLAWindow = "monthly"
	WindowQuarterly SLAWindow = "quarterly"
	WindowYearly    SLAWindow = "yearly"
)

// SLATarget is the per-service (or per-nest) contract
type SLATarget struct {
	ID                          string        `json:"id"`
	NestID                      string        `json:"nestId"`
	ServiceID                   string        `json:"serviceId,omitempty"` // empty = whole nest
	Name                        string        `json:"name"`
	Uptime                      MetricTarget  `json:"uptime"`       // percent
	ResponseTime                MetricTarget  `json:"responseTime"` // ms at Percentile
	ErrorRate                   MetricTarget  `json:"errorRate"`    // percent
	Availability                MetricTarget  `json:"availability"` // percent
	Window                      SLAWindow     `json:"window"`
	Penalties                   []PenaltyRule `json:"penalties,omitempty"`
	Credits                     []CreditRule  `json:"credits,omitempty"`
	ReportingFrequency          string        `json:"reportingFrequency,omitempty"`
	Stakeholders                []string      `json:"stakeholders,omitempty"`
	ExcludeScheduledMaintenance bool          `json:"excludeScheduledMaintenance,omitempty"`
	ScheduledDowntimeMinutes    float64       `json:"scheduledDowntimeMinutes,omitempty"`
	Active                      bool          `json:"active"`
	Version                     int           `json:"version"`
	CreatedAt                   int64         `json:"createdAt,omitempty"`
}

// MetricResult is one measured metric in the shape {actual, target, compliant}
type MetricResult struct {
	Actual    float64 `json:"actual"`
	Target    float64 `json:"target"`
	Compliant bool    `json:"compliant"`
	Samples   int     `json:"samples,omitempty"`
}

// DataGap is a hole in the probe history larger than 3x the nominal interval
type DataGap struct {
	Start int64 `json:"start"` // ms
	End   int64 `json:"end"`   // ms
}

// DataQuality describes how complete the measurement inputs were
type DataQuality struct {
	Completeness float64   `json:"completeness"` // observed / expected samples
	Gaps         []DataGap `json:"gaps,omitempty"`
}

// AppliedPenalty records one penalty row that fired for a window
type AppliedPenalty struct {
	Rule   PenaltyRule `json:"rule"`
	Actual float64     `json:"actual"`
}

// EarnedCredit records one credit row that fired for a window
type EarnedCredit struct {
	Rule   CreditRule `json:"rule"`
	Actual float64    `json:"actual"`
}

// SLAMeasurement is the immutable roll-up for one window
type SLAMeasurement struct {
	ID                string           `json:"id"`
	SLATargetID       string           `json:"slaTargetId"`
	NestID            string           `json:"nestId"`
	ServiceID         string           `json:"serviceId,omitempty"`
	WindowStart       int64            `json:"windowStart"` // ms
	WindowEnd         int64            `json:"windowEnd"`   // ms
	Uptime            MetricResult     `json:"uptime"`
	ResponseTime      MetricResult     `json:"responseTime"`
	ErrorRate         MetricResult     `json:"errorRate"`
	Availability      MetricResult     `json:"availability"`
	OverallCompliance bool             `json:"overallCompliance"`
	ComplianceScore   float64          `json:"complianceScore"` // 0..100
	Penalties         []AppliedPenalty `json:"penalties,omitempty"`
	Credits           []EarnedCredit   `json:"credits,omitempty"`
	DataQuality       DataQuality      `json:"dataQuality"`
	CreatedAt         int64            `json:"createdAt"`
}

// TrendDirection summarizes metric movement across a report window
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendStable    TrendDirection = "stable"
	TrendDegrading TrendDirection = "degrading"
)

// TargetPerformance is the per-target section of an SLA report
type TargetPerformance struct {
	SLATargetID     string         `json:"slaTargetId"`
	ServiceID       string         `json:"serviceId,omitempty"`
	Measurements    int            `json:"measurements"`
	CompliantCount  int            `json:"compliantCount"`
	AverageScore    float64        `json:"averageScore"`
	Trend           TrendDirection `json:"trend"`
	LatestUptime    float64        `json:"latestUptime"`
	LatestErrorRate float64        `json:"latestErrorRate"`
}

// SLAReport aggregates measurements over a reporting window
type SLAReport struct {
	ID           string              `json:"id"`
	NestID       string              `json:"nestId"`
	WindowStart  int64               `json:"windowStart"`
	WindowEnd    int64               `json:"windowEnd"`
	GeneratedAt  string              `json:"generatedAt"` // RFC3339 at the boundary
	TotalTargets int                 `json:"totalTargets"`
	Compliant    int                 `json:"compliant"`
	AverageScore float64             `json:"averageScore"`
	Targets      []TargetPerformance `json:"targets"`
	Incidents    int                 `json:"incidents"` // non-compliant measurements
	Files        []ReportFile        `json:"files,omitempty"`
}

// ReportFile describes one generated report artifact
type ReportFile struct {
	Format string `json:"format"` // pdf | csv | json | excel
	URL    string `json:"url"`
}
