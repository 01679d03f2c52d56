package core

// DatasetKey identifies one independently cached data category.
type DatasetKey string

const (
	DatasetUsers          DatasetKey = "users"
	DatasetUserMetrics    DatasetKey = "userMetrics"
	DatasetTeamMetrics    DatasetKey = "teamMetrics"
	DatasetCostData       DatasetKey = "costData"
	DatasetPriorMonthCost DatasetKey = "priorMonthCost"
	DatasetQuotaConfig    DatasetKey = "quotaConfig"
)

var AllDatasets = []DatasetKey{
	DatasetUsers,
	DatasetUserMetrics,
	DatasetTeamMetrics,
	DatasetCostData,
	DatasetPriorMonthCost,
	DatasetQuotaConfig,
}

// Provenance names the source that satisfied a dataset fetch.
type Provenance string

const (
	ProvenanceCostExplorer     Provenance = "cost-explorer"
	ProvenanceCostExplorerRole Provenance = "cost-explorer-assumed-role"
	ProvenanceCloudWatch       Provenance = "cloudwatch"
	ProvenanceIAM              Provenance = "iam"
	ProvenanceRemoteConfig     Provenance = "remote-config"
	ProvenanceDefaults         Provenance = "defaults"
	ProvenanceEstimator        Provenance = "estimator"
)

// CloudWatchProvenance tags a CloudWatch-sourced dataset with the region the
// client queried.
func CloudWatchProvenance(region string) Provenance {
	if region == "" {
		return ProvenanceCloudWatch
	}
	return Provenance("cloudwatch-" + region)
}

// User is one billable entity discovered from the identity source.
type User struct {
	Name string            `json:"name"`
	Team string            `json:"team,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// CostReport is the cost matrix for one window: per-service daily cost,
// every series exactly window-length, zero-filled where the source had gaps.
type CostReport struct {
	Days       []string             `json:"days"`
	Services   map[string][]float64 `json:"services"`
	Provenance Provenance           `json:"provenance"`
	Estimated  bool                 `json:"estimated"`
	Degraded   bool                 `json:"degraded"`
}

// TotalByDay sums cost across services for each day of the window.
func (r CostReport) TotalByDay() []float64 {
	totals := make([]float64, len(r.Days))
	for _, series := range r.Services {
		for i, v := range series {
			if i < len(totals) {
				totals[i] += v
			}
		}
	}
	return totals
}

// UsageReport holds per-entity daily request counts over one window.
type UsageReport struct {
	Days       []string             `json:"days"`
	Requests   map[string][]float64 `json:"requests"`
	Provenance Provenance           `json:"provenance"`
	Estimated  bool                 `json:"estimated"`
}

// TotalByDay sums requests across entities for each day of the window.
func (r UsageReport) TotalByDay() []float64 {
	totals := make([]float64, len(r.Days))
	for _, series := range r.Requests {
		for i, v := range series {
			if i < len(totals) {
				totals[i] += v
			}
		}
	}
	return totals
}

// TeamUsage aggregates request counts for one team over the window.
type TeamUsage struct {
	Team     string    `json:"team"`
	Members  []string  `json:"members"`
	Requests []float64 `json:"requests"`
	Total    float64   `json:"total"`
}

// QuotaLimits holds spend limits and alerting thresholds for one user or team.
// Thresholds are percentages of MonthlyLimit.
type QuotaLimits struct {
	MonthlyLimit      float64  `json:"monthly_limit"`
	DailyLimit        *float64 `json:"daily_limit,omitempty"`
	WarningThreshold  float64  `json:"warning_threshold"`
	CriticalThreshold float64  `json:"critical_threshold"`
}

// QuotaConfig is the full limits document, remote-loaded or compiled-in.
type QuotaConfig struct {
	Users      map[string]QuotaLimits `json:"users"`
	Teams      map[string]QuotaLimits `json:"teams"`
	Provenance Provenance             `json:"provenance"`
	Fallback   bool                   `json:"fallback"`
}
