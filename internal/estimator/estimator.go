// Package estimator synthesizes a plausible cost matrix from historical
// request counts when every real billing source has failed. Its output is
// never billing-accurate and is always flagged estimated.
package estimator

import "github.com/pskrzyns/bedrockdash/internal/core"

// serviceProfile fixes a model family's share of overall traffic and its
// approximate per-request price. Weights sum to 1 across families.
type serviceProfile struct {
	weight          float64
	pricePerRequest float64
}

var serviceProfiles = map[string]serviceProfile{
	"Anthropic Claude (Amazon Bedrock)": {weight: 0.55, pricePerRequest: 0.012},
	"Amazon Titan":                      {weight: 0.25, pricePerRequest: 0.004},
	"Meta Llama (Amazon Bedrock)":       {weight: 0.20, pricePerRequest: 0.006},
}

// Estimate distributes a synthetic per-service daily cost:
// weight x total daily requests x per-request price.
func Estimate(usage core.UsageReport) core.CostReport {
	totals := usage.TotalByDay()

	services := make(map[string][]float64, len(serviceProfiles))
	for service, profile := range serviceProfiles {
		series := make([]float64, len(totals))
		for d, requests := range totals {
			series[d] = profile.weight * requests * profile.pricePerRequest
		}
		services[service] = series
	}

	return core.CostReport{
		Days:       usage.Days,
		Services:   services,
		Provenance: core.ProvenanceEstimator,
		Estimated:  true,
		Degraded:   true,
	}
}
