package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

const costMetric = "UnblendedCost"

// CostExplorerAPI is the slice of the Cost Explorer client this source uses.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// CostExplorerSource reads per-service daily cost from Cost Explorer. The
// service set is discovered from the response by a case-insensitive keyword
// match, never from a static list.
type CostExplorerSource struct {
	name    core.Provenance
	client  CostExplorerAPI
	window  core.Window
	keyword string
}

func NewCostExplorer(name core.Provenance, client CostExplorerAPI, window core.Window, keyword string) *CostExplorerSource {
	return &CostExplorerSource{
		name:    name,
		client:  client,
		window:  window,
		keyword: strings.ToLower(keyword),
	}
}

func (s *CostExplorerSource) Name() core.Provenance { return s.name }

func (s *CostExplorerSource) Fetch(ctx context.Context) (core.CostReport, error) {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(s.window.Start().Format("2006-01-02")),
			// Cost Explorer treats End as exclusive.
			End: aws.String(s.window.End().AddDate(0, 0, 1).Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityDaily,
		Metrics:     []string{costMetric},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}

	var results []cetypes.ResultByTime
	for {
		out, err := s.client.GetCostAndUsage(ctx, input)
		if err != nil {
			return core.CostReport{}, fmt.Errorf("cost explorer: %w", err)
		}
		results = append(results, out.ResultsByTime...)
		if aws.ToString(out.NextPageToken) == "" {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	report := s.buildReport(results)
	if len(report.Services) == 0 {
		return core.CostReport{}, fmt.Errorf("cost explorer: no services matching %q in window", s.keyword)
	}
	return report, nil
}

func (s *CostExplorerSource) buildReport(results []cetypes.ResultByTime) core.CostReport {
	perService := make(map[string]map[string]float64)
	for _, day := range results {
		if day.TimePeriod == nil {
			continue
		}
		date := aws.ToString(day.TimePeriod.Start)
		for _, group := range day.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			service := group.Keys[0]
			if !strings.Contains(strings.ToLower(service), s.keyword) {
				continue
			}
			amount, err := strconv.ParseFloat(aws.ToString(group.Metrics[costMetric].Amount), 64)
			if err != nil {
				continue
			}
			if perService[service] == nil {
				perService[service] = make(map[string]float64)
			}
			perService[service][date] += amount
		}
	}

	services := make(map[string][]float64, len(perService))
	for service, byDate := range perService {
		services[service] = s.window.FitSeries(byDate)
	}
	return core.CostReport{
		Days:       s.window.Days(),
		Services:   services,
		Provenance: s.name,
	}
}
