package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

const (
	billingNamespace = "AWS/Billing"
	billingMetric    = "EstimatedCharges"
	dayPeriod        = int32(24 * 60 * 60)
)

// CloudWatchAPI is the slice of the CloudWatch client the metric sources use.
type CloudWatchAPI interface {
	ListMetrics(ctx context.Context, params *cloudwatch.ListMetricsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error)
	GetMetricData(ctx context.Context, params *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// BillingMetricsSource is the degraded-mode cost source: it reconstructs a
// per-service daily cost matrix from the cumulative EstimatedCharges billing
// metric when Cost Explorer is unreachable under every principal.
type BillingMetricsSource struct {
	name    core.Provenance
	client  CloudWatchAPI
	window  core.Window
	keyword string
}

func NewBillingMetrics(name core.Provenance, client CloudWatchAPI, window core.Window, keyword string) *BillingMetricsSource {
	return &BillingMetricsSource{
		name:    name,
		client:  client,
		window:  window,
		keyword: strings.ToLower(keyword),
	}
}

func (s *BillingMetricsSource) Name() core.Provenance { return s.name }

func (s *BillingMetricsSource) Fetch(ctx context.Context) (core.CostReport, error) {
	services, err := s.discoverServices(ctx)
	if err != nil {
		return core.CostReport{}, err
	}
	if len(services) == 0 {
		return core.CostReport{}, fmt.Errorf("cloudwatch billing: no services matching %q", s.keyword)
	}

	// Query one day ahead of the window so the first in-window day has a
	// predecessor to diff the running total against.
	start := s.window.Start().AddDate(0, 0, -1)
	end := s.window.End().AddDate(0, 0, 1)
	prevDay := start.Format("2006-01-02")

	perService := make(map[string][]float64, len(services))
	for i, service := range services {
		out, err := s.client.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
			StartTime: aws.Time(start),
			EndTime:   aws.Time(end),
			MetricDataQueries: []cwtypes.MetricDataQuery{{
				Id: aws.String(fmt.Sprintf("charges%d", i)),
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  aws.String(billingNamespace),
						MetricName: aws.String(billingMetric),
						Dimensions: []cwtypes.Dimension{
							{Name: aws.String("ServiceName"), Value: aws.String(service)},
							{Name: aws.String("Currency"), Value: aws.String("USD")},
						},
					},
					Period: aws.Int32(dayPeriod),
					Stat:   aws.String("Maximum"),
				},
			}},
		})
		if err != nil {
			return core.CostReport{}, fmt.Errorf("cloudwatch billing: %s: %w", service, err)
		}

		byDate := make(map[string]float64)
		for _, result := range out.MetricDataResults {
			for j, ts := range result.Timestamps {
				if j < len(result.Values) {
					byDate[ts.UTC().Format("2006-01-02")] = result.Values[j]
				}
			}
		}
		prev, hasPrev := byDate[prevDay]
		perService[service] = cumulativeToDaily(s.window.FitSeries(byDate), prev, hasPrev)
	}

	return core.CostReport{
		Days:       s.window.Days(),
		Services:   perService,
		Provenance: s.name,
	}, nil
}

func (s *BillingMetricsSource) discoverServices(ctx context.Context) ([]string, error) {
	input := &cloudwatch.ListMetricsInput{
		Namespace:  aws.String(billingNamespace),
		MetricName: aws.String(billingMetric),
	}

	var services []string
	seen := make(map[string]bool)
	for {
		out, err := s.client.ListMetrics(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("cloudwatch billing: list metrics: %w", err)
		}
		for _, metric := range out.Metrics {
			for _, dim := range metric.Dimensions {
				name := aws.ToString(dim.Value)
				if aws.ToString(dim.Name) != "ServiceName" || seen[name] {
					continue
				}
				if strings.Contains(strings.ToLower(name), s.keyword) {
					seen[name] = true
					services = append(services, name)
				}
			}
		}
		if aws.ToString(out.NextToken) == "" {
			break
		}
		input.NextToken = out.NextToken
	}
	return services, nil
}

// cumulativeToDaily turns a month-to-date running total into per-day spend.
// prev is the running total on the day before the series, when the source
// reported one; without it the first day is unknowable and stays zero. A
// drop in the running total is a month rollover; the raw value is the day's
// spend in that case.
func cumulativeToDaily(series []float64, prev float64, hasPrev bool) []float64 {
	daily := make([]float64, len(series))
	for i, v := range series {
		last, known := prev, hasPrev
		if i > 0 {
			last, known = series[i-1], true
		}
		switch {
		case !known:
			daily[i] = 0
		case v >= last:
			daily[i] = v - last
		default:
			daily[i] = v
		}
	}
	return daily
}

// UsageMetricsSource reads per-user daily invocation counts from the usage
// namespace the log metric filters publish into. Raw datapoints are noisy
// (the same instant can carry a typed and an untyped sample) and go through
// Dedupe before bucketing.
type UsageMetricsSource struct {
	name      core.Provenance
	client    CloudWatchAPI
	window    core.Window
	namespace string
	metric    string
	users     func(ctx context.Context) ([]core.User, error)
}

func NewUsageMetrics(name core.Provenance, client CloudWatchAPI, window core.Window, namespace, metric string, users func(ctx context.Context) ([]core.User, error)) *UsageMetricsSource {
	return &UsageMetricsSource{
		name:      name,
		client:    client,
		window:    window,
		namespace: namespace,
		metric:    metric,
		users:     users,
	}
}

func (s *UsageMetricsSource) Name() core.Provenance { return s.name }

func (s *UsageMetricsSource) Fetch(ctx context.Context) (core.UsageReport, error) {
	users, err := s.users(ctx)
	if err != nil {
		return core.UsageReport{}, fmt.Errorf("usage metrics: resolving users: %w", err)
	}

	start := s.window.Start()
	end := s.window.End().AddDate(0, 0, 1)

	requests := make(map[string][]float64, len(users))
	for _, user := range users {
		out, err := s.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(s.namespace),
			MetricName: aws.String(s.metric),
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("User"), Value: aws.String(user.Name)},
			},
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(dayPeriod),
			Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
		})
		if err != nil {
			return core.UsageReport{}, fmt.Errorf("usage metrics: %s: %w", user.Name, err)
		}

		points := make([]core.MetricPoint, 0, len(out.Datapoints))
		for _, dp := range out.Datapoints {
			if dp.Timestamp == nil || dp.Sum == nil {
				continue
			}
			points = append(points, core.MetricPoint{
				Timestamp: *dp.Timestamp,
				Value:     *dp.Sum,
				Unit:      string(dp.Unit),
			})
		}
		requests[user.Name] = s.window.FitPoints(core.Dedupe(points))
	}

	return core.UsageReport{
		Days:       s.window.Days(),
		Requests:   requests,
		Provenance: s.name,
	}, nil
}
