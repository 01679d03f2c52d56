package sources

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

type stubCloudWatch struct {
	metrics    []cwtypes.Metric
	dataByID   map[string]cwtypes.MetricDataResult
	datapoints map[string][]cwtypes.Datapoint // keyed by User dimension
}

func (s *stubCloudWatch) ListMetrics(_ context.Context, _ *cloudwatch.ListMetricsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error) {
	return &cloudwatch.ListMetricsOutput{Metrics: s.metrics}, nil
}

func (s *stubCloudWatch) GetMetricData(_ context.Context, in *cloudwatch.GetMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error) {
	var results []cwtypes.MetricDataResult
	for _, q := range in.MetricDataQueries {
		for _, dim := range q.MetricStat.Metric.Dimensions {
			if aws.ToString(dim.Name) == "ServiceName" {
				results = append(results, s.dataByID[aws.ToString(dim.Value)])
			}
		}
	}
	return &cloudwatch.GetMetricDataOutput{MetricDataResults: results}, nil
}

func (s *stubCloudWatch) GetMetricStatistics(_ context.Context, in *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	var user string
	for _, dim := range in.Dimensions {
		if aws.ToString(dim.Name) == "User" {
			user = aws.ToString(dim.Value)
		}
	}
	return &cloudwatch.GetMetricStatisticsOutput{Datapoints: s.datapoints[user]}, nil
}

func TestCumulativeToDaily(t *testing.T) {
	cases := []struct {
		name    string
		series  []float64
		prev    float64
		hasPrev bool
		want    []float64
	}{
		{
			// Running total resets between day 2 and day 3 (month rollover).
			name:   "rollover mid-series",
			series: []float64{3, 5, 1, 4},
			prev:   1, hasPrev: true,
			want: []float64{2, 2, 1, 3},
		},
		{
			name:   "no predecessor leaves first day zero",
			series: []float64{3, 5, 1, 4},
			want:   []float64{0, 2, 1, 3},
		},
		{
			// Predecessor higher than the first value: window starts on day 1.
			name:   "rollover at first day",
			series: []float64{2, 5},
			prev:   30, hasPrev: true,
			want: []float64{2, 3},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cumulativeToDaily(tc.series, tc.prev, tc.hasPrev)
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("daily[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestBillingMetrics_DiscoversAndDiffs(t *testing.T) {
	window := core.NewWindow(time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), 3)
	days := window.Days()

	stub := &stubCloudWatch{
		metrics: []cwtypes.Metric{
			{Dimensions: []cwtypes.Dimension{{Name: aws.String("ServiceName"), Value: aws.String("AmazonBedrock")}}},
			{Dimensions: []cwtypes.Dimension{{Name: aws.String("ServiceName"), Value: aws.String("AmazonEC2")}}},
			// Duplicate listing of the same service must not double it.
			{Dimensions: []cwtypes.Dimension{{Name: aws.String("ServiceName"), Value: aws.String("AmazonBedrock")}}},
		},
		dataByID: map[string]cwtypes.MetricDataResult{
			"AmazonBedrock": {
				Timestamps: []time.Time{
					mustDay(t, days[0]).AddDate(0, 0, -1),
					mustDay(t, days[0]), mustDay(t, days[1]), mustDay(t, days[2]),
				},
				Values: []float64{9, 10, 12, 15},
			},
		},
	}

	report, err := NewBillingMetrics(core.CloudWatchProvenance("us-east-1"), stub, window, "bedrock").Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(report.Services) != 1 {
		t.Fatalf("expected only the bedrock service, got %v", report.Services)
	}
	series := report.Services["AmazonBedrock"]
	// The day before the window carried 9, so the first in-window day is 1.
	want := []float64{1, 2, 3}
	for i := range want {
		if series[i] != want[i] {
			t.Fatalf("series[%d] = %v, want %v", i, series[i], want[i])
		}
	}
	if report.Provenance != core.Provenance("cloudwatch-us-east-1") {
		t.Fatalf("unexpected provenance %q", report.Provenance)
	}
}

func TestUsageMetrics_DedupesRawPoints(t *testing.T) {
	window := core.NewWindow(time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), 3)
	day := mustDay(t, window.Days()[1])

	stub := &stubCloudWatch{
		datapoints: map[string][]cwtypes.Datapoint{
			"alice": {
				// Same instant reported twice; the typed sample must win.
				{Timestamp: aws.Time(day), Sum: aws.Float64(400), Unit: cwtypes.StandardUnitNone},
				{Timestamp: aws.Time(day), Sum: aws.Float64(42), Unit: cwtypes.StandardUnitCount},
			},
		},
	}

	users := func(context.Context) ([]core.User, error) {
		return []core.User{{Name: "alice", Team: "ml"}}, nil
	}

	report, err := NewUsageMetrics(core.ProvenanceCloudWatch, stub, window, "Bedrock/Usage", "InvocationCount", users).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	series := report.Requests["alice"]
	if len(series) != 3 {
		t.Fatalf("expected window-length series, got %d", len(series))
	}
	if series[1] != 42 {
		t.Fatalf("expected deduped canonical value 42, got %v", series[1])
	}
}

func mustDay(t *testing.T, date string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", date)
	if err != nil {
		t.Fatalf("parsing %s: %v", date, err)
	}
	return ts
}
