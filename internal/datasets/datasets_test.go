package datasets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pskrzyns/bedrockdash/internal/cache"
	"github.com/pskrzyns/bedrockdash/internal/core"
	"github.com/pskrzyns/bedrockdash/internal/sources"
)

func TestFetchCost_ChainWinnerCarriesDegradedFlag(t *testing.T) {
	chain := []sources.Source[core.CostReport]{
		sources.Func(core.ProvenanceCostExplorer, func(context.Context) (core.CostReport, error) {
			return core.CostReport{}, errors.New("access denied")
		}),
		sources.Func(core.ProvenanceCostExplorerRole, func(context.Context) (core.CostReport, error) {
			return core.CostReport{
				Days:       []string{"2026-03-14"},
				Services:   map[string][]float64{"Amazon Bedrock": {2}},
				Provenance: core.ProvenanceCostExplorerRole,
			}, nil
		}),
	}

	report, err := fetchCost(context.Background(), chain, nil)
	if err != nil {
		t.Fatalf("fetchCost: %v", err)
	}
	if !report.Degraded {
		t.Fatal("second-source win must be flagged degraded")
	}
	if report.Estimated {
		t.Fatal("a real source's data must not be flagged estimated")
	}
	if report.Provenance != core.ProvenanceCostExplorerRole {
		t.Fatalf("unexpected provenance %q", report.Provenance)
	}
}

func TestFetchCost_ExhaustedChainFallsBackToEstimator(t *testing.T) {
	failing := sources.Func(core.ProvenanceCostExplorer, func(context.Context) (core.CostReport, error) {
		return core.CostReport{}, errors.New("down")
	})
	usage := func(context.Context) (core.UsageReport, error) {
		return core.UsageReport{
			Days:     []string{"2026-03-13", "2026-03-14"},
			Requests: map[string][]float64{"alice": {100, 200}},
		}, nil
	}

	report, err := fetchCost(context.Background(), []sources.Source[core.CostReport]{failing}, usage)
	if err != nil {
		t.Fatalf("fetchCost: %v", err)
	}
	if !report.Estimated || report.Provenance != core.ProvenanceEstimator {
		t.Fatalf("expected tagged estimate, got %+v", report)
	}
	if len(report.Services) == 0 {
		t.Fatal("estimate should synthesize a service matrix")
	}
}

func TestFetchCost_EstimatorNeedsHistory(t *testing.T) {
	failing := sources.Func(core.ProvenanceCostExplorer, func(context.Context) (core.CostReport, error) {
		return core.CostReport{}, errors.New("down")
	})
	usage := func(context.Context) (core.UsageReport, error) {
		return core.UsageReport{}, errors.New("metrics also down")
	}

	if _, err := fetchCost(context.Background(), []sources.Source[core.CostReport]{failing}, usage); err == nil {
		t.Fatal("with no history the failure must propagate, never silent fabrication")
	}
}

func TestBuildTeamUsage_RollsUpAndExcludesUnresolved(t *testing.T) {
	users := []core.User{
		{Name: "alice", Team: "ml"},
		{Name: "bob", Team: "ml"},
		{Name: "carol", Team: "platform"},
	}
	usage := core.UsageReport{
		Days: []string{"2026-03-13", "2026-03-14"},
		Requests: map[string][]float64{
			"alice": {1, 2},
			"bob":   {3, 4},
			"carol": {5, 6},
			"ghost": {100, 100},
		},
	}

	rows := buildTeamUsage(users, usage)

	if len(rows) != 2 {
		t.Fatalf("expected 2 teams, got %+v", rows)
	}
	ml := rows[0]
	if ml.Team != "ml" || ml.Requests[0] != 4 || ml.Requests[1] != 6 || ml.Total != 10 {
		t.Fatalf("ml rollup wrong: %+v", ml)
	}
	if len(ml.Members) != 2 || ml.Members[0] != "alice" {
		t.Fatalf("ml members wrong: %+v", ml.Members)
	}
	if rows[1].Team != "platform" || rows[1].Total != 11 {
		t.Fatalf("platform rollup wrong: %+v", rows[1])
	}
}

func TestAttribution_ReadsThroughCache(t *testing.T) {
	store := cache.New()
	days := []string{"2026-03-13", "2026-03-14"}
	store.Register(core.DatasetCostData, time.Minute, func(context.Context) (any, error) {
		return core.CostReport{Days: days, Services: map[string][]float64{"Amazon Bedrock": {1, 2}}}, nil
	})
	store.Register(core.DatasetUserMetrics, time.Minute, func(context.Context) (any, error) {
		return core.UsageReport{Days: days, Requests: map[string][]float64{"alice": {10, 10}}}, nil
	})
	store.Register(core.DatasetUsers, time.Minute, func(context.Context) (any, error) {
		return []core.User{{Name: "alice", Team: "ml"}}, nil
	})

	rows, breakdown, err := Attribution(context.Background(), store)
	if err != nil {
		t.Fatalf("attribution: %v", err)
	}
	if len(rows) != 1 || rows[0].Team != "ml" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if len(breakdown) != 2 || breakdown[1].TotalCost != 2 {
		t.Fatalf("unexpected breakdown: %+v", breakdown)
	}
}

func TestMonthToDate_ComparesAgainstPriorMonthOpening(t *testing.T) {
	// March 4th: 3 elapsed days. The 10-day window reaches back to February
	// 22nd, but the baseline must be February 1st-3rd, never the window tail.
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	w := core.NewWindow(now, 10)
	cost := core.CostReport{Days: w.Days(), Services: map[string][]float64{
		// Feb 22-28 at $5/day (a decoy baseline), March 1-3 at $2/day.
		"Amazon Bedrock": {5, 5, 5, 5, 5, 5, 5, 2, 2, 2},
	}}

	pw, ok := core.PriorMonthWindow(now)
	if !ok {
		t.Fatal("expected a prior month window on March 4th")
	}
	prior := core.CostReport{Days: pw.Days(), Services: map[string][]float64{
		"Amazon Bedrock": {1, 1, 1}, // Feb 1-3
	}}

	got := monthToDate(cost, prior, now)

	if got.Estimated {
		t.Fatalf("window covers the whole month to date, must not estimate: %+v", got)
	}
	if !approx(got.TotalCost, 6) { // March 1-3: 2+2+2
		t.Fatalf("month-to-date %v, want 6", got.TotalCost)
	}
	if !got.HasPriorMonth {
		t.Fatal("February 1-3 is available, comparison expected")
	}
	if !approx(got.ChangeFromPrior, 100) { // 6 vs February 1-3 (1+1+1)
		t.Fatalf("change %v, want 100 (vs Feb 1-3, not the window tail)", got.ChangeFromPrior)
	}
}

func TestMonthToDate_NoComparisonWithoutEquivalentBaseline(t *testing.T) {
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	w := core.NewWindow(now, 10)
	cost := core.CostReport{Days: w.Days(), Services: map[string][]float64{
		"Amazon Bedrock": {5, 5, 5, 5, 5, 5, 5, 2, 2, 2},
	}}

	priors := map[string]core.CostReport{
		"empty":     {},
		"estimated": {Days: []string{"2026-02-01", "2026-02-02", "2026-02-03"}, Estimated: true},
		// A report shaped by some other window is not the month's opening run.
		"window tail": {Days: []string{"2026-02-22", "2026-02-23", "2026-02-24"},
			Services: map[string][]float64{"Amazon Bedrock": {5, 5, 5}}},
	}
	for name, prior := range priors {
		got := monthToDate(cost, prior, now)
		if got.HasPriorMonth {
			t.Fatalf("%s prior must not produce a comparison: %+v", name, got)
		}
		if got.Estimated || !approx(got.TotalCost, 6) {
			t.Fatalf("%s prior must not degrade the summary itself: %+v", name, got)
		}
	}
}

func TestMonthToDate_ExtrapolatesWhenWindowTooShort(t *testing.T) {
	// March 20th: 19 elapsed days, far more than the 10-day window holds.
	now := time.Date(2026, time.March, 20, 12, 0, 0, 0, time.UTC)
	w := core.NewWindow(now, 10)
	cost := core.CostReport{Days: w.Days(), Services: map[string][]float64{
		"Amazon Bedrock": {2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
	}}

	got := monthToDate(cost, core.CostReport{}, now)

	if !got.Estimated {
		t.Fatal("incomplete month coverage must extrapolate and flag")
	}
	if !approx(got.TotalCost, 40) { // $2/day x day 20
		t.Fatalf("estimate %v, want 40", got.TotalCost)
	}
}

func TestMonthToDate_EstimatedMatrixNeverAuthoritative(t *testing.T) {
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	w := core.NewWindow(now, 10)
	cost := core.CostReport{
		Days:      w.Days(),
		Services:  map[string][]float64{"Anthropic Claude (Amazon Bedrock)": {1, 1, 1, 1, 1, 1, 1, 1, 1, 1}},
		Estimated: true,
	}

	if got := monthToDate(cost, core.CostReport{}, now); !got.Estimated {
		t.Fatal("an estimated cost matrix must yield an estimated monthly figure")
	}
}

func TestMonthToDate_NormalizesCallerLocation(t *testing.T) {
	// Local March 1st 02:00 at UTC+5 is still February 28th in UTC; the day
	// count and the month prefix must agree on the UTC calendar.
	loc := time.FixedZone("UTC+5", 5*60*60)
	now := time.Date(2026, time.March, 1, 2, 0, 0, 0, loc)
	w := core.NewWindow(now, 10)
	cost := core.CostReport{Days: w.Days(), Services: map[string][]float64{
		"Amazon Bedrock": {1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	}}

	got := monthToDate(cost, core.CostReport{}, now)

	if got.DaysElapsed != 28 {
		t.Fatalf("DaysElapsed = %d, want 28 (February in UTC)", got.DaysElapsed)
	}
	if !got.Estimated {
		t.Fatal("a 10-day window cannot cover 27 elapsed February days")
	}
}

func TestMonthToDate_SurvivesPriorFetchFailure(t *testing.T) {
	now := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	w := core.NewWindow(now, 10)

	store := cache.New()
	store.Register(core.DatasetCostData, time.Minute, func(context.Context) (any, error) {
		return core.CostReport{Days: w.Days(), Services: map[string][]float64{
			"Amazon Bedrock": {5, 5, 5, 5, 5, 5, 5, 2, 2, 2},
		}}, nil
	})
	store.Register(core.DatasetPriorMonthCost, time.Minute, func(context.Context) (any, error) {
		return nil, errors.New("cost explorer down")
	})

	got, err := MonthToDate(context.Background(), store, now)
	if err != nil {
		t.Fatalf("a failing prior fetch must not fail the summary: %v", err)
	}
	if got.HasPriorMonth {
		t.Fatal("no comparison expected when the prior month cannot be fetched")
	}
	if !approx(got.TotalCost, 6) {
		t.Fatalf("month-to-date %v, want 6", got.TotalCost)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
