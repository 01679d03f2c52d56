package datasets

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/pskrzyns/bedrockdash/internal/attribution"
	"github.com/pskrzyns/bedrockdash/internal/cache"
	"github.com/pskrzyns/bedrockdash/internal/core"
)

// Attribution computes per-team attributed cost from the cached cost and
// usage datasets. It reads through the cache (respecting TTLs) and derives
// fresh rows on every call; nothing here is stored.
func Attribution(ctx context.Context, store *cache.Store) ([]attribution.TeamRow, []attribution.DayBreakdown, error) {
	cost, err := cache.Fetch[core.CostReport](ctx, store, core.DatasetCostData, false)
	if err != nil {
		return nil, nil, err
	}
	usage, err := cache.Fetch[core.UsageReport](ctx, store, core.DatasetUserMetrics, false)
	if err != nil {
		return nil, nil, err
	}
	users, err := cache.Fetch[[]core.User](ctx, store, core.DatasetUsers, false)
	if err != nil {
		return nil, nil, err
	}

	entityTeam := make(map[string]string, len(users))
	for _, u := range users {
		entityTeam[u.Name] = u.Team
	}

	rows, breakdown := attribution.Attribute(cost, usage, entityTeam)
	return rows, breakdown, nil
}

// MonthToDate summarizes current-month spend from the cached cost window.
// When the window holds every elapsed day of the month (and the matrix is
// authoritative), the real month-to-date total is used, compared against the
// equivalent first days of the prior month from the priorMonthCost dataset;
// otherwise the figure is extrapolated from the window's daily rate and
// flagged estimated. An unavailable prior month degrades the comparison,
// never the summary.
func MonthToDate(ctx context.Context, store *cache.Store, now time.Time) (attribution.MonthlySummary, error) {
	cost, err := cache.Fetch[core.CostReport](ctx, store, core.DatasetCostData, false)
	if err != nil {
		return attribution.MonthlySummary{}, err
	}
	prior, err := cache.Fetch[core.CostReport](ctx, store, core.DatasetPriorMonthCost, false)
	if err != nil {
		log.Printf("datasets: prior month unavailable: %v", err)
		prior = core.CostReport{}
	}
	return monthToDate(cost, prior, now), nil
}

func monthToDate(cost, prior core.CostReport, now time.Time) attribution.MonthlySummary {
	now = now.UTC()
	totals := cost.TotalByDay()
	// Windows end yesterday, so only fully elapsed days are summable.
	elapsed := now.Day() - 1
	if elapsed < 1 {
		return attribution.EstimateMonthly(totals, now.Day())
	}

	monthPrefix := now.Format("2006-01-")
	var current []float64
	for i, day := range cost.Days {
		if i >= len(totals) {
			break
		}
		if strings.HasPrefix(day, monthPrefix) {
			current = append(current, totals[i])
		}
	}

	if cost.Estimated || len(current) < elapsed {
		return attribution.EstimateMonthly(totals, now.Day())
	}
	return attribution.Monthly(current, elapsed, priorBaseline(prior, now))
}

// priorBaseline returns the prior report's daily totals when it really is
// the prior month's opening run; anything else (empty, estimated, or shaped
// by some other window) yields nil so the summary reports no comparison.
func priorBaseline(prior core.CostReport, now time.Time) []float64 {
	if prior.Estimated || len(prior.Days) == 0 {
		return nil
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if prior.Days[0] != first.AddDate(0, -1, 0).Format("2006-01-02") {
		return nil
	}
	return prior.TotalByDay()
}
