// Package attribution derives per-team cost shares and efficiency metrics
// from an aggregate cost matrix and per-entity request counts. Everything
// here is a pure function over cache snapshots; the package owns no state.
package attribution

import (
	"sort"

	"github.com/samber/lo"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// Efficiency classifies a day's cost-per-request against fixed tiers.
type Efficiency string

const (
	EfficiencyExcellent Efficiency = "excellent"
	EfficiencyGood      Efficiency = "good"
	EfficiencyFair      Efficiency = "fair"
	EfficiencyPoor      Efficiency = "poor"
)

// Trend is the day-over-day direction of a series, "flat" when the relative
// change is below the materiality threshold.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

const (
	excellentBelow = 0.01
	goodBelow      = 0.05
	fairBelow      = 0.10

	// trendMateriality suppresses noise from tiny day-over-day wiggles.
	trendMateriality = 0.03
)

// TeamRow is one team's attributed cost over the window.
type TeamRow struct {
	Team         string    `json:"team"`
	Daily        []float64 `json:"daily"`
	Total        float64   `json:"total"`
	DailyAverage float64   `json:"daily_average"`
}

// DayBreakdown is the per-day aggregate view across all teams.
type DayBreakdown struct {
	Date             string     `json:"date"`
	TotalCost        float64    `json:"total_cost"`
	TotalRequests    float64    `json:"total_requests"`
	CostPerRequest   float64    `json:"cost_per_request"`
	Efficiency       Efficiency `json:"efficiency"`
	CostTrend        Trend      `json:"cost_trend"`
	CostChangePct    float64    `json:"cost_change_pct"`
	RequestTrend     Trend      `json:"request_trend"`
	RequestChangePct float64    `json:"request_change_pct"`
}

// Attribute apportions each day's aggregate cost across teams proportionally
// to their observed request share. This is a fairness model, not a billed
// figure: entities with no resolvable team count toward the day's totals but
// appear in no team row, so team rows may legitimately undershoot the
// aggregate.
func Attribute(cost core.CostReport, usage core.UsageReport, entityTeam map[string]string) ([]TeamRow, []DayBreakdown) {
	days := cost.Days
	totalCost := cost.TotalByDay()

	// The usage window normally matches the cost window; shape it anyway so
	// a shorter series reads as zero-request days instead of panicking.
	totalRequests := make([]float64, len(days))
	copy(totalRequests, usage.TotalByDay())

	costPerRequest := make([]float64, len(days))
	for d := range days {
		if totalRequests[d] > 0 {
			costPerRequest[d] = totalCost[d] / totalRequests[d]
		}
	}

	teamRequests := make(map[string][]float64)
	for entity, series := range usage.Requests {
		team := entityTeam[entity]
		if team == "" {
			continue
		}
		if teamRequests[team] == nil {
			teamRequests[team] = make([]float64, len(days))
		}
		for d, v := range series {
			if d < len(days) {
				teamRequests[team][d] += v
			}
		}
	}

	teams := lo.Keys(teamRequests)
	sort.Strings(teams)

	rows := make([]TeamRow, 0, len(teams))
	for _, team := range teams {
		daily := make([]float64, len(days))
		for d := range days {
			daily[d] = costPerRequest[d] * teamRequests[team][d]
		}
		total := lo.Sum(daily)
		row := TeamRow{Team: team, Daily: daily, Total: total}
		if len(days) > 0 {
			row.DailyAverage = total / float64(len(days))
		}
		rows = append(rows, row)
	}

	breakdown := make([]DayBreakdown, len(days))
	for d, date := range days {
		b := DayBreakdown{
			Date:           date,
			TotalCost:      totalCost[d],
			TotalRequests:  totalRequests[d],
			CostPerRequest: costPerRequest[d],
			Efficiency:     ClassifyEfficiency(costPerRequest[d]),
			CostTrend:      TrendFlat,
			RequestTrend:   TrendFlat,
		}
		if d > 0 {
			b.CostTrend, b.CostChangePct = trend(totalCost[d-1], totalCost[d])
			b.RequestTrend, b.RequestChangePct = trend(totalRequests[d-1], totalRequests[d])
		}
		breakdown[d] = b
	}

	return rows, breakdown
}

// ClassifyEfficiency is monotonic: a higher cost-per-request never yields a
// better tier.
func ClassifyEfficiency(costPerRequest float64) Efficiency {
	switch {
	case costPerRequest < excellentBelow:
		return EfficiencyExcellent
	case costPerRequest < goodBelow:
		return EfficiencyGood
	case costPerRequest < fairBelow:
		return EfficiencyFair
	default:
		return EfficiencyPoor
	}
}

func trend(prev, cur float64) (Trend, float64) {
	if prev == 0 {
		if cur == 0 {
			return TrendFlat, 0
		}
		return TrendUp, 100
	}
	change := (cur - prev) / prev
	pct := change * 100
	switch {
	case change > trendMateriality:
		return TrendUp, pct
	case change < -trendMateriality:
		return TrendDown, pct
	default:
		return TrendFlat, pct
	}
}
