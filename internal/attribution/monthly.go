package attribution

import "github.com/samber/lo"

// MonthlySummary is the month-to-date cost view with a prior-month
// comparison. Estimated marks figures extrapolated from a daily window
// instead of an authoritative monthly source.
type MonthlySummary struct {
	TotalCost       float64 `json:"total_cost"`
	DailyAverage    float64 `json:"daily_average"`
	ChangeFromPrior float64 `json:"change_from_prior_pct"`
	HasPriorMonth   bool    `json:"has_prior_month"`
	Estimated       bool    `json:"estimated"`
	DaysElapsed     int     `json:"days_elapsed"`
}

// Monthly summarizes the month-to-date series (first of month through the
// current date) against the same-length window of the prior month. A nil
// prior series reports no comparison rather than a zero one.
func Monthly(current []float64, dayOfMonth int, prior []float64) MonthlySummary {
	if dayOfMonth < 1 {
		dayOfMonth = 1
	}
	if len(current) > dayOfMonth {
		current = current[:dayOfMonth]
	}

	total := lo.Sum(current)
	summary := MonthlySummary{
		TotalCost:    total,
		DailyAverage: total / float64(dayOfMonth),
		DaysElapsed:  dayOfMonth,
	}

	if prior != nil {
		if len(prior) > dayOfMonth {
			prior = prior[:dayOfMonth]
		}
		priorTotal := lo.Sum(prior)
		summary.HasPriorMonth = true
		if priorTotal > 0 {
			summary.ChangeFromPrior = (total - priorTotal) / priorTotal * 100
		}
	}
	return summary
}

// EstimateMonthly extrapolates a month-to-date figure from the most recent
// fixed-length daily window when the authoritative monthly source is
// unavailable. The result is always flagged estimated.
func EstimateMonthly(window []float64, dayOfMonth int) MonthlySummary {
	if dayOfMonth < 1 {
		dayOfMonth = 1
	}

	var dailyRate float64
	if len(window) > 0 {
		dailyRate = lo.Sum(window) / float64(len(window))
	}

	return MonthlySummary{
		TotalCost:    dailyRate * float64(dayOfMonth),
		DailyAverage: dailyRate,
		DaysElapsed:  dayOfMonth,
		Estimated:    true,
	}
}
