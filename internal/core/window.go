package core

import "time"

// DefaultWindowDays is the length of the daily window every dataset is
// shaped to.
const DefaultWindowDays = 10

const dayFormat = "2006-01-02"

// Window is a fixed-length run of consecutive days. Index 0 is the oldest
// day, the last index is yesterday: billing sources lag by up to a day, so
// the current day is never part of a window.
type Window struct {
	start  time.Time
	length int
}

// NewWindow builds a window of the given length ending yesterday, relative
// to now (UTC). Lengths below 1 fall back to DefaultWindowDays.
func NewWindow(now time.Time, length int) Window {
	if length < 1 {
		length = DefaultWindowDays
	}
	end := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	return Window{start: end.AddDate(0, 0, -(length - 1)), length: length}
}

// PriorMonthWindow covers the prior month's day 1 through the day matching
// the number of fully elapsed days in the current month, so month-to-date
// spend compares against an equivalent run. ok is false before any day of
// the current month has fully elapsed; short prior months clamp the run to
// their last day.
func PriorMonthWindow(now time.Time) (Window, bool) {
	now = now.UTC()
	elapsed := now.Day() - 1
	if elapsed < 1 {
		return Window{}, false
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	priorFirst := first.AddDate(0, -1, 0)
	if daysInPrior := int(first.Sub(priorFirst).Hours() / 24); elapsed > daysInPrior {
		elapsed = daysInPrior
	}
	return Window{start: priorFirst, length: elapsed}, true
}

func (w Window) Length() int { return w.length }

// Start returns the oldest day of the window.
func (w Window) Start() time.Time { return w.start }

// End returns the most recent day of the window (yesterday).
func (w Window) End() time.Time { return w.start.AddDate(0, 0, w.length-1) }

// Days returns the window's days as ISO dates, oldest first.
func (w Window) Days() []string {
	days := make([]string, w.length)
	for i := range days {
		days[i] = w.start.AddDate(0, 0, i).Format(dayFormat)
	}
	return days
}

// Index maps an ISO date to its window position.
func (w Window) Index(date string) (int, bool) {
	t, err := time.Parse(dayFormat, date)
	if err != nil {
		return 0, false
	}
	i := int(t.Sub(w.start).Hours() / 24)
	if i < 0 || i >= w.length {
		return 0, false
	}
	return i, true
}

// Contains reports whether t falls on one of the window's days.
func (w Window) Contains(t time.Time) bool {
	_, ok := w.Index(t.UTC().Format(dayFormat))
	return ok
}

// FitSeries shapes sparse per-date values into a window-length series.
// Days the source did not report become zero buckets, never gaps.
func (w Window) FitSeries(byDate map[string]float64) []float64 {
	series := make([]float64, w.length)
	for date, v := range byDate {
		if i, ok := w.Index(date); ok {
			series[i] += v
		}
	}
	return series
}

// FitPoints buckets time-series points into the window by calendar day.
func (w Window) FitPoints(points []MetricPoint) []float64 {
	series := make([]float64, w.length)
	for _, p := range points {
		if i, ok := w.Index(p.Timestamp.UTC().Format(dayFormat)); ok {
			series[i] += p.Value
		}
	}
	return series
}
