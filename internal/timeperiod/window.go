package timeperiod

import "time"

// AggregationWindow is the fixed-size time slice raw requests are
// pre-aggregated over before any model sees them.
type AggregationWindow struct {
	Name    string `json:"name" mapstructure:"name"`
	Minutes int    `json:"minutes" mapstructure:"minutes"`
}

// Duration returns the bucket length.
func (w AggregationWindow) Duration() time.Duration {
	return time.Duration(w.Minutes) * time.Minute
}

// Window couples an aggregation window with the ordered calendar units that
// define which buckets count as similar periods. Its name doubles as the
// stored model name.
type Window struct {
	TimeunitName   string            `json:"timeunit_name" mapstructure:"timeunit_name"`
	AggWindow      AggregationWindow `json:"agg_window" mapstructure:"agg_window"`
	SimilarPeriods []string          `json:"similar_periods" mapstructure:"similar_periods"`
}

// Key derives the similar-period key of t under this window.
func (w Window) Key(t time.Time) string {
	return Key(t, w.SimilarPeriods)
}

// Validate checks the calendar unit list and the aggregation window size.
func (w Window) Validate() error {
	if err := ValidateUnits(w.SimilarPeriods); err != nil {
		return err
	}
	return nil
}

// Aggregation windows used across the analyzer.
var (
	HourAggregation = AggregationWindow{Name: "hour", Minutes: 60}
	DayAggregation  = AggregationWindow{Name: "day", Minutes: 1440}
)

// Similarity windows available to the historic averages model.
var (
	HourWeekday = Window{
		TimeunitName:   "hour_weekday",
		AggWindow:      HourAggregation,
		SimilarPeriods: []string{UnitHour, UnitWeekday},
	}
	Weekday = Window{
		TimeunitName:   "weekday",
		AggWindow:      DayAggregation,
		SimilarPeriods: []string{UnitWeekday},
	}
	HourMonthday = Window{
		TimeunitName:   "hour_monthday",
		AggWindow:      HourAggregation,
		SimilarPeriods: []string{UnitHour, UnitDay},
	}
	Monthday = Window{
		TimeunitName:   "monthday",
		AggWindow:      DayAggregation,
		SimilarPeriods: []string{UnitDay},
	}
)

// ByName resolves a similarity window from its timeunit name.
func ByName(name string) (Window, bool) {
	switch name {
	case HourWeekday.TimeunitName:
		return HourWeekday, true
	case Weekday.TimeunitName:
		return Weekday, true
	case HourMonthday.TimeunitName:
		return HourMonthday, true
	case Monthday.TimeunitName:
		return Monthday, true
	}
	return Window{}, false
}
