package averages

import (
	"fmt"
	"math"
	"strconv"

	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// describe renders the human-readable incident description for one
// historic-averages anomaly.
func (m *Model) describe(metric, period string, mean, observed float64) string {
	return fmt.Sprintf("Average %s per %s %s is %s, but observed %s was %s.",
		metric,
		m.window.AggWindow.Name,
		timeperiod.KeyPhrase(period, m.window.SimilarPeriods),
		formatRounded(mean),
		metric,
		formatRounded(observed),
	)
}

// formatRounded renders a value rounded to two decimals without trailing
// zeros, so counts read as whole numbers.
func formatRounded(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
