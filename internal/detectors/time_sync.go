package detectors

import (
	"fmt"
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// TimeSync flags buckets where network durations fell below a configured
// lower threshold, which indicates clock drift between security servers.
// The aggregation query only returns buckets containing violations.
type TimeSync struct {
	Metric    string
	Threshold float64
	Window    timeperiod.AggregationWindow

	now func() time.Time
}

// NewTimeSync creates the detector for one monitored duration metric.
func NewTimeSync(metric string, threshold float64, window timeperiod.AggregationWindow) *TimeSync {
	return &TimeSync{Metric: metric, Threshold: threshold, Window: window, now: time.Now}
}

// Transform emits one anomaly per input row. The monitored value is the
// count of erroneous requests in the bucket; the difference from normal is
// the negated average of the erroneous duration values.
func (d *TimeSync) Transform(rows []models.TimeSyncRow) []*models.AnomalyRecord {
	if len(rows) == 0 {
		return nil
	}
	now := d.now()
	anomalies := make([]*models.AnomalyRecord, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		diff := -r.AvgErroneousDiff
		anomalies = append(anomalies, &models.AnomalyRecord{
			Identity:                  r.Identity,
			AnomalousMetric:           d.Metric,
			AnomalyConfidence:         1.0,
			PeriodStart:               r.PeriodStart,
			PeriodEnd:                 r.PeriodStart.Add(d.Window.Duration()),
			MonitoredMetricValue:      float64(r.ErroneousCount),
			DifferenceFromNormal:      diff,
			RequestCount:              r.RequestCount,
			RequestIDs:                r.RequestIDs,
			ModelVersion:              1,
			AggregationTimeunit:       d.Window.Name,
			ModelTimeunit:             d.Window.Name,
			IncidentStatus:            models.IncidentStatusNew,
			IncidentCreationTimestamp: now,
			IncidentUpdateTimestamp:   now,
			ModelParams: map[string]any{
				"min_threshold": d.Threshold,
			},
			Description: fmt.Sprintf(
				"%s must be greater than %s, but %d requests out of %d were smaller (by %s on average)",
				d.Metric, formatFloat(d.Threshold), r.ErroneousCount, r.RequestCount, formatRounded(diff)),
			Comments: "",
		})
	}
	return anomalies
}
