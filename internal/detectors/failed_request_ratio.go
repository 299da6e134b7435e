// Package detectors holds the stateless rule-based anomaly detectors that
// run alongside the historic averages model: failed request ratio,
// duplicate message ids and time sync errors. Each transforms one batch of
// pre-aggregated rows into anomaly records and keeps no state between runs.
package detectors

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// AnomalyFailedRequestRatio is the anomalous_metric literal emitted by the
// failed request ratio detector.
const AnomalyFailedRequestRatio = "failed_request_ratio"

// FailedRequestRatio flags buckets where the share of failed requests
// exceeds a configured threshold.
type FailedRequestRatio struct {
	Threshold float64
	Window    timeperiod.AggregationWindow

	now func() time.Time
}

// NewFailedRequestRatio creates the detector for one aggregation window.
func NewFailedRequestRatio(threshold float64, window timeperiod.AggregationWindow) *FailedRequestRatio {
	return &FailedRequestRatio{Threshold: threshold, Window: window, now: time.Now}
}

// bucketKey joins the two sides of the succeeded/failed split.
type bucketKey struct {
	identity models.ServiceCallIdentity
	start    int64
}

// Transform outer-joins the succeeded and failed rows of every
// (service call, bucket) pair, computes the failed ratio and emits one
// anomaly per bucket strictly above the threshold. A missing side of the
// join counts as zero requests. Request ids are carried from the failed
// side, which is what the resulting incident points at.
func (d *FailedRequestRatio) Transform(rows []models.FailedRequestRow) []*models.AnomalyRecord {
	if len(rows) == 0 {
		return nil
	}

	type joined struct {
		periodStart time.Time
		succeeded   int64
		failed      int64
		requestIDs  []string
	}
	buckets := make(map[bucketKey]*joined)
	order := make([]bucketKey, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		key := bucketKey{identity: r.Identity, start: r.PeriodStart.UnixMilli()}
		b, ok := buckets[key]
		if !ok {
			b = &joined{periodStart: r.PeriodStart}
			buckets[key] = b
			order = append(order, key)
		}
		if r.Succeeded {
			b.succeeded += r.Count
		} else {
			b.failed += r.Count
			b.requestIDs = append(b.requestIDs, r.RequestIDs...)
		}
	}

	now := d.now()
	var anomalies []*models.AnomalyRecord
	for _, key := range order {
		b := buckets[key]
		total := b.succeeded + b.failed
		if total == 0 {
			continue
		}
		ratio := float64(b.failed) / float64(total)
		if ratio <= d.Threshold {
			continue
		}
		anomalies = append(anomalies, &models.AnomalyRecord{
			Identity:                  key.identity,
			AnomalousMetric:           AnomalyFailedRequestRatio,
			AnomalyConfidence:         1.0,
			PeriodStart:               b.periodStart,
			PeriodEnd:                 b.periodStart.Add(d.Window.Duration()),
			MonitoredMetricValue:      ratio,
			DifferenceFromNormal:      ratio - d.Threshold,
			RequestCount:              total,
			RequestIDs:                b.requestIDs,
			ModelVersion:              1,
			AggregationTimeunit:       d.Window.Name,
			ModelTimeunit:             d.Window.Name,
			IncidentStatus:            models.IncidentStatusNew,
			IncidentCreationTimestamp: now,
			IncidentUpdateTimestamp:   now,
			ModelParams: map[string]any{
				"failed_request_ratio_threshold": d.Threshold,
			},
			Description: d.describe(ratio, b.failed, total),
			Comments:    "",
		})
	}
	return anomalies
}

func (d *FailedRequestRatio) describe(ratio float64, failed, total int64) string {
	return fmt.Sprintf("Allowed failed_request_ratio is %s, but observed was %s (%d requests out of %d failed).",
		formatFloat(d.Threshold), formatRounded(ratio), failed, total)
}

// formatFloat renders a float the way it was configured, without trailing
// zeros.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatRounded renders a value rounded to two decimals.
func formatRounded(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}
