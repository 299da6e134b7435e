package detectors

import (
	"fmt"
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// AnomalyDuplicateMessageID is the anomalous_metric literal emitted by the
// duplicate message id detector.
const AnomalyDuplicateMessageID = "duplicate_message_id"

// DuplicateMessageID flags message ids that occurred more than once for the
// same service call within one bucket. The aggregation query only returns
// counts above one, so every input row becomes an anomaly.
type DuplicateMessageID struct {
	Window timeperiod.AggregationWindow

	now func() time.Time
}

// NewDuplicateMessageID creates the detector for one aggregation window.
func NewDuplicateMessageID(window timeperiod.AggregationWindow) *DuplicateMessageID {
	return &DuplicateMessageID{Window: window, now: time.Now}
}

// Transform emits one anomaly per duplicated message id row.
func (d *DuplicateMessageID) Transform(rows []models.DuplicateMessageRow) []*models.AnomalyRecord {
	if len(rows) == 0 {
		return nil
	}
	now := d.now()
	anomalies := make([]*models.AnomalyRecord, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		anomalies = append(anomalies, &models.AnomalyRecord{
			Identity:                  r.Identity,
			AnomalousMetric:           AnomalyDuplicateMessageID,
			AnomalyConfidence:         1.0,
			PeriodStart:               r.PeriodStart,
			PeriodEnd:                 r.PeriodStart.Add(d.Window.Duration()),
			MonitoredMetricValue:      float64(r.MessageIDCount),
			DifferenceFromNormal:      float64(r.MessageIDCount - 1),
			RequestCount:              r.MessageIDCount,
			RequestIDs:                r.RequestIDs,
			ModelVersion:              1,
			AggregationTimeunit:       d.Window.Name,
			ModelTimeunit:             d.Window.Name,
			IncidentStatus:            models.IncidentStatusNew,
			IncidentCreationTimestamp: now,
			IncidentUpdateTimestamp:   now,
			ModelParams:               map[string]any{},
			Description: fmt.Sprintf(
				"MessageId '%s' has occurred %d times for the given service call in the given time period.",
				r.MessageID, r.MessageIDCount),
			Comments: "",
		})
	}
	return anomalies
}
