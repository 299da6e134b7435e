package models

import "time"

// Metric names produced by the aggregation queries and monitored by the
// historic averages model.
const (
	MetricRequestCount         = "request_count"
	MetricMeanRequestSize      = "mean_request_size"
	MetricMeanResponseSize     = "mean_response_size"
	MetricMeanClientDuration   = "mean_client_duration"
	MetricMeanProducerDuration = "mean_producer_duration"
)

// AggregatedRecord is one pre-aggregated row: all requests of one service
// call within one aggregation bucket. Metrics holds the per-bucket metric
// values; a missing key means the metric could not be computed for the
// bucket (for example mean_request_size when no request carried a size).
type AggregatedRecord struct {
	Identity     ServiceCallIdentity `json:"identity"`
	PeriodStart  time.Time           `json:"period_start_time"`
	RequestCount int64               `json:"request_count"`
	RequestIDs   []string            `json:"request_ids"`
	Metrics      map[string]float64  `json:"metrics"`
}

// Metric returns the named metric value. request_count is always served
// from the RequestCount field so it is never reported missing.
func (r *AggregatedRecord) Metric(name string) (float64, bool) {
	if name == MetricRequestCount {
		return float64(r.RequestCount), true
	}
	v, ok := r.Metrics[name]
	return v, ok
}

// FailedRequestRow is one side of the failed-request-ratio input: requests
// of one service call in one bucket, split by the succeeded flag.
type FailedRequestRow struct {
	Identity    ServiceCallIdentity `json:"identity"`
	PeriodStart time.Time           `json:"period_start_time"`
	Succeeded   bool                `json:"succeeded"`
	Count       int64               `json:"count"`
	RequestIDs  []string            `json:"request_ids"`
}

// DuplicateMessageRow reports a message id that occurred more than once for
// a service call within one bucket. The aggregation query already filters
// to counts above one.
type DuplicateMessageRow struct {
	Identity       ServiceCallIdentity `json:"identity"`
	PeriodStart    time.Time           `json:"period_start_time"`
	MessageID      string              `json:"messageId"`
	MessageIDCount int64               `json:"message_id_count"`
	RequestIDs     []string            `json:"request_ids"`
}

// TimeSyncRow reports requests whose network duration fell below the
// configured lower threshold within one bucket. Every row is a violation by
// construction of the aggregation query.
type TimeSyncRow struct {
	Identity         ServiceCallIdentity `json:"identity"`
	PeriodStart      time.Time           `json:"period_start_time"`
	ErroneousCount   int64               `json:"erroneous_count"`
	AvgErroneousDiff float64             `json:"avg_erroneous_diff"`
	RequestCount     int64               `json:"request_count"`
	RequestIDs       []string            `json:"request_ids"`
}
