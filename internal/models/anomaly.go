package models

import "time"

// Incident lifecycle statuses. Only "new" is assigned by the analyzer;
// the remaining transitions belong to the incident management UI.
const (
	IncidentStatusNew      = "new"
	IncidentStatusShowed   = "showed"
	IncidentStatusNormal   = "normal"
	IncidentStatusIncident = "incident"
	IncidentStatusViewed   = "viewed"
)

// AnomalyRecord is the common output of the historic averages model and all
// rule-based detectors. One record becomes one persisted incident.
type AnomalyRecord struct {
	ID                        string              `json:"id,omitempty"`
	Identity                  ServiceCallIdentity `json:"identity"`
	AnomalousMetric           string              `json:"anomalous_metric"`
	AnomalyConfidence         float64             `json:"anomaly_confidence"`
	PeriodStart               time.Time           `json:"period_start_time"`
	PeriodEnd                 time.Time           `json:"period_end_time"`
	MonitoredMetricValue      float64             `json:"monitored_metric_value"`
	DifferenceFromNormal      float64             `json:"difference_from_normal"`
	RequestCount              int64               `json:"request_count"`
	RequestIDs                []string            `json:"request_ids"`
	ModelVersion              int                 `json:"model_version"`
	AggregationTimeunit       string              `json:"aggregation_timeunit"`
	ModelTimeunit             string              `json:"model_timeunit"`
	IncidentStatus            string              `json:"incident_status"`
	IncidentCreationTimestamp time.Time           `json:"incident_creation_timestamp"`
	IncidentUpdateTimestamp   time.Time           `json:"incident_update_timestamp"`
	ModelParams               map[string]any      `json:"model_params"`
	Description               string              `json:"description"`
	Comments                  string              `json:"comments"`
}
