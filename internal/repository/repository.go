// Package repository persists analyzer state in PostgreSQL: the historic
// averages model rows, detected incidents, per-service-call lifecycle
// timestamps and the bookmarks that record how far training and detection
// have progressed. It also runs the aggregation queries that turn cleaned
// request records into the pre-aggregated rows the models consume.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/xroad-metrics/analyzer/internal/lifecycle"
	"github.com/xroad-metrics/analyzer/internal/models"
)

// Bookmark types stored in the analyzer state table.
const (
	TimestampLastFit       = "last_fit_timestamp"
	TimestampLastTransform = "last_transform_timestamp"
)

// ErrModelNotFound is returned when no rows exist for a model name.
var ErrModelNotFound = errors.New("model not found")

// TimeRange bounds an aggregation query. A nil bound is unbounded on that
// side; Start is inclusive, End exclusive.
type TimeRange struct {
	Start *time.Time
	End   *time.Time
}

// HistoricQuery parameterizes the historic-averages aggregation.
type HistoricQuery struct {
	AggMinutes        int
	Range             TimeRange
	ExcludeRequestIDs []string
}

// IncidentFilter selects incidents whose request ids should be excluded
// from training data.
type IncidentFilter struct {
	Statuses             []string
	AnomalousMetrics     []string
	AggregationTimeunits []string
	CreatedAfter         *time.Time
	CreatedBefore        *time.Time
}

// Repository is the persistence surface the trainer and anomaly finder
// depend on. Model saving has replace-all semantics: all rows sharing the
// model name are deleted before the new row set is inserted.
type Repository interface {
	LoadModel(ctx context.Context, name string) ([]models.ModelRow, error)
	SaveModel(ctx context.Context, name string, rows []models.ModelRow) error

	InsertIncidents(ctx context.Context, incidents []*models.AnomalyRecord) error
	RequestIDsFromIncidents(ctx context.Context, filter IncidentFilter) ([]string, error)

	GetTimestamp(ctx context.Context, tsType, modelType string) (*time.Time, error)
	SetTimestamp(ctx context.Context, tsType, modelType string, value time.Time) error

	RegisterNewServiceCalls(ctx context.Context) (int64, error)
	FirstTimestamps(ctx context.Context) ([]lifecycle.FirstTimestamps, error)
	UpdateFirstTimestamps(ctx context.Context, field string, value time.Time, calls []models.ServiceCallIdentity) error

	Close()
}

// DataSource supplies the pre-aggregated rows the models and detectors
// consume. Bucket boundaries are aligned as timestamp - (timestamp mod
// window) on millisecond epoch values.
type DataSource interface {
	AggregateHistoricData(ctx context.Context, q HistoricQuery) ([]models.AggregatedRecord, error)
	AggregateFailedRequests(ctx context.Context, aggMinutes int, r TimeRange) ([]models.FailedRequestRow, error)
	AggregateDuplicateMessageIDs(ctx context.Context, aggMinutes int, r TimeRange) ([]models.DuplicateMessageRow, error)
	AggregateTimeSync(ctx context.Context, metric string, threshold float64, aggMinutes int, r TimeRange) ([]models.TimeSyncRow, error)
}

// Lifecycle timestamp fields accepted by UpdateFirstTimestamps.
const (
	FieldFirstIncident     = "first_incident_timestamp"
	FieldFirstModelTrain   = "first_model_train_timestamp"
	FieldFirstModelRetrain = "first_model_retrain_timestamp"
)
