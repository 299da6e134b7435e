package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/xroad-metrics/analyzer/internal/config"
	"github.com/xroad-metrics/analyzer/internal/lifecycle"
	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/repository"
)

// mockRepository is a mock implementation of repository.Repository
type mockRepository struct {
	loadModelFunc             func(ctx context.Context, name string) ([]models.ModelRow, error)
	saveModelFunc             func(ctx context.Context, name string, rows []models.ModelRow) error
	insertIncidentsFunc       func(ctx context.Context, incidents []*models.AnomalyRecord) error
	requestIDsFunc            func(ctx context.Context, filter repository.IncidentFilter) ([]string, error)
	getTimestampFunc          func(ctx context.Context, tsType, modelType string) (*time.Time, error)
	setTimestampFunc          func(ctx context.Context, tsType, modelType string, value time.Time) error
	registerNewFunc           func(ctx context.Context) (int64, error)
	firstTimestampsFunc       func(ctx context.Context) ([]lifecycle.FirstTimestamps, error)
	updateFirstTimestampsFunc func(ctx context.Context, field string, value time.Time, calls []models.ServiceCallIdentity) error
}

func (m *mockRepository) LoadModel(ctx context.Context, name string) ([]models.ModelRow, error) {
	if m.loadModelFunc != nil {
		return m.loadModelFunc(ctx, name)
	}
	return nil, repository.ErrModelNotFound
}

func (m *mockRepository) SaveModel(ctx context.Context, name string, rows []models.ModelRow) error {
	if m.saveModelFunc != nil {
		return m.saveModelFunc(ctx, name, rows)
	}
	return nil
}

func (m *mockRepository) InsertIncidents(ctx context.Context, incidents []*models.AnomalyRecord) error {
	if m.insertIncidentsFunc != nil {
		return m.insertIncidentsFunc(ctx, incidents)
	}
	return nil
}

func (m *mockRepository) RequestIDsFromIncidents(ctx context.Context, filter repository.IncidentFilter) ([]string, error) {
	if m.requestIDsFunc != nil {
		return m.requestIDsFunc(ctx, filter)
	}
	return nil, nil
}

func (m *mockRepository) GetTimestamp(ctx context.Context, tsType, modelType string) (*time.Time, error) {
	if m.getTimestampFunc != nil {
		return m.getTimestampFunc(ctx, tsType, modelType)
	}
	return nil, nil
}

func (m *mockRepository) SetTimestamp(ctx context.Context, tsType, modelType string, value time.Time) error {
	if m.setTimestampFunc != nil {
		return m.setTimestampFunc(ctx, tsType, modelType, value)
	}
	return nil
}

func (m *mockRepository) RegisterNewServiceCalls(ctx context.Context) (int64, error) {
	if m.registerNewFunc != nil {
		return m.registerNewFunc(ctx)
	}
	return 0, nil
}

func (m *mockRepository) FirstTimestamps(ctx context.Context) ([]lifecycle.FirstTimestamps, error) {
	if m.firstTimestampsFunc != nil {
		return m.firstTimestampsFunc(ctx)
	}
	return nil, nil
}

func (m *mockRepository) UpdateFirstTimestamps(ctx context.Context, field string, value time.Time, calls []models.ServiceCallIdentity) error {
	if m.updateFirstTimestampsFunc != nil {
		return m.updateFirstTimestampsFunc(ctx, field, value, calls)
	}
	return nil
}

func (m *mockRepository) Close() {}

// mockDataSource is a mock implementation of repository.DataSource
type mockDataSource struct {
	historicFunc   func(ctx context.Context, q repository.HistoricQuery) ([]models.AggregatedRecord, error)
	failedFunc     func(ctx context.Context, aggMinutes int, r repository.TimeRange) ([]models.FailedRequestRow, error)
	duplicatesFunc func(ctx context.Context, aggMinutes int, r repository.TimeRange) ([]models.DuplicateMessageRow, error)
	timeSyncFunc   func(ctx context.Context, metric string, threshold float64, aggMinutes int, r repository.TimeRange) ([]models.TimeSyncRow, error)
}

func (m *mockDataSource) AggregateHistoricData(ctx context.Context, q repository.HistoricQuery) ([]models.AggregatedRecord, error) {
	if m.historicFunc != nil {
		return m.historicFunc(ctx, q)
	}
	return nil, nil
}

func (m *mockDataSource) AggregateFailedRequests(ctx context.Context, aggMinutes int, r repository.TimeRange) ([]models.FailedRequestRow, error) {
	if m.failedFunc != nil {
		return m.failedFunc(ctx, aggMinutes, r)
	}
	return nil, nil
}

func (m *mockDataSource) AggregateDuplicateMessageIDs(ctx context.Context, aggMinutes int, r repository.TimeRange) ([]models.DuplicateMessageRow, error) {
	if m.duplicatesFunc != nil {
		return m.duplicatesFunc(ctx, aggMinutes, r)
	}
	return nil, nil
}

func (m *mockDataSource) AggregateTimeSync(ctx context.Context, metric string, threshold float64, aggMinutes int, r repository.TimeRange) ([]models.TimeSyncRow, error) {
	if m.timeSyncFunc != nil {
		return m.timeSyncFunc(ctx, metric, threshold, aggMinutes, r)
	}
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAnalyzerConfig() config.AnalyzerConfig {
	return config.AnalyzerConfig{
		CorrectorBufferTime:         0,
		IncidentExpirationTime:      14400,
		TrainingPeriodTime:          3,
		FailedRequestRatioThreshold: 0.9,
		TimeSyncLowerThresholds:     map[string]float64{"requestNwDuration": -2000},
		HistoricAveragesThresholds:  map[string]float64{models.MetricRequestCount: 0.95},
		HistoricModels:              []config.HistoricModelConfig{{Timeunit: "hour_weekday", Mode: "update"}},
	}
}

// fakeIdentity generates a plausible, normalized service call identity.
func fakeIdentity(seed int64) models.ServiceCallIdentity {
	f := gofakeit.New(seed)
	return models.ServiceCallIdentity{
		ClientXRoadInstance:  "EE",
		ClientMemberClass:    "GOV",
		ClientMemberCode:     f.DigitN(8),
		ClientSubsystemCode:  f.LetterN(10),
		ServiceXRoadInstance: "EE",
		ServiceMemberClass:   "COM",
		ServiceMemberCode:    f.DigitN(8),
		ServiceSubsystemCode: f.LetterN(10),
		ServiceCode:          f.LetterN(8),
		ServiceVersion:       "v1",
	}
}
