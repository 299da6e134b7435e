package averages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

var (
	fitTime    = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	updateTime = time.Date(2024, 2, 8, 12, 0, 0, 0, time.UTC)

	// 2024-01-03 and 2024-01-10 are both Wednesdays: same hour_weekday
	// period key, different buckets.
	wednesday14     = time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)
	nextWednesday14 = time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC)
	monday9         = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
)

func testIdentity(serviceCode string) models.ServiceCallIdentity {
	return models.ServiceCallIdentity{
		ClientXRoadInstance:  "EE",
		ClientMemberClass:    "GOV",
		ClientMemberCode:     "70000001",
		ClientSubsystemCode:  "client-sub",
		ServiceXRoadInstance: "EE",
		ServiceMemberClass:   "GOV",
		ServiceMemberCode:    "70000002",
		ServiceSubsystemCode: "service-sub",
		ServiceCode:          serviceCode,
		ServiceVersion:       "v1",
	}
}

func countRecord(id models.ServiceCallIdentity, start time.Time, count int64) models.AggregatedRecord {
	return models.AggregatedRecord{
		Identity:     id,
		PeriodStart:  start,
		RequestCount: count,
		RequestIDs:   []string{"req-1", "req-2"},
		Metrics:      map[string]float64{},
	}
}

func newTestModel(t *testing.T, thresholds map[string]float64) *Model {
	t.Helper()
	m, err := New(timeperiod.HourWeekday, thresholds)
	require.NoError(t, err)
	m.now = func() time.Time { return fitTime }
	return m
}

func TestNewValidation(t *testing.T) {
	thresholds := map[string]float64{models.MetricRequestCount: 0.95}

	_, err := New(timeperiod.HourWeekday, thresholds)
	require.NoError(t, err)

	_, err = New(timeperiod.Window{
		TimeunitName:   "bogus",
		AggWindow:      timeperiod.HourAggregation,
		SimilarPeriods: []string{"fortnight"},
	}, thresholds)
	require.Error(t, err)

	_, err = New(timeperiod.HourWeekday, nil)
	require.Error(t, err)
}

func TestFitBuildsBaseline(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})

	m.Fit([]models.AggregatedRecord{
		countRecord(id, wednesday14, 2),
		countRecord(id, nextWednesday14, 2),
	})

	require.True(t, m.Fitted())
	assert.Equal(t, 1, m.Version())
	assert.Equal(t, 1, m.Len())

	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "14_2", rows[0].SimilarPeriods)
	assert.Equal(t, 1, rows[0].Version)
	assert.Equal(t, fitTime, rows[0].ModelCreationTimestamp)

	stats := rows[0].Metrics[models.MetricRequestCount]
	assert.Equal(t, int64(2), stats.Count)
	assert.InDelta(t, 2.0, stats.Mean, 1e-12)
	assert.InDelta(t, 0.0, stats.Std, 1e-12)
	assert.InDelta(t, 4.0, stats.Sum, 1e-12)
	assert.InDelta(t, 8.0, stats.SumSquares, 1e-12)
}

func TestFitEmptyInputLeavesModelUnfitted(t *testing.T) {
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit(nil)
	assert.False(t, m.Fitted())
	assert.Equal(t, 0, m.Version())
}

func TestDetectFlagsDeviatingCount(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{
		countRecord(id, wednesday14, 2),
		countRecord(id, nextWednesday14, 2),
	})

	anomalies := m.Detect([]models.AggregatedRecord{
		countRecord(id, wednesday14.AddDate(0, 0, 14), 10),
	})

	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, models.MetricRequestCount, a.AnomalousMetric)
	assert.Greater(t, a.AnomalyConfidence, 0.95)
	assert.InDelta(t, 10.0, a.MonitoredMetricValue, 1e-12)
	assert.InDelta(t, 8.0, a.DifferenceFromNormal, 1e-12)
	assert.Equal(t, int64(10), a.RequestCount)
	assert.Equal(t, []string{"req-1", "req-2"}, a.RequestIDs)
	assert.Equal(t, 1, a.ModelVersion)
	assert.Equal(t, "hour", a.AggregationTimeunit)
	assert.Equal(t, "hour_weekday", a.ModelTimeunit)
	assert.Equal(t, models.IncidentStatusNew, a.IncidentStatus)
	assert.Equal(t, a.PeriodStart.Add(time.Hour), a.PeriodEnd)
	assert.Equal(t,
		"Average request_count per hour between 14:00 and 15:00 on Wednesdays is 2, but observed request_count was 10.",
		a.Description)
	assert.InDelta(t, 2.0, a.ModelParams["metric_mean"].(float64), 1e-12)
	assert.InDelta(t, 0.0, a.ModelParams["metric_std"].(float64), 1e-12)
	assert.Equal(t, "14_2", a.ModelParams["similar_periods"])
}

func TestDetectNormalCountNotFlagged(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{
		countRecord(id, wednesday14, 2),
		countRecord(id, nextWednesday14, 2),
	})

	anomalies := m.Detect([]models.AggregatedRecord{
		countRecord(id, wednesday14.AddDate(0, 0, 14), 2),
	})
	assert.Empty(t, anomalies)
}

func TestDetectUnseenPeriodScoresAgainstZero(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{countRecord(id, wednesday14, 2)})

	// Monday 09:00 has no baseline row: request_count is scored against
	// mean 0, std 0 and any traffic at all becomes anomalous.
	anomalies := m.Detect([]models.AggregatedRecord{countRecord(id, monday9, 3)})
	require.Len(t, anomalies, 1)
	assert.InDelta(t, 3.0, anomalies[0].MonitoredMetricValue, 1e-12)
	assert.InDelta(t, 3.0, anomalies[0].DifferenceFromNormal, 1e-12)
}

func TestDetectUnseenPeriodDropsOtherMetrics(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricMeanRequestSize: 0.95})

	rec := countRecord(id, wednesday14, 2)
	rec.Metrics[models.MetricMeanRequestSize] = 512
	m.Fit([]models.AggregatedRecord{rec})

	// No baseline row for Monday: a size metric cannot be compared against
	// an empty baseline, so the record is dropped rather than scored.
	probe := countRecord(id, monday9, 2)
	probe.Metrics[models.MetricMeanRequestSize] = 99999
	assert.Empty(t, m.Detect([]models.AggregatedRecord{probe}))
}

func TestDetectMissingObservedMetricDropped(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricMeanRequestSize: 0.95})

	rec := countRecord(id, wednesday14, 2)
	rec.Metrics[models.MetricMeanRequestSize] = 512
	m.Fit([]models.AggregatedRecord{rec})

	// Same period, but the probe bucket has no size metric at all.
	probe := countRecord(id, nextWednesday14, 2)
	assert.Empty(t, m.Detect([]models.AggregatedRecord{probe}))
}

func TestDetectThresholdIsStrict(t *testing.T) {
	id := testIdentity("getData")

	fit := []models.AggregatedRecord{
		countRecord(id, wednesday14, 1),
		countRecord(id, nextWednesday14, 3),
	}
	// Baseline: mean 2, std 1. Observing 4 gives z=2, p~0.0455.
	probe := []models.AggregatedRecord{countRecord(id, wednesday14.AddDate(0, 0, 14), 4)}

	flagged := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	flagged.Fit(fit)
	assert.Len(t, flagged.Detect(probe), 1, "p=0.0455 is strictly below alpha=0.05")

	spared := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.96})
	spared.Fit(fit)
	assert.Empty(t, spared.Detect(probe), "p=0.0455 is not below alpha=0.04")
}

func TestDetectUnfittedReturnsNil(t *testing.T) {
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	assert.Nil(t, m.Detect([]models.AggregatedRecord{countRecord(testIdentity("s"), wednesday14, 5)}))
}

func TestUpdateBeforeFit(t *testing.T) {
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	err := m.Update([]models.AggregatedRecord{countRecord(testIdentity("s"), wednesday14, 5)})
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestUpdateFoldsIntoExistingRows(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{countRecord(id, wednesday14, 2)})

	m.now = func() time.Time { return updateTime }
	require.NoError(t, m.Update([]models.AggregatedRecord{countRecord(id, nextWednesday14, 3)}))

	assert.Equal(t, 2, m.Version())
	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Version)
	assert.Equal(t, fitTime, rows[0].ModelCreationTimestamp)
	assert.Equal(t, updateTime, rows[0].ModelUpdateTimestamp)

	stats := rows[0].Metrics[models.MetricRequestCount]
	assert.Equal(t, int64(2), stats.Count)
	assert.InDelta(t, 5.0, stats.Sum, 1e-12)
	assert.InDelta(t, 13.0, stats.SumSquares, 1e-12)
	assert.InDelta(t, 2.5, stats.Mean, 1e-12)
	assert.InDelta(t, 0.5, stats.Std, 1e-12)
}

func TestUpdateAddsNewPeriods(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{countRecord(id, wednesday14, 2)})

	m.now = func() time.Time { return updateTime }
	require.NoError(t, m.Update([]models.AggregatedRecord{countRecord(id, monday9, 4)}))

	assert.Equal(t, 2, m.Version())
	rows := m.Rows()
	require.Len(t, rows, 2)
	for _, row := range rows {
		// Every row carries the post-update version; the new period
		// inherits the model creation time, not the update time.
		assert.Equal(t, 2, row.Version)
		assert.Equal(t, fitTime, row.ModelCreationTimestamp)
		assert.Equal(t, updateTime, row.ModelUpdateTimestamp)
	}
}

func TestUpdateIncrementsVersionEachTime(t *testing.T) {
	id := testIdentity("getData")
	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{countRecord(id, wednesday14, 2)})

	require.NoError(t, m.Update([]models.AggregatedRecord{countRecord(id, nextWednesday14, 3)}))
	require.NoError(t, m.Update([]models.AggregatedRecord{countRecord(id, nextWednesday14.AddDate(0, 0, 7), 3)}))

	assert.Equal(t, 3, m.Version())
	for _, row := range m.Rows() {
		assert.Equal(t, 3, row.Version)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	id := testIdentity("getData")
	thresholds := map[string]float64{models.MetricRequestCount: 0.95}

	m := newTestModel(t, thresholds)
	m.Fit([]models.AggregatedRecord{
		countRecord(id, wednesday14, 2),
		countRecord(id, monday9, 7),
	})
	require.NoError(t, m.Update([]models.AggregatedRecord{countRecord(id, nextWednesday14, 3)}))

	restored, err := Load(timeperiod.HourWeekday, thresholds, m.Rows())
	require.NoError(t, err)

	assert.Equal(t, m.Version(), restored.Version())
	assert.Equal(t, m.Len(), restored.Len())
	assert.Equal(t, m.Rows(), restored.Rows())
}

func TestLoadEmptyRowsIsUnfitted(t *testing.T) {
	m, err := Load(timeperiod.HourWeekday, map[string]float64{models.MetricRequestCount: 0.95}, nil)
	require.NoError(t, err)
	assert.False(t, m.Fitted())
}

func TestDropServiceCalls(t *testing.T) {
	keep := testIdentity("keepService")
	drop := testIdentity("dropService")

	m := newTestModel(t, map[string]float64{models.MetricRequestCount: 0.95})
	m.Fit([]models.AggregatedRecord{
		countRecord(keep, wednesday14, 2),
		countRecord(drop, wednesday14, 2),
		countRecord(drop, monday9, 5),
	})
	require.Equal(t, 3, m.Len())

	m.DropServiceCalls([]models.ServiceCallIdentity{drop})

	require.Equal(t, 1, m.Len())
	rows := m.Rows()
	assert.Equal(t, keep, rows[0].Identity)
}
