package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

var bucketStart = time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)

func ratioIdentity(serviceCode string) models.ServiceCallIdentity {
	return models.ServiceCallIdentity{
		ClientXRoadInstance:  "EE",
		ClientMemberClass:    "GOV",
		ClientMemberCode:     "70000001",
		ClientSubsystemCode:  "client-sub",
		ServiceXRoadInstance: "EE",
		ServiceMemberClass:   "COM",
		ServiceMemberCode:    "70000002",
		ServiceSubsystemCode: "service-sub",
		ServiceCode:          serviceCode,
		ServiceVersion:       "v1",
	}
}

func TestFailedRequestRatioTransform(t *testing.T) {
	id := ratioIdentity("getData")

	tests := []struct {
		name      string
		threshold float64
		rows      []models.FailedRequestRow
		wantCount int
		check     func(t *testing.T, a *models.AnomalyRecord)
	}{
		{
			name:      "ratio above threshold is flagged",
			threshold: 0.7,
			rows: []models.FailedRequestRow{
				{Identity: id, PeriodStart: bucketStart, Succeeded: true, Count: 1},
				{Identity: id, PeriodStart: bucketStart, Succeeded: false, Count: 3,
					RequestIDs: []string{"f1", "f2", "f3"}},
			},
			wantCount: 1,
			check: func(t *testing.T, a *models.AnomalyRecord) {
				assert.Equal(t, AnomalyFailedRequestRatio, a.AnomalousMetric)
				assert.InDelta(t, 0.75, a.MonitoredMetricValue, 1e-12)
				assert.InDelta(t, 0.05, a.DifferenceFromNormal, 1e-12)
				assert.Equal(t, int64(4), a.RequestCount)
				assert.Equal(t, []string{"f1", "f2", "f3"}, a.RequestIDs)
				assert.Equal(t, 1.0, a.AnomalyConfidence)
				assert.Equal(t, bucketStart.Add(time.Hour), a.PeriodEnd)
				assert.Equal(t, "hour", a.AggregationTimeunit)
				assert.Equal(t,
					"Allowed failed_request_ratio is 0.7, but observed was 0.75 (3 requests out of 4 failed).",
					a.Description)
				assert.Equal(t, 0.7, a.ModelParams["failed_request_ratio_threshold"])
			},
		},
		{
			name:      "ratio below threshold is not flagged",
			threshold: 0.7,
			rows: []models.FailedRequestRow{
				{Identity: id, PeriodStart: bucketStart, Succeeded: true, Count: 3},
				{Identity: id, PeriodStart: bucketStart, Succeeded: false, Count: 1},
			},
			wantCount: 0,
		},
		{
			name:      "ratio exactly at threshold is not flagged",
			threshold: 0.75,
			rows: []models.FailedRequestRow{
				{Identity: id, PeriodStart: bucketStart, Succeeded: true, Count: 1},
				{Identity: id, PeriodStart: bucketStart, Succeeded: false, Count: 3},
			},
			wantCount: 0,
		},
		{
			name:      "missing succeeded side counts as zero",
			threshold: 0.9,
			rows: []models.FailedRequestRow{
				{Identity: id, PeriodStart: bucketStart, Succeeded: false, Count: 2,
					RequestIDs: []string{"f1", "f2"}},
			},
			wantCount: 1,
			check: func(t *testing.T, a *models.AnomalyRecord) {
				assert.InDelta(t, 1.0, a.MonitoredMetricValue, 1e-12)
				assert.Equal(t, int64(2), a.RequestCount)
			},
		},
		{
			name:      "missing failed side never flags",
			threshold: 0.1,
			rows: []models.FailedRequestRow{
				{Identity: id, PeriodStart: bucketStart, Succeeded: true, Count: 5},
			},
			wantCount: 0,
		},
		{
			name:      "empty input",
			threshold: 0.5,
			rows:      nil,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewFailedRequestRatio(tt.threshold, timeperiod.HourAggregation)
			anomalies := d.Transform(tt.rows)
			require.Len(t, anomalies, tt.wantCount)
			if tt.check != nil {
				tt.check(t, anomalies[0])
			}
		})
	}
}

func TestFailedRequestRatioSeparateBuckets(t *testing.T) {
	id := ratioIdentity("getData")
	other := ratioIdentity("otherService")

	d := NewFailedRequestRatio(0.5, timeperiod.HourAggregation)
	anomalies := d.Transform([]models.FailedRequestRow{
		// Same identity, different buckets: joined separately.
		{Identity: id, PeriodStart: bucketStart, Succeeded: false, Count: 3},
		{Identity: id, PeriodStart: bucketStart.Add(time.Hour), Succeeded: true, Count: 3},
		// Different identity in the same bucket.
		{Identity: other, PeriodStart: bucketStart, Succeeded: false, Count: 1},
	})

	require.Len(t, anomalies, 2)
	assert.Equal(t, id, anomalies[0].Identity)
	assert.Equal(t, other, anomalies[1].Identity)
}
