package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	id := ServiceCallIdentity{
		ClientXRoadInstance: "EE",
		ClientMemberClass:   "GOV",
		ClientMemberCode:    "70000001",
		ServiceCode:         "getData",
	}
	norm := id.Normalize()

	assert.Equal(t, "EE", norm.ClientXRoadInstance)
	assert.Equal(t, "-", norm.ClientSubsystemCode)
	assert.Equal(t, "-", norm.ServiceXRoadInstance)
	assert.Equal(t, "-", norm.ServiceVersion)
	assert.Equal(t, "getData", norm.ServiceCode)

	// Whitespace-only values are treated as missing.
	blank := ServiceCallIdentity{ClientMemberCode: "  "}
	assert.Equal(t, "-", blank.Normalize().ClientMemberCode)
}

func TestNormalizedIdentitiesCompareEqual(t *testing.T) {
	a := ServiceCallIdentity{ClientMemberCode: "70000001"}.Normalize()
	b := ServiceCallIdentity{ClientMemberCode: "70000001", ServiceVersion: ""}.Normalize()
	assert.Equal(t, a, b)
}

func TestIdentityString(t *testing.T) {
	id := ServiceCallIdentity{
		ClientXRoadInstance: "EE",
		ClientMemberClass:   "GOV",
		ServiceCode:         "getData",
	}.Normalize()
	assert.Equal(t, "EE:GOV:-:-:-:-:-:-:getData:-", id.String())
}

func TestAggregatedRecordMetric(t *testing.T) {
	rec := AggregatedRecord{
		RequestCount: 7,
		Metrics:      map[string]float64{MetricMeanRequestSize: 512},
	}

	v, ok := rec.Metric(MetricRequestCount)
	assert.True(t, ok)
	assert.Equal(t, 7.0, v)

	v, ok = rec.Metric(MetricMeanRequestSize)
	assert.True(t, ok)
	assert.Equal(t, 512.0, v)

	_, ok = rec.Metric(MetricMeanResponseSize)
	assert.False(t, ok)
}
