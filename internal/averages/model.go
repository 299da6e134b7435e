// Package averages implements the historic averages anomaly model: a
// per-service-call, per-similar-period baseline of metric means and
// standard deviations, incrementally updatable and scored with two-sided
// normal p-values.
package averages

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/stats"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// ErrNotFitted is returned by Update when no baseline exists yet. Training
// must always run a full Fit before incremental updates are possible.
var ErrNotFitted = errors.New("averages: model has not been fitted")

// RowKey addresses one baseline row.
type RowKey struct {
	Identity models.ServiceCallIdentity
	Period   string
}

// row is the in-memory form of one baseline row.
type row struct {
	metrics   map[string]stats.Accumulator
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// Model is the historic averages model for one similarity window. It is not
// safe for concurrent use; training and detection run in a single batch
// process.
type Model struct {
	window     timeperiod.Window
	thresholds map[string]float64

	rows      map[RowKey]*row
	version   int
	createdAt time.Time

	now func() time.Time
}

// New creates an unfitted model for the given similarity window. The
// thresholds map lists the monitored metrics and their per-metric anomaly
// confidence thresholds. An invalid calendar unit list is rejected here
// rather than surfacing as silently unmatched period keys.
func New(window timeperiod.Window, thresholds map[string]float64) (*Model, error) {
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("invalid similarity window %q: %w", window.TimeunitName, err)
	}
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("similarity window %q: no monitored metrics configured", window.TimeunitName)
	}
	return &Model{
		window:     window,
		thresholds: thresholds,
		now:        time.Now,
	}, nil
}

// Load restores a model from its persisted rows. The model version and
// creation timestamp are taken from the first row, as every row of a saved
// model carries the same values.
func Load(window timeperiod.Window, thresholds map[string]float64, rows []models.ModelRow) (*Model, error) {
	m, err := New(window, thresholds)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return m, nil
	}
	m.rows = make(map[RowKey]*row, len(rows))
	m.version = rows[0].Version
	m.createdAt = rows[0].ModelCreationTimestamp
	for _, r := range rows {
		metrics := make(map[string]stats.Accumulator, len(r.Metrics))
		for name, s := range r.Metrics {
			metrics[name] = stats.Accumulator{Count: s.Count, Sum: s.Sum, SumSquares: s.SumSquares}
		}
		m.rows[RowKey{Identity: r.Identity, Period: r.SimilarPeriods}] = &row{
			metrics:   metrics,
			version:   r.Version,
			createdAt: r.ModelCreationTimestamp,
			updatedAt: r.ModelUpdateTimestamp,
		}
	}
	return m, nil
}

// Fitted reports whether the model holds any baseline rows.
func (m *Model) Fitted() bool { return len(m.rows) > 0 }

// Version returns the current model version: 0 unfitted, 1 after Fit,
// incremented by every Update.
func (m *Model) Version() int { return m.version }

// Window returns the similarity window the model was built for.
func (m *Model) Window() timeperiod.Window { return m.window }

// Len returns the number of baseline rows.
func (m *Model) Len() int { return len(m.rows) }

// Fit builds a fresh baseline from aggregated records, discarding any
// previous state. An empty input leaves the model untouched.
func (m *Model) Fit(records []models.AggregatedRecord) {
	if len(records) == 0 {
		return
	}
	now := m.now()
	m.rows = m.buildRows(records, 1, now, now)
	m.version = 1
	m.createdAt = now
}

// Update folds new aggregated records into an existing baseline. Records
// for (service call, period) pairs already present are folded one at a
// time through the incremental update rule; pairs never seen before are
// batch-initialized as new rows inheriting the current model version and
// creation timestamp. Afterwards the model version increments by one on
// every row. Calling Update before Fit is a precondition violation.
func (m *Model) Update(records []models.AggregatedRecord) error {
	if !m.Fitted() {
		return ErrNotFitted
	}
	if len(records) == 0 {
		return nil
	}
	now := m.now()

	var newPeriods []models.AggregatedRecord
	for i := range records {
		rec := &records[i]
		key := RowKey{Identity: rec.Identity, Period: m.window.Key(rec.PeriodStart)}
		existing, ok := m.rows[key]
		if !ok {
			newPeriods = append(newPeriods, *rec)
			continue
		}
		for metric := range m.thresholds {
			value, present := rec.Metric(metric)
			if !present {
				continue
			}
			acc := existing.metrics[metric]
			acc.Observe(value)
			existing.metrics[metric] = acc
		}
	}

	for key, r := range m.buildRows(newPeriods, m.version, m.createdAt, now) {
		m.rows[key] = r
	}

	m.version++
	for _, r := range m.rows {
		r.version = m.version
		r.updatedAt = now
	}
	return nil
}

// buildRows groups records by (service call, period key) and
// batch-initializes an accumulator per monitored metric.
func (m *Model) buildRows(records []models.AggregatedRecord, version int, createdAt, updatedAt time.Time) map[RowKey]*row {
	rows := make(map[RowKey]*row)
	for i := range records {
		rec := &records[i]
		key := RowKey{Identity: rec.Identity, Period: m.window.Key(rec.PeriodStart)}
		r, ok := rows[key]
		if !ok {
			r = &row{
				metrics:   make(map[string]stats.Accumulator, len(m.thresholds)),
				version:   version,
				createdAt: createdAt,
				updatedAt: updatedAt,
			}
			rows[key] = r
		}
		for metric := range m.thresholds {
			value, present := rec.Metric(metric)
			if !present {
				continue
			}
			acc := r.metrics[metric]
			acc.Observe(value)
			r.metrics[metric] = acc
		}
	}
	return rows
}

// Detect scores aggregated records against the baseline and returns one
// anomaly per (record, metric) whose two-sided p-value falls strictly below
// 1-threshold. Records for periods absent from the baseline are scored
// against mean=0, std=0 — but only for request_count; for other metrics a
// missing baseline mean drops the record, as does a missing observed value.
func (m *Model) Detect(records []models.AggregatedRecord) []*models.AnomalyRecord {
	if !m.Fitted() || len(records) == 0 {
		return nil
	}
	now := m.now()

	var anomalies []*models.AnomalyRecord
	for metric, threshold := range m.thresholds {
		alpha := 1 - threshold
		for i := range records {
			rec := &records[i]
			observed, present := rec.Metric(metric)
			if !present {
				continue
			}
			period := m.window.Key(rec.PeriodStart)
			baseline, matched := m.lookup(rec.Identity, period, metric)
			if !matched && metric != models.MetricRequestCount {
				continue
			}

			z := stats.ZScore(observed, baseline.mean, baseline.std)
			p := stats.TwoSidedPValue(z)
			if p >= alpha {
				continue
			}

			anomalies = append(anomalies, &models.AnomalyRecord{
				Identity:                  rec.Identity,
				AnomalousMetric:           metric,
				AnomalyConfidence:         1 - p,
				PeriodStart:               rec.PeriodStart,
				PeriodEnd:                 rec.PeriodStart.Add(m.window.AggWindow.Duration()),
				MonitoredMetricValue:      observed,
				DifferenceFromNormal:      abs(observed - baseline.mean),
				RequestCount:              rec.RequestCount,
				RequestIDs:                rec.RequestIDs,
				ModelVersion:              baseline.version,
				AggregationTimeunit:       m.window.AggWindow.Name,
				ModelTimeunit:             m.window.TimeunitName,
				IncidentStatus:            models.IncidentStatusNew,
				IncidentCreationTimestamp: now,
				IncidentUpdateTimestamp:   now,
				ModelParams: map[string]any{
					"metric_mean":     baseline.mean,
					"metric_std":      baseline.std,
					"model_timeunit":  m.window.TimeunitName,
					"similar_periods": period,
				},
				Description: m.describe(metric, period, baseline.mean, observed),
				Comments:    "",
			})
		}
	}
	return anomalies
}

// baselineStats is the result of one left-join lookup.
type baselineStats struct {
	mean    float64
	std     float64
	version int
}

// lookup fetches baseline statistics for one (identity, period, metric).
// The second result reports whether a stored mean exists; when it does not,
// zero statistics are returned (the left-join-with-fill policy).
func (m *Model) lookup(id models.ServiceCallIdentity, period, metric string) (baselineStats, bool) {
	r, ok := m.rows[RowKey{Identity: id, Period: period}]
	if !ok {
		return baselineStats{}, false
	}
	acc, ok := r.metrics[metric]
	if !ok || acc.Count == 0 {
		return baselineStats{version: r.version}, false
	}
	return baselineStats{mean: acc.Mean(), std: acc.Std(), version: r.version}, true
}

// Rows flattens the model into its persistence form, ordered
// deterministically by identity and period key.
func (m *Model) Rows() []models.ModelRow {
	out := make([]models.ModelRow, 0, len(m.rows))
	for key, r := range m.rows {
		metrics := make(map[string]models.MetricStats, len(r.metrics))
		for name, acc := range r.metrics {
			metrics[name] = models.MetricStats{
				Mean:       acc.Mean(),
				Std:        acc.Std(),
				Count:      acc.Count,
				Sum:        acc.Sum,
				SumSquares: acc.SumSquares,
			}
		}
		out = append(out, models.ModelRow{
			Identity:               key.Identity,
			SimilarPeriods:         key.Period,
			Metrics:                metrics,
			Version:                r.version,
			ModelName:              m.window.TimeunitName,
			ModelCreationTimestamp: r.createdAt,
			ModelUpdateTimestamp:   r.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity != out[j].Identity {
			return out[i].Identity.String() < out[j].Identity.String()
		}
		return out[i].SimilarPeriods < out[j].SimilarPeriods
	})
	return out
}

// DropServiceCalls removes every baseline row belonging to one of the given
// service calls. The trainer uses this to discard rows for calls that are
// about to be retrained from scratch.
func (m *Model) DropServiceCalls(calls []models.ServiceCallIdentity) {
	if len(m.rows) == 0 || len(calls) == 0 {
		return
	}
	drop := make(map[models.ServiceCallIdentity]struct{}, len(calls))
	for _, c := range calls {
		drop[c] = struct{}{}
	}
	for key := range m.rows {
		if _, ok := drop[key.Identity]; ok {
			delete(m.rows, key)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
