// Package service orchestrates the two analyzer runs: training, which fits
// or updates the historic averages models, and anomaly finding, which runs
// the rule-based detectors and scores fresh data against the stored models.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/xroad-metrics/analyzer/internal/config"
	"github.com/xroad-metrics/analyzer/internal/heartbeat"
	"github.com/xroad-metrics/analyzer/internal/models"
)

// Heartbeat component names, one per analyzer run.
const (
	ComponentTrainer = "train_models"
	ComponentFinder  = "find_anomalies"
)

// identitySet answers membership queries for a stage's service calls.
type identitySet map[models.ServiceCallIdentity]struct{}

func newIdentitySet(calls []models.ServiceCallIdentity) identitySet {
	set := make(identitySet, len(calls))
	for _, c := range calls {
		set[c] = struct{}{}
	}
	return set
}

// filterRecords keeps the aggregated records belonging to the given stage.
func filterRecords(records []models.AggregatedRecord, set identitySet) []models.AggregatedRecord {
	if len(records) == 0 || len(set) == 0 {
		return nil
	}
	out := make([]models.AggregatedRecord, 0, len(records))
	for i := range records {
		if _, ok := set[records[i].Identity]; ok {
			out = append(out, records[i])
		}
	}
	return out
}

// monitoredMetrics lists the configured historic averages metrics in a
// stable order, for incident filters and logging.
func monitoredMetrics(cfg config.AnalyzerConfig) []string {
	names := make([]string, 0, len(cfg.HistoricAveragesThresholds))
	for name := range cfg.HistoricAveragesThresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// recordBeat writes a heartbeat and logs the failure instead of propagating
// it; a broken Redis must not abort an analyzer run.
func recordBeat(ctx context.Context, hb *heartbeat.Recorder, logger *slog.Logger, component, activity, status string) {
	if err := hb.Record(ctx, component, activity, status); err != nil {
		logger.Warn("Failed to record heartbeat",
			slog.String("component", component),
			slog.String("error", err.Error()))
	}
}

// minutes converts a configured minute count to a duration.
func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// anomalyIdentities collects the distinct service calls among the given
// anomalies, restricted to the provided stage.
func anomalyIdentities(anomalies []*models.AnomalyRecord, stage identitySet) []models.ServiceCallIdentity {
	seen := make(identitySet)
	var out []models.ServiceCallIdentity
	for _, a := range anomalies {
		if _, ok := stage[a.Identity]; !ok {
			continue
		}
		if _, dup := seen[a.Identity]; dup {
			continue
		}
		seen[a.Identity] = struct{}{}
		out = append(out, a.Identity)
	}
	return out
}
