package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xroad-metrics/analyzer/internal/averages"
	"github.com/xroad-metrics/analyzer/internal/config"
	"github.com/xroad-metrics/analyzer/internal/detectors"
	"github.com/xroad-metrics/analyzer/internal/heartbeat"
	"github.com/xroad-metrics/analyzer/internal/lifecycle"
	"github.com/xroad-metrics/analyzer/internal/metrics"
	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/notifier"
	"github.com/xroad-metrics/analyzer/internal/repository"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// Bookmark model types for the rule-based detectors.
const (
	bookmarkFailedRequestRatio = "failed_request_ratio"
	bookmarkDuplicateMessageID = "duplicate_message_id"
	bookmarkTimeSync           = "time_sync_errors"
)

// Finder runs one anomaly detection pass: the three rule-based detectors
// plus the historic averages models, inserting every anomaly as a new
// incident. Each detector keeps its own bookmark so a pass only scores
// buckets that completed since the previous pass.
type Finder struct {
	repo   repository.Repository
	data   repository.DataSource
	cfg    config.AnalyzerConfig
	hb     *heartbeat.Recorder
	pub    *notifier.Publisher
	logger *slog.Logger

	now func() time.Time
}

// NewFinder wires a finder from its dependencies. The publisher may be nil
// when incident events are disabled.
func NewFinder(repo repository.Repository, data repository.DataSource, cfg config.AnalyzerConfig, hb *heartbeat.Recorder, pub *notifier.Publisher, logger *slog.Logger) *Finder {
	return &Finder{
		repo:   repo,
		data:   data,
		cfg:    cfg,
		hb:     hb,
		pub:    pub,
		logger: logger.With(slog.String("component", "finder")),
		now:    time.Now,
	}
}

// Run executes one full anomaly finding pass.
func (f *Finder) Run(ctx context.Context) error {
	started := f.now()
	if err := f.run(ctx); err != nil {
		recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Anomaly finding run failed", heartbeat.StatusFailed)
		metrics.RunsTotal.WithLabelValues("find", "failed").Inc()
		return err
	}
	metrics.RunsTotal.WithLabelValues("find", "succeeded").Inc()
	metrics.RunDuration.WithLabelValues("find").Observe(time.Since(started).Seconds())
	recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Anomaly finding run completed", heartbeat.StatusSucceeded)
	return nil
}

func (f *Finder) run(ctx context.Context) error {
	now := f.now()

	recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Registering new service calls", heartbeat.StatusSucceeded)
	registered, err := f.repo.RegisterNewServiceCalls(ctx)
	if err != nil {
		return fmt.Errorf("failed to register new service calls: %w", err)
	}
	if registered > 0 {
		metrics.NewServiceCalls.Add(float64(registered))
		f.logger.Info("Registered new service calls", slog.Int64("count", registered))
	}

	if err := f.findFailedRequestRatio(ctx, now); err != nil {
		return err
	}
	if err := f.findDuplicateMessageIDs(ctx, now); err != nil {
		return err
	}
	if err := f.findTimeSyncErrors(ctx, now); err != nil {
		return err
	}
	return f.findHistoricAnomalies(ctx, now)
}

// detectionEnd returns the last completed bucket boundary the pass may
// score, leaving the corrector its buffer to finish pairing records.
func (f *Finder) detectionEnd(now time.Time, window timeperiod.AggregationWindow) time.Time {
	return timeperiod.TruncateToBucket(now.Add(-minutes(f.cfg.CorrectorBufferTime)), window.Minutes)
}

func (f *Finder) findFailedRequestRatio(ctx context.Context, now time.Time) error {
	recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Finding failed request ratio anomalies", heartbeat.StatusSucceeded)
	window := timeperiod.HourAggregation
	last, err := f.repo.GetTimestamp(ctx, repository.TimestampLastTransform, bookmarkFailedRequestRatio)
	if err != nil {
		return fmt.Errorf("failed to read transform bookmark: %w", err)
	}
	end := f.detectionEnd(now, window)

	rows, err := f.data.AggregateFailedRequests(ctx, window.Minutes, repository.TimeRange{Start: last, End: &end})
	if err != nil {
		return fmt.Errorf("failed to aggregate failed requests: %w", err)
	}

	detector := detectors.NewFailedRequestRatio(f.cfg.FailedRequestRatioThreshold, window)
	anomalies := detector.Transform(rows)
	if err := f.storeAnomalies(ctx, detectors.AnomalyFailedRequestRatio, anomalies); err != nil {
		return err
	}
	return f.repo.SetTimestamp(ctx, repository.TimestampLastTransform, bookmarkFailedRequestRatio, end)
}

func (f *Finder) findDuplicateMessageIDs(ctx context.Context, now time.Time) error {
	recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Finding duplicate message id anomalies", heartbeat.StatusSucceeded)
	window := timeperiod.DayAggregation
	last, err := f.repo.GetTimestamp(ctx, repository.TimestampLastTransform, bookmarkDuplicateMessageID)
	if err != nil {
		return fmt.Errorf("failed to read transform bookmark: %w", err)
	}
	end := f.detectionEnd(now, window)

	rows, err := f.data.AggregateDuplicateMessageIDs(ctx, window.Minutes, repository.TimeRange{Start: last, End: &end})
	if err != nil {
		return fmt.Errorf("failed to aggregate duplicate message ids: %w", err)
	}

	detector := detectors.NewDuplicateMessageID(window)
	anomalies := detector.Transform(rows)
	if err := f.storeAnomalies(ctx, detectors.AnomalyDuplicateMessageID, anomalies); err != nil {
		return err
	}
	return f.repo.SetTimestamp(ctx, repository.TimestampLastTransform, bookmarkDuplicateMessageID, end)
}

func (f *Finder) findTimeSyncErrors(ctx context.Context, now time.Time) error {
	recordBeat(ctx, f.hb, f.logger, ComponentFinder, "Finding time sync anomalies", heartbeat.StatusSucceeded)
	window := timeperiod.HourAggregation
	last, err := f.repo.GetTimestamp(ctx, repository.TimestampLastTransform, bookmarkTimeSync)
	if err != nil {
		return fmt.Errorf("failed to read transform bookmark: %w", err)
	}
	end := f.detectionEnd(now, window)
	tr := repository.TimeRange{Start: last, End: &end}

	for metric, threshold := range f.cfg.TimeSyncLowerThresholds {
		rows, err := f.data.AggregateTimeSync(ctx, metric, threshold, window.Minutes, tr)
		if err != nil {
			return fmt.Errorf("failed to aggregate time sync errors for %s: %w", metric, err)
		}
		detector := detectors.NewTimeSync(metric, threshold, window)
		if err := f.storeAnomalies(ctx, bookmarkTimeSync, detector.Transform(rows)); err != nil {
			return err
		}
	}
	return f.repo.SetTimestamp(ctx, repository.TimestampLastTransform, bookmarkTimeSync, end)
}

// findHistoricAnomalies scores fresh buckets against every stored historic
// averages model. Service calls that have never had an incident are scored
// over their full history once, then stamped so later passes treat them as
// regular.
func (f *Finder) findHistoricAnomalies(ctx context.Context, now time.Time) error {
	calls, err := f.repo.FirstTimestamps(ctx)
	if err != nil {
		return fmt.Errorf("failed to load service call timestamps: %w", err)
	}
	stages := lifecycle.PartitionForDetection(calls)
	firstIncidents := newIdentitySet(stages.FirstIncidents)
	regular := newIdentitySet(stages.Regular)

	for _, mc := range f.cfg.HistoricModels {
		window, ok := timeperiod.ByName(mc.Timeunit)
		if !ok {
			return fmt.Errorf("unknown similarity window %q", mc.Timeunit)
		}
		name := window.TimeunitName
		recordBeat(ctx, f.hb, f.logger, ComponentFinder, fmt.Sprintf("Finding anomalies with model %s", name), heartbeat.StatusSucceeded)

		rows, err := f.repo.LoadModel(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrModelNotFound) {
				f.logger.Info("Skipping untrained model", slog.String("model", name))
				continue
			}
			return fmt.Errorf("failed to load model %s: %w", name, err)
		}
		model, err := averages.Load(window, f.cfg.HistoricAveragesThresholds, rows)
		if err != nil {
			return err
		}

		last, err := f.repo.GetTimestamp(ctx, repository.TimestampLastTransform, name)
		if err != nil {
			return fmt.Errorf("failed to read transform bookmark: %w", err)
		}
		end := f.detectionEnd(now, window.AggWindow)

		var records []models.AggregatedRecord
		if len(regular) > 0 {
			fresh, err := f.data.AggregateHistoricData(ctx, repository.HistoricQuery{
				AggMinutes: window.AggWindow.Minutes,
				Range:      repository.TimeRange{Start: last, End: &end},
			})
			if err != nil {
				return fmt.Errorf("failed to aggregate detection data: %w", err)
			}
			records = append(records, filterRecords(fresh, regular)...)
		}
		if len(firstIncidents) > 0 {
			history, err := f.data.AggregateHistoricData(ctx, repository.HistoricQuery{
				AggMinutes: window.AggWindow.Minutes,
				Range:      repository.TimeRange{End: &end},
			})
			if err != nil {
				return fmt.Errorf("failed to aggregate first-incident data: %w", err)
			}
			records = append(records, filterRecords(history, firstIncidents)...)
		}

		anomalies := model.Detect(records)
		if err := f.storeAnomalies(ctx, name, anomalies); err != nil {
			return err
		}

		if stamped := anomalyIdentities(anomalies, firstIncidents); len(stamped) > 0 {
			if err := f.repo.UpdateFirstTimestamps(ctx, repository.FieldFirstIncident, now, stamped); err != nil {
				return fmt.Errorf("failed to stamp first incident timestamps: %w", err)
			}
		}
		if err := f.repo.SetTimestamp(ctx, repository.TimestampLastTransform, name, end); err != nil {
			return fmt.Errorf("failed to bookmark transform time: %w", err)
		}
	}
	return nil
}

// storeAnomalies persists a batch of anomalies and publishes their events.
func (f *Finder) storeAnomalies(ctx context.Context, source string, anomalies []*models.AnomalyRecord) error {
	if len(anomalies) == 0 {
		return nil
	}
	if err := f.repo.InsertIncidents(ctx, anomalies); err != nil {
		return fmt.Errorf("failed to insert incidents: %w", err)
	}
	metrics.IncidentsTotal.WithLabelValues(source).Add(float64(len(anomalies)))
	f.logger.Info("Inserted incidents",
		slog.String("source", source),
		slog.Int("count", len(anomalies)))
	f.pub.PublishIncidents(anomalies)
	return nil
}
