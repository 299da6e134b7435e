package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xroad-metrics/analyzer/internal/averages"
	"github.com/xroad-metrics/analyzer/internal/config"
	"github.com/xroad-metrics/analyzer/internal/heartbeat"
	"github.com/xroad-metrics/analyzer/internal/lifecycle"
	"github.com/xroad-metrics/analyzer/internal/metrics"
	"github.com/xroad-metrics/analyzer/internal/models"
	"github.com/xroad-metrics/analyzer/internal/repository"
	"github.com/xroad-metrics/analyzer/internal/timeperiod"
)

// Trainer fits and updates the historic averages models. One Run processes
// every configured similarity window, partitioning service calls into their
// training stages first so brand-new calls get a full fit while mature
// calls are folded in incrementally.
type Trainer struct {
	repo   repository.Repository
	data   repository.DataSource
	cfg    config.AnalyzerConfig
	hb     *heartbeat.Recorder
	logger *slog.Logger

	now func() time.Time
}

// NewTrainer wires a trainer from its dependencies.
func NewTrainer(repo repository.Repository, data repository.DataSource, cfg config.AnalyzerConfig, hb *heartbeat.Recorder, logger *slog.Logger) *Trainer {
	return &Trainer{
		repo:   repo,
		data:   data,
		cfg:    cfg,
		hb:     hb,
		logger: logger.With(slog.String("component", "trainer")),
		now:    time.Now,
	}
}

// Run executes one full training pass.
func (t *Trainer) Run(ctx context.Context) error {
	started := t.now()
	if err := t.run(ctx); err != nil {
		recordBeat(ctx, t.hb, t.logger, ComponentTrainer, "Training run failed", heartbeat.StatusFailed)
		metrics.RunsTotal.WithLabelValues("train", "failed").Inc()
		return err
	}
	metrics.RunsTotal.WithLabelValues("train", "succeeded").Inc()
	metrics.RunDuration.WithLabelValues("train").Observe(time.Since(started).Seconds())
	recordBeat(ctx, t.hb, t.logger, ComponentTrainer, "Training run completed", heartbeat.StatusSucceeded)
	return nil
}

func (t *Trainer) run(ctx context.Context) error {
	now := t.now()

	recordBeat(ctx, t.hb, t.logger, ComponentTrainer, "Registering new service calls", heartbeat.StatusSucceeded)
	registered, err := t.repo.RegisterNewServiceCalls(ctx)
	if err != nil {
		return fmt.Errorf("failed to register new service calls: %w", err)
	}
	if registered > 0 {
		metrics.NewServiceCalls.Add(float64(registered))
		t.logger.Info("Registered new service calls", slog.Int64("count", registered))
	}

	recordBeat(ctx, t.hb, t.logger, ComponentTrainer, "Determining service call stages", heartbeat.StatusSucceeded)
	calls, err := t.repo.FirstTimestamps(ctx)
	if err != nil {
		return fmt.Errorf("failed to load service call timestamps: %w", err)
	}

	firstModelCutoff := now.AddDate(0, -t.cfg.TrainingPeriodTime, 0)
	retrainCutoff := now.Add(-minutes(t.cfg.IncidentExpirationTime))
	maxRequestTime := now.Add(-minutes(t.cfg.CorrectorBufferTime))

	stages := lifecycle.PartitionForTraining(calls, firstModelCutoff, retrainCutoff)
	t.logger.Info("Partitioned service calls for training",
		slog.Int("first_train", len(stages.FirstTrain)),
		slog.Int("first_retrain", len(stages.FirstRetrain)),
		slog.Int("regular", len(stages.Regular)))

	for _, mc := range t.cfg.HistoricModels {
		if err := t.trainModel(ctx, mc, stages, maxRequestTime, retrainCutoff); err != nil {
			return fmt.Errorf("failed to train model %s: %w", mc.Timeunit, err)
		}
	}

	// Stamp lifecycle milestones only after every model trained, so a
	// failed run retries the same stages next time.
	if len(stages.FirstTrain) > 0 {
		if err := t.repo.UpdateFirstTimestamps(ctx, repository.FieldFirstModelTrain, now, stages.FirstTrain); err != nil {
			return fmt.Errorf("failed to stamp first model train timestamps: %w", err)
		}
	}
	if len(stages.FirstRetrain) > 0 {
		if err := t.repo.UpdateFirstTimestamps(ctx, repository.FieldFirstModelRetrain, now, stages.FirstRetrain); err != nil {
			return fmt.Errorf("failed to stamp first model retrain timestamps: %w", err)
		}
	}
	return nil
}

// trainModel fits or updates one similarity window's model.
func (t *Trainer) trainModel(ctx context.Context, mc config.HistoricModelConfig, stages lifecycle.TrainStages, maxRequestTime, retrainCutoff time.Time) error {
	window, ok := timeperiod.ByName(mc.Timeunit)
	if !ok {
		return fmt.Errorf("unknown similarity window %q", mc.Timeunit)
	}
	name := window.TimeunitName
	logger := t.logger.With(slog.String("model", name))
	recordBeat(ctx, t.hb, t.logger, ComponentTrainer, fmt.Sprintf("Training model %s", name), heartbeat.StatusSucceeded)

	model, err := t.loadModel(ctx, window)
	if err != nil {
		return err
	}

	// Requests already reviewed as true incidents must not pollute the
	// baseline. First-time training is exempt: those calls predate any
	// incident reporting.
	var excludeIDs []string
	needExclusions := mc.Mode == "retrain" || len(stages.FirstRetrain) > 0 || len(stages.Regular) > 0
	if needExclusions {
		excludeIDs, err = t.repo.RequestIDsFromIncidents(ctx, repository.IncidentFilter{
			Statuses:             []string{models.IncidentStatusIncident},
			AnomalousMetrics:     monitoredMetrics(t.cfg),
			AggregationTimeunits: []string{window.AggWindow.Name},
			CreatedBefore:        &retrainCutoff,
		})
		if err != nil {
			return fmt.Errorf("failed to collect incident request ids: %w", err)
		}
	}

	switch mc.Mode {
	case "retrain":
		err = t.refit(ctx, model, window, stages, maxRequestTime, excludeIDs)
	default:
		err = t.fitOrUpdate(ctx, model, window, stages, maxRequestTime, excludeIDs)
	}
	if err != nil {
		return err
	}

	recordBeat(ctx, t.hb, t.logger, ComponentTrainer, fmt.Sprintf("Saving model %s", name), heartbeat.StatusSucceeded)
	if err := t.repo.SaveModel(ctx, name, model.Rows()); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	if err := t.repo.SetTimestamp(ctx, repository.TimestampLastFit, name, maxRequestTime); err != nil {
		return fmt.Errorf("failed to bookmark fit time: %w", err)
	}

	metrics.ModelRows.WithLabelValues(name).Set(float64(model.Len()))
	metrics.ModelVersion.WithLabelValues(name).Set(float64(model.Version()))
	logger.Info("Model trained",
		slog.Int("rows", model.Len()),
		slog.Int("version", model.Version()),
		slog.String("mode", mc.Mode))
	return nil
}

// loadModel restores the stored model, or returns a fresh unfitted one when
// nothing has been saved yet.
func (t *Trainer) loadModel(ctx context.Context, window timeperiod.Window) (*averages.Model, error) {
	rows, err := t.repo.LoadModel(ctx, window.TimeunitName)
	if err != nil && !errors.Is(err, repository.ErrModelNotFound) {
		return nil, fmt.Errorf("failed to load stored model: %w", err)
	}
	model, err := averages.Load(window, t.cfg.HistoricAveragesThresholds, rows)
	if err != nil {
		return nil, err
	}
	return model, nil
}

// refit rebuilds the model from the complete history of every known stage.
func (t *Trainer) refit(ctx context.Context, model *averages.Model, window timeperiod.Window, stages lifecycle.TrainStages, maxRequestTime time.Time, excludeIDs []string) error {
	records, err := t.data.AggregateHistoricData(ctx, repository.HistoricQuery{
		AggMinutes:        window.AggWindow.Minutes,
		Range:             repository.TimeRange{End: &maxRequestTime},
		ExcludeRequestIDs: excludeIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to aggregate training data: %w", err)
	}

	eligible := newIdentitySet(stages.FirstTrain)
	for _, c := range stages.FirstRetrain {
		eligible[c] = struct{}{}
	}
	for _, c := range stages.Regular {
		eligible[c] = struct{}{}
	}
	model.Fit(filterRecords(records, eligible))
	return nil
}

// fitOrUpdate handles the "update" training mode: a full fit for models that
// have never been trained, incremental folding otherwise. Service calls
// awaiting their first retrain get their rows rebuilt from scratch without
// the incident periods.
func (t *Trainer) fitOrUpdate(ctx context.Context, model *averages.Model, window timeperiod.Window, stages lifecycle.TrainStages, maxRequestTime time.Time, excludeIDs []string) error {
	aggMinutes := window.AggWindow.Minutes

	var firstTrain, firstRetrain, regular []models.AggregatedRecord

	// First-time training sees the full history, exclusions included: these
	// calls predate incident reporting.
	if len(stages.FirstTrain) > 0 {
		records, err := t.data.AggregateHistoricData(ctx, repository.HistoricQuery{
			AggMinutes: aggMinutes,
			Range:      repository.TimeRange{End: &maxRequestTime},
		})
		if err != nil {
			return fmt.Errorf("failed to aggregate first-train data: %w", err)
		}
		firstTrain = filterRecords(records, newIdentitySet(stages.FirstTrain))
	}

	// The first retrain also covers the full history, but without requests
	// confirmed as incidents.
	if len(stages.FirstRetrain) > 0 {
		records, err := t.data.AggregateHistoricData(ctx, repository.HistoricQuery{
			AggMinutes:        aggMinutes,
			Range:             repository.TimeRange{End: &maxRequestTime},
			ExcludeRequestIDs: excludeIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to aggregate first-retrain data: %w", err)
		}
		firstRetrain = filterRecords(records, newIdentitySet(stages.FirstRetrain))
	}

	// Regular updates only need what arrived since the last fit.
	if len(stages.Regular) > 0 {
		lastFit, err := t.repo.GetTimestamp(ctx, repository.TimestampLastFit, window.TimeunitName)
		if err != nil {
			return fmt.Errorf("failed to read fit bookmark: %w", err)
		}
		records, err := t.data.AggregateHistoricData(ctx, repository.HistoricQuery{
			AggMinutes:        aggMinutes,
			Range:             repository.TimeRange{Start: lastFit, End: &maxRequestTime},
			ExcludeRequestIDs: excludeIDs,
		})
		if err != nil {
			return fmt.Errorf("failed to aggregate update data: %w", err)
		}
		regular = filterRecords(records, newIdentitySet(stages.Regular))
	}

	if !model.Fitted() {
		combined := append(firstTrain, firstRetrain...)
		combined = append(combined, regular...)
		model.Fit(combined)
		return nil
	}

	// Retrained calls start over: their old rows carry the incident periods
	// the exclusion list just removed from the data.
	model.DropServiceCalls(stages.FirstRetrain)

	combined := append(firstTrain, firstRetrain...)
	combined = append(combined, regular...)
	if len(combined) == 0 {
		return nil
	}
	// Dropping can empty the model entirely when every call retrains.
	if !model.Fitted() {
		model.Fit(combined)
		return nil
	}
	return model.Update(combined)
}
