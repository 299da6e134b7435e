package models

import "time"

// MetricStats is the persisted statistical state of one metric within one
// model row. Mean and Std are derived from the other three fields but are
// stored alongside them, the way the model table keeps them queryable.
type MetricStats struct {
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Count      int64   `json:"count"`
	Sum        float64 `json:"sum"`
	SumSquares float64 `json:"ssq"`
}

// ModelRow is the persistence form of one historic-averages baseline: the
// statistics of every monitored metric for one service call within one
// similar period. Rows sharing a ModelName form one model; saving a model
// replaces all of its rows.
type ModelRow struct {
	Identity               ServiceCallIdentity    `json:"identity"`
	SimilarPeriods         string                 `json:"similar_periods"`
	Metrics                map[string]MetricStats `json:"metrics"`
	Version                int                    `json:"version"`
	ModelName              string                 `json:"model_name"`
	ModelCreationTimestamp time.Time              `json:"model_creation_timestamp"`
	ModelUpdateTimestamp   time.Time              `json:"model_update_timestamp"`
}
