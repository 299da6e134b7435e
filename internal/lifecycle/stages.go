// Package lifecycle partitions known service calls into training and
// detection stages. A service call moves through four phases: first seen,
// first model trained, first incident raised, first retrain after the
// incident review period — and the stage decides whether a run fits a
// brand-new baseline for it or folds new data into the existing one.
package lifecycle

import (
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
)

// FirstTimestamps records the lifecycle milestones of one service call.
// A nil timestamp means the milestone has not happened yet.
type FirstTimestamps struct {
	Identity          models.ServiceCallIdentity
	FirstRequest      *time.Time
	FirstIncident     *time.Time
	FirstModelTrain   *time.Time
	FirstModelRetrain *time.Time
}

// TrainStages is the three-way partition used by the trainer.
type TrainStages struct {
	// FirstTrain lists calls whose training period has passed but which
	// have never had a model trained.
	FirstTrain []models.ServiceCallIdentity
	// FirstRetrain lists calls whose first incidents have expired and
	// which have not been retrained yet.
	FirstRetrain []models.ServiceCallIdentity
	// Regular lists calls already past their first retrain; their models
	// are updated incrementally.
	Regular []models.ServiceCallIdentity
}

// PartitionForTraining splits service calls by training stage.
// firstModelCutoff is the latest first-request time that still qualifies a
// call for its first training (now minus the training period);
// retrainCutoff is the latest first-incident time that still qualifies for
// the first retrain (now minus the incident expiration time).
func PartitionForTraining(calls []FirstTimestamps, firstModelCutoff, retrainCutoff time.Time) TrainStages {
	var stages TrainStages
	for _, c := range calls {
		switch {
		case c.FirstModelTrain == nil:
			if c.FirstRequest != nil && !c.FirstRequest.After(firstModelCutoff) {
				stages.FirstTrain = append(stages.FirstTrain, c.Identity)
			}
		case c.FirstModelRetrain == nil:
			if c.FirstIncident != nil && !c.FirstIncident.After(retrainCutoff) {
				stages.FirstRetrain = append(stages.FirstRetrain, c.Identity)
			}
		default:
			stages.Regular = append(stages.Regular, c.Identity)
		}
	}
	return stages
}

// TransformStages is the partition used by the anomaly finder.
type TransformStages struct {
	// FirstIncidents lists calls with a trained model but no incident yet;
	// their first detected anomaly stamps first_incident_timestamp.
	FirstIncidents []models.ServiceCallIdentity
	// Regular lists calls that already have incidents.
	Regular []models.ServiceCallIdentity
}

// PartitionForDetection splits service calls by detection stage.
func PartitionForDetection(calls []FirstTimestamps) TransformStages {
	var stages TransformStages
	for _, c := range calls {
		switch {
		case c.FirstIncident != nil:
			stages.Regular = append(stages.Regular, c.Identity)
		case c.FirstModelTrain != nil:
			stages.FirstIncidents = append(stages.FirstIncidents, c.Identity)
		}
	}
	return stages
}
