package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xroad-metrics/analyzer/internal/lifecycle"
	"github.com/xroad-metrics/analyzer/internal/models"
)

// identityColumns lists the service call identifier columns in the order
// used by every query in this package.
const identityColumns = `client_xroad_instance, client_member_class, client_member_code, client_subsystem_code,
	service_xroad_instance, service_member_class, service_member_code, service_subsystem_code,
	service_code, service_version`

// PostgresRepository implements Repository and DataSource using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity for readiness probes.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// LoadModel retrieves all rows of a stored historic averages model.
func (r *PostgresRepository) LoadModel(ctx context.Context, name string) ([]models.ModelRow, error) {
	query := fmt.Sprintf(`
		SELECT %s, similar_periods, metrics, version, model_creation_timestamp, model_update_timestamp
		FROM model_rows
		WHERE model_name = $1
		ORDER BY %s, similar_periods
	`, identityColumns, identityColumns)

	rows, err := r.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}
	defer rows.Close()

	var out []models.ModelRow
	for rows.Next() {
		row := models.ModelRow{ModelName: name}
		var metricsJSON []byte
		dest := identityDest(&row.Identity)
		dest = append(dest, &row.SimilarPeriods, &metricsJSON, &row.Version,
			&row.ModelCreationTimestamp, &row.ModelUpdateTimestamp)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		if err := json.Unmarshal(metricsJSON, &row.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode model row metrics: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read model rows: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrModelNotFound
	}
	return out, nil
}

// SaveModel replaces all rows of a model in one transaction.
func (r *PostgresRepository) SaveModel(ctx context.Context, name string, modelRows []models.ModelRow) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM model_rows WHERE model_name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete old model rows: %w", err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO model_rows (model_name, %s, similar_periods, metrics, version,
			model_creation_timestamp, model_update_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, identityColumns)

	for i := range modelRows {
		row := &modelRows[i]
		metricsJSON, err := json.Marshal(row.Metrics)
		if err != nil {
			return fmt.Errorf("failed to encode model row metrics: %w", err)
		}
		args := []any{name}
		args = append(args, identityArgs(row.Identity)...)
		args = append(args, row.SimilarPeriods, metricsJSON, row.Version,
			row.ModelCreationTimestamp, row.ModelUpdateTimestamp)
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("failed to insert model row: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit model save: %w", err)
	}
	return nil
}

// InsertIncidents stores detected anomalies as new incidents, assigning
// each a fresh id.
func (r *PostgresRepository) InsertIncidents(ctx context.Context, incidents []*models.AnomalyRecord) error {
	if len(incidents) == 0 {
		return nil
	}

	insert := fmt.Sprintf(`
		INSERT INTO incidents (id, %s, anomalous_metric, anomaly_confidence,
			period_start_time, period_end_time, monitored_metric_value, difference_from_normal,
			request_count, request_ids, model_version, aggregation_timeunit, model_timeunit,
			incident_status, incident_creation_timestamp, incident_update_timestamp,
			model_params, description, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`, identityColumns)

	for _, incident := range incidents {
		if incident.ID == "" {
			incident.ID = uuid.New().String()
		}
		paramsJSON, err := json.Marshal(incident.ModelParams)
		if err != nil {
			return fmt.Errorf("failed to encode model params: %w", err)
		}
		args := []any{incident.ID}
		args = append(args, identityArgs(incident.Identity)...)
		args = append(args,
			incident.AnomalousMetric, incident.AnomalyConfidence,
			incident.PeriodStart, incident.PeriodEnd,
			incident.MonitoredMetricValue, incident.DifferenceFromNormal,
			incident.RequestCount, incident.RequestIDs,
			incident.ModelVersion, incident.AggregationTimeunit, incident.ModelTimeunit,
			incident.IncidentStatus, incident.IncidentCreationTimestamp, incident.IncidentUpdateTimestamp,
			paramsJSON, incident.Description, incident.Comments,
		)
		if _, err := r.pool.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}
	}
	return nil
}

// RequestIDsFromIncidents collects the request ids referenced by incidents
// matching the filter. Training uses this to keep already-flagged periods
// out of the baseline.
func (r *PostgresRepository) RequestIDsFromIncidents(ctx context.Context, filter IncidentFilter) ([]string, error) {
	query := `SELECT request_ids FROM incidents WHERE 1=1`
	args := []any{}
	argPos := 1

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND incident_status = ANY($%d)", argPos)
		args = append(args, filter.Statuses)
		argPos++
	}
	if len(filter.AnomalousMetrics) > 0 {
		query += fmt.Sprintf(" AND anomalous_metric = ANY($%d)", argPos)
		args = append(args, filter.AnomalousMetrics)
		argPos++
	}
	if len(filter.AggregationTimeunits) > 0 {
		query += fmt.Sprintf(" AND aggregation_timeunit = ANY($%d)", argPos)
		args = append(args, filter.AggregationTimeunits)
		argPos++
	}
	if filter.CreatedAfter != nil {
		query += fmt.Sprintf(" AND incident_creation_timestamp >= $%d", argPos)
		args = append(args, *filter.CreatedAfter)
		argPos++
	}
	if filter.CreatedBefore != nil {
		query += fmt.Sprintf(" AND incident_creation_timestamp <= $%d", argPos)
		args = append(args, *filter.CreatedBefore)
		argPos++
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident request ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ids []string
		if err := rows.Scan(&ids); err != nil {
			return nil, fmt.Errorf("failed to scan incident request ids: %w", err)
		}
		out = append(out, ids...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read incident request ids: %w", err)
	}
	return out, nil
}

// GetTimestamp reads a progress bookmark; nil when none has been set.
func (r *PostgresRepository) GetTimestamp(ctx context.Context, tsType, modelType string) (*time.Time, error) {
	var value time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM analyzer_state WHERE ts_type = $1 AND model_type = $2`,
		tsType, modelType,
	).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s for %s: %w", tsType, modelType, err)
	}
	return &value, nil
}

// SetTimestamp upserts a progress bookmark.
func (r *PostgresRepository) SetTimestamp(ctx context.Context, tsType, modelType string, value time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO analyzer_state (ts_type, model_type, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (ts_type, model_type) DO UPDATE SET value = EXCLUDED.value
	`, tsType, modelType, value)
	if err != nil {
		return fmt.Errorf("failed to set %s for %s: %w", tsType, modelType, err)
	}
	return nil
}

// RegisterNewServiceCalls records the first request timestamp for every
// service call present in the clean data but not yet tracked. Returns the
// number of newly tracked service calls.
func (r *PostgresRepository) RegisterNewServiceCalls(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO service_call_timestamps (%s, first_request_timestamp)
		SELECT %s, to_timestamp(MIN(request_in_ts) / 1000.0)
		FROM clean_records
		GROUP BY %s
		ON CONFLICT (%s) DO NOTHING
	`, identityColumns, identityColumns, identityColumns, identityColumns)

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to register new service calls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FirstTimestamps loads the lifecycle milestones of every tracked service
// call.
func (r *PostgresRepository) FirstTimestamps(ctx context.Context) ([]lifecycle.FirstTimestamps, error) {
	query := fmt.Sprintf(`
		SELECT %s, first_request_timestamp, first_incident_timestamp,
			first_model_train_timestamp, first_model_retrain_timestamp
		FROM service_call_timestamps
	`, identityColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query service call timestamps: %w", err)
	}
	defer rows.Close()

	var out []lifecycle.FirstTimestamps
	for rows.Next() {
		var ts lifecycle.FirstTimestamps
		dest := identityDest(&ts.Identity)
		dest = append(dest, &ts.FirstRequest, &ts.FirstIncident, &ts.FirstModelTrain, &ts.FirstModelRetrain)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan service call timestamps: %w", err)
		}
		ts.Identity = ts.Identity.Normalize()
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read service call timestamps: %w", err)
	}
	return out, nil
}

// UpdateFirstTimestamps stamps one lifecycle milestone for the given
// service calls, leaving already-stamped rows untouched.
func (r *PostgresRepository) UpdateFirstTimestamps(ctx context.Context, field string, value time.Time, calls []models.ServiceCallIdentity) error {
	switch field {
	case FieldFirstIncident, FieldFirstModelTrain, FieldFirstModelRetrain:
	default:
		return fmt.Errorf("unknown lifecycle timestamp field %q", field)
	}
	if len(calls) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE service_call_timestamps SET %s = $1
		WHERE %s IS NULL
			AND client_xroad_instance = $2 AND client_member_class = $3
			AND client_member_code = $4 AND client_subsystem_code = $5
			AND service_xroad_instance = $6 AND service_member_class = $7
			AND service_member_code = $8 AND service_subsystem_code = $9
			AND service_code = $10 AND service_version = $11
	`, field, field)

	for _, call := range calls {
		args := []any{value}
		args = append(args, identityArgs(call)...)
		if _, err := r.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update %s: %w", field, err)
		}
	}
	return nil
}

// identityArgs expands an identity into query arguments in column order.
func identityArgs(id models.ServiceCallIdentity) []any {
	id = id.Normalize()
	return []any{
		id.ClientXRoadInstance, id.ClientMemberClass, id.ClientMemberCode, id.ClientSubsystemCode,
		id.ServiceXRoadInstance, id.ServiceMemberClass, id.ServiceMemberCode, id.ServiceSubsystemCode,
		id.ServiceCode, id.ServiceVersion,
	}
}

// identityDest returns scan destinations for the identity columns.
func identityDest(id *models.ServiceCallIdentity) []any {
	return []any{
		&id.ClientXRoadInstance, &id.ClientMemberClass, &id.ClientMemberCode, &id.ClientSubsystemCode,
		&id.ServiceXRoadInstance, &id.ServiceMemberClass, &id.ServiceMemberCode, &id.ServiceSubsystemCode,
		&id.ServiceCode, &id.ServiceVersion,
	}
}
