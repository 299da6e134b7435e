package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/xroad-metrics/analyzer/internal/models"
)

// timeSyncColumns whitelists the metric names accepted by
// AggregateTimeSync, mapping them to their clean_records columns.
var timeSyncColumns = map[string]string{
	"requestNwDuration":  "request_nw_duration",
	"responseNwDuration": "response_nw_duration",
}

// bucketExpr truncates the millisecond request timestamp to its
// aggregation bucket boundary.
const bucketExpr = "(request_in_ts - request_in_ts %% (1000 * 60 * $%d::bigint))"

// appendRange adds time bound conditions on the millisecond timestamp.
func appendRange(query string, args []any, r TimeRange) (string, []any) {
	if r.Start != nil {
		args = append(args, r.Start.UnixMilli())
		query += fmt.Sprintf(" AND request_in_ts >= $%d", len(args))
	}
	if r.End != nil {
		args = append(args, r.End.UnixMilli())
		query += fmt.Sprintf(" AND request_in_ts < $%d", len(args))
	}
	return query, args
}

// AggregateHistoricData produces one row per (service call, bucket) with
// the request count and mean size/duration metrics the historic averages
// model monitors. Only successfully corrected, succeeded requests count,
// and requests already referenced by open incidents can be excluded.
func (r *PostgresRepository) AggregateHistoricData(ctx context.Context, q HistoricQuery) ([]models.AggregatedRecord, error) {
	args := []any{q.AggMinutes}
	query := fmt.Sprintf(`
		SELECT %s, `+bucketExpr+` AS period_start,
			COUNT(*) AS request_count,
			AVG(request_size) AS mean_request_size,
			AVG(response_size) AS mean_response_size,
			AVG(total_duration) AS mean_client_duration,
			AVG(producer_duration) AS mean_producer_duration,
			ARRAY_AGG(id) AS request_ids
		FROM clean_records
		WHERE succeeded AND corrector_status = 'done'`, identityColumns, 1)

	query, args = appendRange(query, args, q.Range)
	if len(q.ExcludeRequestIDs) > 0 {
		args = append(args, q.ExcludeRequestIDs)
		query += fmt.Sprintf(" AND NOT (id = ANY($%d))", len(args))
	}
	query += fmt.Sprintf(" GROUP BY %s, period_start", identityColumns)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate historic data: %w", err)
	}
	defer rows.Close()

	var out []models.AggregatedRecord
	for rows.Next() {
		var rec models.AggregatedRecord
		var periodStartMs int64
		var meanRequestSize, meanResponseSize, meanClientDuration, meanProducerDuration *float64
		dest := identityDest(&rec.Identity)
		dest = append(dest, &periodStartMs, &rec.RequestCount,
			&meanRequestSize, &meanResponseSize, &meanClientDuration, &meanProducerDuration,
			&rec.RequestIDs)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan aggregated row: %w", err)
		}
		rec.Identity = rec.Identity.Normalize()
		rec.PeriodStart = time.UnixMilli(periodStartMs).UTC()
		rec.Metrics = map[string]float64{}
		setMetric(rec.Metrics, models.MetricMeanRequestSize, meanRequestSize)
		setMetric(rec.Metrics, models.MetricMeanResponseSize, meanResponseSize)
		setMetric(rec.Metrics, models.MetricMeanClientDuration, meanClientDuration)
		setMetric(rec.Metrics, models.MetricMeanProducerDuration, meanProducerDuration)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aggregated rows: %w", err)
	}
	return out, nil
}

// AggregateFailedRequests produces one row per (service call, bucket,
// succeeded flag) for the failed request ratio detector.
func (r *PostgresRepository) AggregateFailedRequests(ctx context.Context, aggMinutes int, tr TimeRange) ([]models.FailedRequestRow, error) {
	args := []any{aggMinutes}
	query := fmt.Sprintf(`
		SELECT %s, `+bucketExpr+` AS period_start, succeeded,
			COUNT(*) AS count, ARRAY_AGG(id) AS request_ids
		FROM clean_records
		WHERE corrector_status = 'done'`, identityColumns, 1)
	query, args = appendRange(query, args, tr)
	query += fmt.Sprintf(" GROUP BY %s, period_start, succeeded", identityColumns)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate failed requests: %w", err)
	}
	defer rows.Close()

	var out []models.FailedRequestRow
	for rows.Next() {
		var row models.FailedRequestRow
		var periodStartMs int64
		dest := identityDest(&row.Identity)
		dest = append(dest, &periodStartMs, &row.Succeeded, &row.Count, &row.RequestIDs)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan failed request row: %w", err)
		}
		row.Identity = row.Identity.Normalize()
		row.PeriodStart = time.UnixMilli(periodStartMs).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read failed request rows: %w", err)
	}
	return out, nil
}

// AggregateDuplicateMessageIDs produces one row per message id that
// occurred more than once for a service call within a bucket.
func (r *PostgresRepository) AggregateDuplicateMessageIDs(ctx context.Context, aggMinutes int, tr TimeRange) ([]models.DuplicateMessageRow, error) {
	args := []any{aggMinutes}
	query := fmt.Sprintf(`
		SELECT %s, `+bucketExpr+` AS period_start, message_id,
			COUNT(*) AS message_id_count, ARRAY_AGG(id) AS request_ids
		FROM clean_records
		WHERE corrector_status = 'done' AND message_id IS NOT NULL AND message_id <> ''`,
		identityColumns, 1)
	query, args = appendRange(query, args, tr)
	query += fmt.Sprintf(" GROUP BY %s, period_start, message_id HAVING COUNT(*) > 1", identityColumns)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate duplicate message ids: %w", err)
	}
	defer rows.Close()

	var out []models.DuplicateMessageRow
	for rows.Next() {
		var row models.DuplicateMessageRow
		var periodStartMs int64
		dest := identityDest(&row.Identity)
		dest = append(dest, &periodStartMs, &row.MessageID, &row.MessageIDCount, &row.RequestIDs)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate message row: %w", err)
		}
		row.Identity = row.Identity.Normalize()
		row.PeriodStart = time.UnixMilli(periodStartMs).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicate message rows: %w", err)
	}
	return out, nil
}

// AggregateTimeSync produces one row per (service call, bucket) containing
// at least one request whose duration metric fell below the threshold.
func (r *PostgresRepository) AggregateTimeSync(ctx context.Context, metric string, threshold float64, aggMinutes int, tr TimeRange) ([]models.TimeSyncRow, error) {
	column, ok := timeSyncColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown time sync metric %q", metric)
	}

	args := []any{aggMinutes, threshold}
	query := fmt.Sprintf(`
		SELECT %s, `+bucketExpr+` AS period_start,
			COUNT(*) FILTER (WHERE %s < $2) AS erroneous_count,
			AVG(%s) FILTER (WHERE %s < $2) AS avg_erroneous_diff,
			COUNT(*) AS request_count,
			ARRAY_AGG(id) FILTER (WHERE %s < $2) AS request_ids
		FROM clean_records
		WHERE succeeded AND corrector_status = 'done'`,
		identityColumns, 1, column, column, column, column)
	query, args = appendRange(query, args, tr)
	query += fmt.Sprintf(" GROUP BY %s, period_start HAVING COUNT(*) FILTER (WHERE %s < $2) > 0",
		identityColumns, column)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate time sync errors: %w", err)
	}
	defer rows.Close()

	var out []models.TimeSyncRow
	for rows.Next() {
		var row models.TimeSyncRow
		var periodStartMs int64
		dest := identityDest(&row.Identity)
		dest = append(dest, &periodStartMs, &row.ErroneousCount, &row.AvgErroneousDiff,
			&row.RequestCount, &row.RequestIDs)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan time sync row: %w", err)
		}
		row.Identity = row.Identity.Normalize()
		row.PeriodStart = time.UnixMilli(periodStartMs).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read time sync rows: %w", err)
	}
	return out, nil
}

// setMetric records a nullable metric value, leaving missing values absent.
func setMetric(metrics map[string]float64, name string, value *float64) {
	if value != nil {
		metrics[name] = *value
	}
}
