// Package notifier publishes incident events so downstream consumers
// (reporting, alert routing) learn about new anomalies without polling the
// incidents table.
package notifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xroad-metrics/analyzer/internal/models"
)

// IncidentEvent is the JSON payload published per inserted incident.
type IncidentEvent struct {
	ID                string                     `json:"id"`
	Identity          models.ServiceCallIdentity `json:"identity"`
	AnomalousMetric   string                     `json:"anomalous_metric"`
	AnomalyConfidence float64                    `json:"anomaly_confidence"`
	PeriodStart       time.Time                  `json:"period_start_time"`
	PeriodEnd         time.Time                  `json:"period_end_time"`
	RequestCount      int64                      `json:"request_count"`
	Description       string                     `json:"description"`
}

// Publisher sends incident events to a NATS subject. A nil Publisher is
// safe to call and publishes nothing.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the NATS server and returns a publisher for the subject.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("xroad-metrics-analyzer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With(slog.String("component", "notifier")),
	}, nil
}

// PublishIncidents emits one event per incident. Publishing is best
// effort: a failed publish is logged and does not fail the analyzer run,
// since the incidents are already persisted.
func (p *Publisher) PublishIncidents(incidents []*models.AnomalyRecord) {
	if p == nil || len(incidents) == 0 {
		return
	}
	for _, incident := range incidents {
		event := IncidentEvent{
			ID:                incident.ID,
			Identity:          incident.Identity,
			AnomalousMetric:   incident.AnomalousMetric,
			AnomalyConfidence: incident.AnomalyConfidence,
			PeriodStart:       incident.PeriodStart,
			PeriodEnd:         incident.PeriodEnd,
			RequestCount:      incident.RequestCount,
			Description:       incident.Description,
		}
		data, err := json.Marshal(event)
		if err != nil {
			p.logger.Error("Failed to encode incident event", slog.String("error", err.Error()))
			continue
		}
		if err := p.conn.Publish(p.subject, data); err != nil {
			p.logger.Error("Failed to publish incident event",
				slog.String("incident_id", incident.ID),
				slog.String("error", err.Error()))
		}
	}
}

// Close flushes and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", slog.String("error", err.Error()))
	}
	p.conn.Close()
}
