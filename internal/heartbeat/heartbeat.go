// Package heartbeat records run progress in Redis so operators can see
// what stage a long training or anomaly-finding pass is in, and when the
// analyzer last completed a run.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Statuses reported with each beat.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Beat is one recorded progress entry.
type Beat struct {
	Activity  string    `json:"activity"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder writes beats into Redis, one key per analyzer component. A
// disabled recorder drops beats silently, so callers never need to branch.
type Recorder struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool

	now func() time.Time
}

// NewRecorder creates a recorder. Pass a nil client to disable recording.
func NewRecorder(client *redis.Client, ttl time.Duration) *Recorder {
	return &Recorder{
		client:  client,
		ttl:     ttl,
		enabled: client != nil,
		now:     time.Now,
	}
}

// Enabled reports whether beats are being recorded.
func (r *Recorder) Enabled() bool { return r.enabled }

func key(component string) string {
	return fmt.Sprintf("analyzer:heartbeat:%s", component)
}

// Record stores the latest beat for a component, overwriting the previous
// one. Errors are returned so callers can log them, but a failed beat
// should never abort a run.
func (r *Recorder) Record(ctx context.Context, component, activity, status string) error {
	if !r.enabled {
		return nil
	}
	beat := Beat{Activity: activity, Status: status, Timestamp: r.now()}
	data, err := json.Marshal(beat)
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat: %w", err)
	}
	if err := r.client.Set(ctx, key(component), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store heartbeat: %w", err)
	}
	return nil
}

// Last fetches the latest beat for a component; nil when none exists.
func (r *Recorder) Last(ctx context.Context, component string) (*Beat, error) {
	if !r.enabled {
		return nil, nil
	}
	data, err := r.client.Get(ctx, key(component)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch heartbeat: %w", err)
	}
	var beat Beat
	if err := json.Unmarshal(data, &beat); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat: %w", err)
	}
	return &beat, nil
}
