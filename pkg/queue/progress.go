package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cuemby/docuflow/pkg/log"
)

// Progress publishes per-job percentage updates to redis, so a caller
// polling get(job_id) can also subscribe for push updates instead of
// polling the durable store on every tick.
type Progress struct {
	client *redis.Client
}

// NewProgress wraps an existing redis client.
func NewProgress(client *redis.Client) *Progress {
	return &Progress{client: client}
}

func channelName(jobID string) string {
	return fmt.Sprintf("docuflow:job:%s:progress", jobID)
}

// Publish pushes a progress percentage for a job. Errors are logged and
// swallowed: progress pub/sub is a convenience channel, not the durable
// record of a job's state (the Store is).
func (p *Progress) Publish(ctx context.Context, jobID string, pct int) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Publish(ctx, channelName(jobID), pct).Err(); err != nil {
		log.WithComponent("queue").Warn().Err(err).Str("job_id", jobID).Msg("failed to publish progress")
	}
}

// Subscribe returns a redis subscription of progress updates for a job.
// Callers must close it when done.
func (p *Progress) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return p.client.Subscribe(ctx, channelName(jobID))
}
