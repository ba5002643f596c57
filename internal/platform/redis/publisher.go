package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/plumehq/plume-jobs/internal/events"
)

// Publisher delivers job events over Redis PUBLISH so that event streams
// served by other instances see transitions applied here.
type Publisher struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewPublisher creates a Redis-backed event publisher.
// If logger is nil, a default logger will be used.
func NewPublisher(client *goredis.Client, logger *slog.Logger) *Publisher {
	if client == nil {
		panic("client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		logger: logger.With(slog.String("component", "redis_publisher")),
	}
}

// Ensure Publisher implements the events.Publisher interface
var _ events.Publisher = (*Publisher)(nil)

// Publish implements events.Publisher. The event is serialized as JSON and
// published to the owner's topic. Subscriber loss is acceptable: delivery is
// at-most-once by design.
func (p *Publisher) Publish(ctx context.Context, event events.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.Publish(ctx, events.Topic(event.OwnerID), payload).Err(); err != nil {
		p.logger.Warn("failed to publish job event",
			slog.String("job_id", event.JobID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to publish job event: %w", err)
	}
	return nil
}
