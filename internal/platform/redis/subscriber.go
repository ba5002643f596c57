package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/plumehq/plume-jobs/internal/events"
)

// Subscriber bridges Redis-published job events into an in-process Broker,
// so SSE streams served by this instance also carry transitions applied by
// other instances.
type Subscriber struct {
	client *goredis.Client
	broker *events.Broker
	logger *slog.Logger
}

// NewSubscriber creates a Redis event subscriber that republishes into the
// given broker. If logger is nil, a default logger will be used.
func NewSubscriber(client *goredis.Client, broker *events.Broker, logger *slog.Logger) *Subscriber {
	if client == nil {
		panic("client cannot be nil")
	}
	if broker == nil {
		panic("broker cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client: client,
		broker: broker,
		logger: logger.With(slog.String("component", "redis_subscriber")),
	}
}

// Start subscribes to all owner topics and launches the bridge loop. It
// returns once the subscription is established, so events published after
// Start returns are not missed. The returned stop function closes the
// subscription and waits for the loop to exit.
func (s *Subscriber) Start(ctx context.Context) (func(), error) {
	pubsub := s.client.PSubscribe(ctx, events.TopicPrefix+"*")

	// Wait for the subscription confirmation before handing out Channel,
	// otherwise a publish racing Start could be lost silently.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to establish event subscription: %w", err)
	}

	done := make(chan struct{})
	go s.loop(ctx, pubsub, done)

	stop := func() {
		if err := pubsub.Close(); err != nil {
			s.logger.Warn("failed to close event subscription",
				slog.String("error", err.Error()))
		}
		<-done
	}
	return stop, nil
}

func (s *Subscriber) loop(ctx context.Context, pubsub *goredis.PubSub, done chan<- struct{}) {
	defer close(done)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event events.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("discarding malformed job event",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()))
				continue
			}
			// Broker publishes never fail; they drop on overflow instead.
			_ = s.broker.Publish(ctx, event)
		}
	}
}
