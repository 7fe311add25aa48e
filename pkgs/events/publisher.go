package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	redislib "github.com/AdityaBiranje/Grovia-AI-Blockchain/pkgs/redis"
)

const publishTimeout = 2 * time.Second

// Publisher handles publishing events to Redis Pub/Sub
type Publisher struct {
	redisClient *redis.Client
	keyBuilder  *redislib.KeyBuilder

	eventsPublished uint64
	publishErrors   uint64
}

// NewPublisher creates a new Redis event publisher
func NewPublisher(redisClient *redis.Client, keyBuilder *redislib.KeyBuilder) (*Publisher, error) {
	if redisClient == nil || keyBuilder == nil {
		return nil, fmt.Errorf("invalid publisher configuration")
	}
	return &Publisher{
		redisClient: redisClient,
		keyBuilder:  keyBuilder,
	}, nil
}

// Channel returns the Redis channel for an event type
func (p *Publisher) Channel(eventType EventType) string {
	return p.keyBuilder.EventChannel(eventType.Group())
}

// Publish sends an event to its group channel
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		atomic.AddUint64(&p.publishErrors, 1)
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	if err := p.redisClient.Publish(ctx, p.Channel(event.Type), data).Err(); err != nil {
		atomic.AddUint64(&p.publishErrors, 1)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	atomic.AddUint64(&p.eventsPublished, 1)
	return nil
}

// AsSubscriber bridges an Emitter to Redis: every emitted event is published
func (p *Publisher) AsSubscriber() *Subscriber {
	return &Subscriber{
		ID: "redis-publisher",
		Handler: func(event *Event) {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := p.Publish(ctx, event); err != nil {
				log.WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
			}
		},
	}
}

// GetMetrics returns publisher metrics
func (p *Publisher) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"events_published": atomic.LoadUint64(&p.eventsPublished),
		"publish_errors":   atomic.LoadUint64(&p.publishErrors),
	}
}
