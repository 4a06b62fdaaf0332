package app

import (
	"context"
	"log"
	"time"

	"github.com/Aayu095/Job4Meal/internal/store"
	"github.com/Aayu095/Job4Meal/pkg/rabbitmq"
)

const (
	defaultOutboxBatchSize    = 50
	defaultOutboxPollInterval = 1200 * time.Millisecond
	defaultStaleProcessing    = 2 * time.Minute
)

// PublisherFactory opens a publisher. The dispatcher calls it lazily and again after a publish failure.
type PublisherFactory func() (rabbitmq.Publisher, error)

// RabbitPublisherFactory dials RabbitMQ at amqpURL.
func RabbitPublisherFactory(amqpURL string) PublisherFactory {
	return func() (rabbitmq.Publisher, error) {
		return rabbitmq.NewEventProducer(amqpURL)
	}
}

// OutboxDispatcher delivers ledger events written by the engine to the message broker.
// Delivery is at least once; consumers deduplicate on event_id.
type OutboxDispatcher struct {
	outbox              store.Outbox
	connect             PublisherFactory
	publisher           rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewOutboxDispatcher(outbox store.Outbox, connect PublisherFactory, batchSize int, pollInterval time.Duration) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPollInterval
	}
	return &OutboxDispatcher{
		outbox:              outbox,
		connect:             connect,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closePublisher()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.FlushOnce(ctx); err != nil {
				log.Printf("level=warn component=outbox_dispatcher msg=\"flush failed\" err=%v", err)
			}
		}
	}
}

// FlushOnce leases one batch and publishes it. It returns how many messages were published.
func (d *OutboxDispatcher) FlushOnce(ctx context.Context) (int, error) {
	messages, err := d.outbox.ClaimOutbox(ctx, d.batchSize, d.staleProcessingTime)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		if err := d.publish(ctx, message.Exchange, message.RoutingKey, message.ID, message.Payload); err != nil {
			retryAfter := time.Duration(retryDelaySeconds(message.Attempts)) * time.Second
			log.Printf("level=warn component=outbox_dispatcher msg=\"publish failed; rescheduling\" message_id=%s routing_key=%s attempts=%d retry_after=%s err=%v", message.ID, message.RoutingKey, message.Attempts, retryAfter, err)
			if markErr := d.outbox.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"failed to reschedule message\" message_id=%s err=%v", message.ID, markErr)
			}
			continue
		}
		if err := d.outbox.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark message published\" message_id=%s err=%v", message.ID, err)
			continue
		}
		published++
	}
	return published, nil
}

func (d *OutboxDispatcher) publish(ctx context.Context, exchange, routingKey, messageID string, payload []byte) error {
	if d.publisher == nil {
		publisher, err := d.connect()
		if err != nil {
			return err
		}
		d.publisher = publisher
	}

	if err := d.publisher.PublishRaw(ctx, exchange, routingKey, messageID, payload); err != nil {
		d.closePublisher()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closePublisher() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
