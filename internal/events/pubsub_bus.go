package events

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBus wraps the in-process Bus and additionally publishes every event
// to a Google Cloud Pub/Sub topic for durable, at-least-once delivery to
// downstream consumers. Local subscribers (the websocket feed) still get
// immediate in-memory delivery.
type PubSubBus struct {
	*Bus

	client *pubsub.Client
	topic  *pubsub.Topic
	logger *log.Logger
}

// NewPubSubBus connects to Pub/Sub and creates the topic if missing.
func NewPubSubBus(projectID, topicID string) (*PubSubBus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created Pub/Sub topic", "topic", topicID)
	}

	return &PubSubBus{
		Bus:    NewBus(),
		client: client,
		topic:  topic,
		logger: log.New(log.Writer(), "[PubSub] ", log.LstdFlags),
	}, nil
}

// Emit publishes in-process first, then fans out to Pub/Sub. The Pub/Sub
// publish is fire-and-forget: a broker outage must not fail the payment
// request that triggered the notification.
func (b *PubSubBus) Emit(eventType, subject string, data map[string]interface{}) {
	event := New(eventType, subject, data)
	b.Publish(event)

	payload, err := event.JSON()
	if err != nil {
		b.logger.Printf("marshal event %s: %v", event.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":    event.Type,
			"subject": event.Subject,
		},
	})
	go func() {
		defer cancel()
		if _, err := result.Get(ctx); err != nil {
			b.logger.Printf("pubsub publish %s failed: %v", event.Type, err)
		}
	}()
}

// Close flushes pending publishes and releases the client.
func (b *PubSubBus) Close() error {
	b.topic.Stop()
	return b.client.Close()
}
