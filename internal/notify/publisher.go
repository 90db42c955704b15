package notify

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
)

// Publisher sends a payload to a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// PubSubPublisher publishes to Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

func NewPubSubPublisher(ctx context.Context, projectID string) (*PubSubPublisher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("pubsub: GCP project id is not set")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish waits for the server to acknowledge the message and returns its id.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"type": EmailTriggerType},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub: publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *PubSubPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
