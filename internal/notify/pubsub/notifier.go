// Package pubsub publishes alerts to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Attribute keys set on every published alert.
const (
	AttrTargetID    = "target_id"
	AttrFingerprint = "fingerprint"
)

// Notifier publishes JSON-encoded alerts.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to Pub/Sub using application default credentials.
func New(ctx context.Context, projectID, topicID string) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	n := NewWithTopic(client.Topic(topicID))
	n.client = client
	return n, nil
}

// NewWithTopic wraps an existing topic handle. The caller owns its client.
func NewWithTopic(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify implements watch.Notifier and blocks until the server acknowledges
// the message.
func (n *Notifier) Notify(ctx context.Context, alert watch.Alert) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrTargetID:    alert.TargetID,
			AttrFingerprint: alert.Fingerprint,
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client if owned.
func (n *Notifier) Close() error {
	if n.topic != nil {
		n.topic.Stop()
	}
	if n.client != nil {
		if err := n.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier over message
// attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
