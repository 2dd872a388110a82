// Package pubsub publishes run reports to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/scheduled-scraper/internal/publisher"
)

// Publisher sends JSON payloads to one topic. The topic argument of Publish is
// ignored in favor of the topic bound at construction.
type Publisher struct {
	topic *pubsub.Topic
}

// New wraps topic.
func New(topic *pubsub.Topic) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Publisher{topic: topic}, nil
}

// Publish marshals payload, injects the trace context into the message
// attributes and blocks until the server acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := publisher.AttributesOf(payload)
	otel.GetTextMapPropagator().Inject(ctx, carrier(attrs))

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return nil
}

// carrier adapts message attributes to propagation.TextMapCarrier.
type carrier map[string]string

func (c carrier) Get(key string) string { return c[key] }

func (c carrier) Set(key, value string) { c[key] = value }

func (c carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
