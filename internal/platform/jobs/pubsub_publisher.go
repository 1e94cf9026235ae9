// Package jobs contains the queue integrations for background work.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
)

// DrawingJobMessage is the queue payload consumed by the drawing generation worker.
type DrawingJobMessage struct {
	JobID             string  `json:"job_id"`
	PurchaseRequestID string  `json:"purchase_request_id"`
	UserID            string  `json:"user_id"`
	WidthCm           float64 `json:"width_cm"`
	DepthCm           float64 `json:"depth_cm"`
	HeightCm          float64 `json:"height_cm"`
	Material          string  `json:"material"`
}

// PubSubDrawingPublisher publishes drawing generation jobs to a Pub/Sub topic.
type PubSubDrawingPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubDrawingPublisher constructs a Pub/Sub backed drawing job publisher.
func NewPubSubDrawingPublisher(topic *pubsub.Topic) (*PubSubDrawingPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub drawing publisher: topic is required")
	}
	return &PubSubDrawingPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishDrawingJob enqueues a drawing job message on the configured topic.
func (p *PubSubDrawingPublisher) PublishDrawingJob(ctx context.Context, message DrawingJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub drawing publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal drawing job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", message.JobID)
	setAttr(attrs, "purchaseRequestId", message.PurchaseRequestID)
	setAttr(attrs, "material", message.Material)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish drawing job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
