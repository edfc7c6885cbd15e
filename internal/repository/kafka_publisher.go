package repository

import (
	"context"

	"SabrLSM/internal/domain/models"
	domrepo "SabrLSM/internal/domain/repository"
)

// producer is the part of pkg/kafka.Producer the publisher needs.
type producer interface {
	Publish(ctx context.Context, topic string, key []byte, value any) error
	Close() error
}

// KafkaResultPublisher publishes pricing results keyed by run id.
type KafkaResultPublisher struct {
	producer producer
	topic    string
}

var _ domrepo.Publisher = (*KafkaResultPublisher)(nil)

func NewKafkaResultPublisher(p producer, topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: p, topic: topic}
}

func (p *KafkaResultPublisher) PublishResult(ctx context.Context, r *models.PricingResult) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.RunID), r)
}

func (p *KafkaResultPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
