package relay

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher produces messages keyed by submission id, so every
// completion of one submission lands on the same partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(cfg Config, opts ...kgo.Opt) (*KafkaPublisher, error) {
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.Source != "" {
		kopts = append(kopts, kgo.ClientID(cfg.Source))
	}
	kopts = append(kopts, opts...)
	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}
	return &KafkaPublisher{client: cl, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, m Message) error {
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(m.Key),
		Value: m.Body,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte(ContentType)},
			{Key: "ce_id", Value: []byte(m.ID)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
