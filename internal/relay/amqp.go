package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/rzbill/docflow/pkg/log"
)

// ErrNacked is returned when the broker rejects a publish.
var ErrNacked = errors.New("relay: broker nacked publish")

// AMQPPublisher publishes persistent messages to a topic exchange and waits
// for the broker's confirm. A dropped connection is re-dialed on the next
// publish.
type AMQPPublisher struct {
	cfg    Config
	logger log.Logger

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func NewAMQPPublisher(ctx context.Context, cfg Config, logger log.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &AMQPPublisher{cfg: cfg, logger: logger.WithComponent("relay.amqp")}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp091.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		p.logger.Info("reconnecting to broker")
		if err := p.connect(); err != nil {
			return err
		}
	}
	routingKey := p.cfg.RoutingKey
	if routingKey == "" {
		routingKey = CloudEventType
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    m.ID,
		Headers:      amqp091.Table{"submission_id": m.Key},
		Body:         m.Body,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !ok {
		return ErrNacked
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}
