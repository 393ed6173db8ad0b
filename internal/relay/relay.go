// Package relay forwards SubmissionPreparationCompleted events to a broker
// as CloudEvents so downstream systems learn that a submission is ready.
//
// Delivery is at least once: the consumer retries a failed publish and the
// CloudEvent id is the terminal event id, which downstream consumers use to
// drop duplicates.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/feed"
	"github.com/rzbill/docflow/pkg/log"
)

const (
	// CloudEventType is the type attribute of relayed events.
	CloudEventType = "com.docflow.submission.preparation.completed"
	// ContentType is the structured-mode CloudEvents content type.
	ContentType = "application/cloudevents+json"

	KindKafka = "kafka"
	KindAMQP  = "amqp"
)

// Message is one encoded CloudEvent ready for a broker.
type Message struct {
	ID   string
	Key  string
	Body []byte
}

// Publisher delivers messages to a broker. Publish returns only once the
// broker has accepted the message.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}

// Config selects and configures the broker.
type Config struct {
	Enabled bool
	Kind    string
	// Source is the CloudEvents source attribute.
	Source string
	// Filter is an optional CEL expression limiting which completions are
	// relayed.
	Filter string

	Brokers []string
	Topic   string

	URL        string
	Exchange   string
	RoutingKey string
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Kind {
	case KindKafka:
		if len(c.Brokers) == 0 {
			return fmt.Errorf("relay kafka brokers are required")
		}
		if c.Topic == "" {
			return fmt.Errorf("relay kafka topic is required")
		}
	case KindAMQP:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("relay amqp url is required")
		}
		if c.Exchange == "" {
			return fmt.Errorf("relay amqp exchange is required")
		}
	default:
		return fmt.Errorf("relay kind must be %q or %q, got %q", KindKafka, KindAMQP, c.Kind)
	}
	return nil
}

// New opens the publisher selected by cfg.
func New(ctx context.Context, cfg Config, logger log.Logger) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindKafka:
		return NewKafkaPublisher(cfg)
	case KindAMQP:
		return NewAMQPPublisher(ctx, cfg, logger)
	}
	return nil, errors.New("relay disabled")
}

// Encode converts a terminal event into a structured-mode CloudEvent.
func Encode(ev event.Envelope, source string) (Message, error) {
	data, ok := ev.Payload.(event.SubmissionPreparationCompletedData)
	if !ok {
		return Message{}, fmt.Errorf("relay: cannot encode %s", ev.Type)
	}
	ce := cloudevents.NewEvent()
	ce.SetID(ev.ID)
	ce.SetType(CloudEventType)
	ce.SetSource(source)
	ce.SetSubject(ev.SubmissionID)
	ce.SetTime(ev.Timestamp)
	if err := ce.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return Message{}, fmt.Errorf("relay: set data: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return Message{}, fmt.Errorf("relay: invalid cloudevent: %w", err)
	}
	body, err := json.Marshal(ce)
	if err != nil {
		return Message{}, fmt.Errorf("relay: marshal cloudevent: %w", err)
	}
	return Message{ID: ev.ID, Key: ev.SubmissionID, Body: body}, nil
}

// Decode parses a relayed message back into a CloudEvent.
func Decode(body []byte) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	if err := json.Unmarshal(body, &ce); err != nil {
		return ce, fmt.Errorf("relay: decode cloudevent: %w", err)
	}
	return ce, nil
}

// Handler publishes every terminal event it receives.
type Handler struct {
	pub    Publisher
	source string
	filter string
	logger log.Logger
}

// NewHandler builds a Handler publishing through pub.
func NewHandler(pub Publisher, cfg Config, logger log.Logger) *Handler {
	source := cfg.Source
	if source == "" {
		source = "docflow"
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{pub: pub, source: source, filter: cfg.Filter, logger: logger.WithComponent("relay")}
}

// Register adds the handler to mux for SubmissionPreparationCompleted.
func (h *Handler) Register(mux *feed.Mux) error {
	var opts []feed.RouteOption
	if h.filter != "" {
		opts = append(opts, feed.WithFilter(h.filter))
	}
	return mux.Register(event.SubmissionPreparationCompleted, "relay", h, opts...)
}

// Handle implements feed.Handler.
func (h *Handler) Handle(ctx context.Context, ev event.Envelope) error {
	m, err := Encode(ev, h.source)
	if err != nil {
		return err
	}
	if err := h.pub.Publish(ctx, m); err != nil {
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}
	h.logger.Debug("completion relayed", log.Str("submission_id", ev.SubmissionID), log.Str("event_id", ev.ID))
	return nil
}
