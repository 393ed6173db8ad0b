package relay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rzbill/docflow/internal/event"
)

func runContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("%s container unavailable: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func TestAMQPPublisherIntegration(t *testing.T) {
	addr := runContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(60 * time.Second),
	}, "5672")
	url := "amqp://guest:guest@" + addr + "/"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Kind: KindAMQP, URL: url, Exchange: "docflow.completions", Source: "docflow/it"}
	pub, err := NewAMQPPublisher(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	conn, err := amqp091.Dial(url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "#", cfg.Exchange, false, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	h := NewHandler(pub, cfg, nil)
	ev := event.Completed("S1", completedAt, 2)
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	select {
	case d := <-deliveries:
		if d.MessageId != ev.ID || d.ContentType != ContentType {
			t.Fatalf("unexpected delivery %+v", d)
		}
		ce, err := Decode(d.Body)
		if err != nil || ce.Subject() != "S1" {
			t.Fatalf("decode delivery: %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("no delivery received")
	}
}

func TestKafkaPublisherIntegration(t *testing.T) {
	broker := runContainer(t, testcontainers.ContainerRequest{
		Image:        "docker.redpanda.com/redpandadata/redpanda:v24.1.8",
		ExposedPorts: []string{"9092/tcp"},
		Cmd:          []string{"redpanda", "start", "--overprovisioned", "--smp", "1", "--memory", "512M", "--reserve-memory", "0M", "--check=false", "--node-id", "0", "--kafka-addr", "0.0.0.0:9092", "--advertise-kafka-addr", "127.0.0.1:9092"},
		WaitingFor:   wait.ForLog("Successfully started Redpanda"),
	}, "9092")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Kind: KindKafka, Brokers: []string{broker}, Topic: "docflow.completions"}
	pub, err := NewKafkaPublisher(cfg)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	ev := event.Completed("S1", completedAt, 2)
	if err := NewHandler(pub, cfg, nil).Handle(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	consumer, err := kgo.NewClient(kgo.SeedBrokers(broker), kgo.ConsumeTopics(cfg.Topic), kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	defer consumer.Close()
	fetches := consumer.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		t.Fatalf("poll: %v", errs[0].Err)
	}
	recs := fetches.Records()
	if len(recs) != 1 || string(recs[0].Key) != "S1" {
		t.Fatalf("unexpected records %+v", recs)
	}
	ce, err := Decode(recs[0].Value)
	if err != nil || ce.ID() != ev.ID {
		t.Fatalf("decode record: %v", err)
	}
}
