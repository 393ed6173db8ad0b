package replica

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/docflow/internal/config"
	"github.com/rzbill/docflow/internal/event"
	"github.com/rzbill/docflow/internal/relay"
	"github.com/rzbill/docflow/internal/runtime"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []relay.Message
}

func (c *capturePublisher) Publish(_ context.Context, m relay.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) ids() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]int{}
	for _, m := range c.msgs {
		out[m.ID]++
	}
	return out
}

func fastConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Partitions = 6
	cfg.Storage.Fsync = "never"
	cfg.Consumer.PollWaitMs = 20
	cfg.Consumer.CommitIntervalMs = 20
	cfg.Consumer.BackoffBaseMs = 5
	cfg.Consumer.BackoffCapMs = 20
	cfg.Consumer.ShutdownGraceMs = 500
	cfg.Coordination = cfgpkg.CoordinationConfig{
		LeaseTTLMs:          600,
		HeartbeatIntervalMs: 50,
		EvictionTimeoutMs:   400,
		RebalanceIntervalMs: 50,
		AssignmentPollMs:    20,
	}
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func startReplica(t *testing.T, rt *runtime.Runtime, cfg cfgpkg.Config, id string, pub relay.Publisher) (*Replica, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg.ReplicaID = id
	r, err := New(context.Background(), Options{Runtime: rt, Config: cfg, Publisher: pub})
	if err != nil {
		t.Fatalf("new replica %s: %v", id, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return r, cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("replica run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("replica did not stop")
	}
}

func coverage(replicas ...*Replica) ([]string, bool) {
	var all []string
	seen := map[string]bool{}
	for _, r := range replicas {
		for _, rg := range r.Owned() {
			if seen[rg] {
				return nil, false
			}
			seen[rg] = true
			all = append(all, rg)
		}
	}
	sort.Strings(all)
	return all, true
}

func TestReplicasShareRangesAndCompleteSubmissions(t *testing.T) {
	cfg := fastConfig(t)
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	now := time.Now()
	const submissions = 8
	for i := 0; i < submissions; i++ {
		sub := fmt.Sprintf("S%d", i)
		evs := []event.Envelope{
			event.New(sub, "", event.SubmissionCreatedData{UserID: "u", Documents: []string{"D1", "D2"}}, now),
		}
		for _, doc := range []string{"D1", "D2"} {
			evs = append(evs,
				event.New(sub, doc, event.DocumentClassifiedData{Label: "invoice"}, now),
				event.New(sub, doc, event.DocumentIndexedData{Index: "main"}, now),
				event.New(sub, doc, event.DocumentDataExtractedData{Fields: map[string]any{"total": 1.5}}, now),
			)
		}
		for _, ev := range evs {
			if _, _, err := rt.Log().Append(ctx, ev); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}

	pub := &capturePublisher{}
	a, cancelA, doneA := startReplica(t, rt, cfg, "replica-a", pub)
	b, cancelB, doneB := startReplica(t, rt, cfg, "replica-b", pub)

	waitFor(t, 10*time.Second, func() bool {
		all, disjoint := coverage(a, b)
		return disjoint && len(all) == rt.Ranges().Count() && len(a.Owned()) == 3 && len(b.Owned()) == 3
	}, "ranges not split evenly between two replicas")
	if a.IsLeader() == b.IsLeader() {
		t.Fatalf("expected exactly one leader: a=%v b=%v", a.IsLeader(), b.IsLeader())
	}

	waitFor(t, 10*time.Second, func() bool { return len(pub.ids()) == submissions }, "not every submission was relayed")
	for i := 0; i < submissions; i++ {
		sub := fmt.Sprintf("S%d", i)
		s, ok, err := rt.Projections().Get(ctx, sub)
		if err != nil || !ok || s.CompletedAt == nil || s.EmittedAt == nil {
			t.Fatalf("%s not completed: %+v %v", sub, s, err)
		}
		if _, found, _ := rt.Log().Lookup(ctx, event.CompletionID(sub)); !found {
			t.Fatalf("%s terminal event missing from the log", sub)
		}
	}

	stop(t, cancelB, doneB)
	waitFor(t, 10*time.Second, func() bool { return len(a.Owned()) == rt.Ranges().Count() }, "survivor did not take over every range")
	stop(t, cancelA, doneA)

	relayed := pub.ids()
	for i := 0; i < submissions; i++ {
		if id := event.CompletionID(fmt.Sprintf("S%d", i)); relayed[id] == 0 {
			t.Fatalf("completion %s was not relayed", id)
		}
	}
}
