package coord

import (
	"context"
	"testing"
	"time"
)

func TestHeartbeaterRunMarksDrainingOnExit(t *testing.T) {
	s := newTestStore(t)
	h := NewHeartbeater(s, "a", 10*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = h.Run(ctx); close(done) }()

	waitFor(t, time.Second, func() bool {
		hbs, _ := s.ListHeartbeats(context.Background())
		return len(hbs) == 1 && hbs[0].Status == StatusActive
	}, "no active heartbeat")
	if h.LastSent().IsZero() {
		t.Fatalf("LastSent not recorded")
	}

	cancel()
	<-done
	hbs, err := s.ListHeartbeats(context.Background())
	if err != nil || len(hbs) != 1 || hbs[0].Status != StatusDraining {
		t.Fatalf("expected draining heartbeat, got %+v %v", hbs, err)
	}
}
