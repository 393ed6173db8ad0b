package postgres

import (
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/rzbill/docflow/pkg/log"
)

// notifier fans NOTIFY payloads (range ids) out to waiting readers. Each
// range has a channel that is closed and replaced on every notification.
type notifier struct {
	listener *pq.Listener
	logger   log.Logger

	mu    sync.Mutex
	chans map[string]chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

func newNotifier(dsn string, maxReconnect time.Duration, logger log.Logger) (*notifier, error) {
	n := &notifier{logger: logger, chans: make(map[string]chan struct{}), done: make(chan struct{})}
	n.listener = pq.NewListener(dsn, 100*time.Millisecond, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn("listen connection problem", log.Err(err))
		case pq.ListenerEventReconnected:
			logger.Info("listen connection restored")
		}
	})
	if err := n.listener.Listen(appendChannel); err != nil {
		_ = n.listener.Close()
		return nil, err
	}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

func (n *notifier) loop() {
	defer n.wg.Done()
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-n.done:
			return
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			if note == nil {
				// Reconnected: notifications may have been missed.
				n.fireAll()
				continue
			}
			n.fire(note.Extra)
		case <-ping.C:
			go func() { _ = n.listener.Ping() }()
		}
	}
}

func (n *notifier) wait(rangeID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.chans[rangeID]
	if !ok {
		ch = make(chan struct{})
		n.chans[rangeID] = ch
	}
	return ch
}

func (n *notifier) fire(rangeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.chans[rangeID]; ok {
		close(ch)
		delete(n.chans, rangeID)
	}
}

func (n *notifier) fireAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.chans {
		close(ch)
		delete(n.chans, id)
	}
}

func (n *notifier) close() error {
	close(n.done)
	err := n.listener.Close()
	n.wg.Wait()
	return err
}
