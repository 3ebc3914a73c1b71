package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/procwatch/proctor-go/internal/logging"
	"github.com/procwatch/proctor-go/internal/session"
)

const notifierQueueSize = 256

// Notifier forwards violation events to the broker from a worker goroutine.
// The analyze path only does a non-blocking channel send; a slow or down
// broker costs dropped notifications, never frame latency.
type Notifier struct {
	client  Client
	topic   string
	queue   chan session.Violation
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
	log     *slog.Logger
}

// NewNotifier connects the client and starts the publish worker. A failed
// initial connect is logged, not fatal; paho reconnects in the background.
func NewNotifier(ctx context.Context, client Client, topic string) *Notifier {
	n := &Notifier{
		client: client,
		topic:  topic,
		queue:  make(chan session.Violation, notifierQueueSize),
		log:    logging.ForService("mqtt"),
	}

	if err := client.Connect(ctx); err != nil {
		n.log.Warn("initial MQTT connect failed, will retry in background", "error", err)
	}

	n.wg.Add(1)
	go n.run()
	return n
}

// Notify queues a violation for publishing. Implements session.ViolationSink.
func (n *Notifier) Notify(v session.Violation) {
	if n.closed.Load() {
		return
	}
	select {
	case n.queue <- v:
	default:
		if n.dropped.Add(1)%100 == 1 {
			n.log.Warn("MQTT queue full, dropping notifications",
				"dropped_total", n.dropped.Load())
		}
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for v := range n.queue {
		payload, err := json.Marshal(v)
		if err != nil {
			n.log.Error("failed to encode violation", "error", err)
			continue
		}
		topic := fmt.Sprintf("%s/%s", n.topic, v.SessionID)
		if err := n.client.Publish(context.Background(), topic, string(payload)); err != nil {
			n.log.Warn("failed to publish violation", "topic", topic, "error", err)
		}
	}
}

// Close drains the queue, stops the worker, and disconnects.
func (n *Notifier) Close() {
	if !n.closed.CompareAndSwap(false, true) {
		return
	}
	close(n.queue)
	n.wg.Wait()
	n.client.Disconnect()
}
