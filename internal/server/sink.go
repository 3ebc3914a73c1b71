package server

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/procwatch/proctor-go/internal/datastore"
	"github.com/procwatch/proctor-go/internal/logging"
	"github.com/procwatch/proctor-go/internal/session"
)

const persistQueueSize = 256

// persistSink writes violation records to the datastore from a worker
// goroutine so database latency never reaches the analyze path.
type persistSink struct {
	ds      datastore.Interface
	queue   chan session.Violation
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
	log     *slog.Logger
}

func newPersistSink(ds datastore.Interface) *persistSink {
	s := &persistSink{
		ds:    ds,
		queue: make(chan session.Violation, persistQueueSize),
		log:   logging.ForService("violation-store"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Notify implements session.ViolationSink.
func (s *persistSink) Notify(v session.Violation) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- v:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.log.Warn("violation persistence queue full, dropping records",
				"dropped_total", s.dropped.Load())
		}
	}
}

func (s *persistSink) run() {
	defer s.wg.Done()
	for v := range s.queue {
		record := datastore.ViolationFromEvent(v)
		if err := s.ds.SaveViolation(&record); err != nil {
			s.log.Error("failed to persist violation",
				"violation_id", v.ID, "session_id", v.SessionID, "error", err)
		}
	}
}

// Close drains the queue and stops the worker.
func (s *persistSink) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.queue)
	s.wg.Wait()
}
