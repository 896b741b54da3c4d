// Package notify delivers board events to an external queue from a bounded
// worker pool so mutations never wait on the queue.
package notify

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/afom12/Taskflow/domain"
)

// Sink accepts board events.
type Sink interface {
	EnqueueBoardEvent(ctx context.Context, ev domain.BoardEvent) error
}

// Options tunes the pool.
type Options struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
	// Dropped is called when an event could not be handed to a worker.
	Dropped func()
}

// Dispatcher hands events to workers that write them to the Sink.
type Dispatcher struct {
	sink   Sink
	logger *log.Logger
	opts   Options

	mu     sync.RWMutex
	jobs   chan domain.BoardEvent
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, logger *log.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger,
		opts:   opts,
		jobs:   make(chan domain.BoardEvent, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v",
		opts.Workers, opts.Buffer, opts.EnqueueTimeout, opts.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.EnqueueTimeout)
		err := d.sink.EnqueueBoardEvent(ctx, ev)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(log.Fields{
				"event":  ev.Type,
				"board":  ev.BoardID,
				"worker": id,
			}).Error("enqueue board event failed")
		}
	}
}

// Publish offers ev to the pool, waiting at most the handoff timeout for room.
// It reports whether the event was accepted.
func (d *Dispatcher) Publish(ev domain.BoardEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- ev:
		return true
	default:
	}

	if d.opts.HandoffTimeout > 0 {
		timer := time.NewTimer(d.opts.HandoffTimeout)
		defer timer.Stop()
		select {
		case d.jobs <- ev:
			return true
		case <-timer.C:
		}
	}

	if d.opts.Dropped != nil {
		d.opts.Dropped()
	}
	d.logger.WithFields(log.Fields{"event": ev.Type, "board": ev.BoardID}).Warn("event queue saturated, dropping board event")
	return false
}

// Close stops accepting events and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}
