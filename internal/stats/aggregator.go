package stats

import (
	"sync"
	"time"

	"github.com/bamsammich/ferry/internal/event"
)

// Update is one delivered event together with the running totals at
// delivery time.
type Update struct {
	Event  event.ProgressEvent
	Totals Snapshot
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Collector receives the running totals. A new one is created when nil.
	Collector *Collector
	// Callback receives updates from a single delivery goroutine. May be nil.
	Callback func(Update)
	// Interval, when positive, is the minimum time between delivery batches.
	// Progress events queued in between coalesce per task.
	Interval time.Duration
}

type taskState struct {
	last  uint64
	total uint64
}

// Aggregator is an event.Sink that keeps running totals and forwards events
// to a callback without ever blocking the producer. When the callback falls
// behind, pending Progress events for the same task are replaced by the
// latest one; Started, Completed, Failed and Skipped events are always
// delivered, in per-task order.
type Aggregator struct {
	collector *Collector
	callback  func(Update)
	interval  time.Duration

	mu      sync.Mutex
	queue   []event.ProgressEvent
	pending map[string]int // task id -> queue index of its pending Progress event
	tasks   map[string]*taskState
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ event.Sink = (*Aggregator)(nil)

// NewAggregator starts an Aggregator's delivery goroutine. Call Close to
// flush and stop it.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	c := cfg.Collector
	if c == nil {
		c = NewCollector()
	}
	a := &Aggregator{
		collector: c,
		callback:  cfg.Callback,
		interval:  cfg.Interval,
		pending:   make(map[string]int),
		tasks:     make(map[string]*taskState),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

// Collector returns the collector holding the running totals.
func (a *Aggregator) Collector() *Collector { return a.collector }

// Totals returns the current running totals.
func (a *Aggregator) Totals() Snapshot { return a.collector.Snapshot() }

// OnEvent records e in the running totals and queues it for delivery.
func (a *Aggregator) OnEvent(e event.ProgressEvent) {
	a.mu.Lock()
	a.account(e)
	if a.closed || a.callback == nil {
		a.mu.Unlock()
		return
	}

	if e.Phase == event.Progress {
		if idx, ok := a.pending[e.TaskID]; ok {
			a.queue[idx] = e
			a.mu.Unlock()
			return
		}
		a.pending[e.TaskID] = len(a.queue)
	} else {
		delete(a.pending, e.TaskID)
	}
	a.queue = append(a.queue, e)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// account updates the collector. Must be called with a.mu held.
func (a *Aggregator) account(e event.ProgressEvent) {
	c := a.collector
	switch e.Phase {
	case event.Started:
		c.AddFilesStarted(1)
		a.tasks[e.TaskID] = &taskState{last: e.BytesTransferred, total: e.TotalBytes}
		if e.TotalBytes > e.BytesTransferred {
			c.AddBytesTotal(int64(e.TotalBytes - e.BytesTransferred))
		}
	case event.Progress, event.Completed:
		if ts, ok := a.tasks[e.TaskID]; ok {
			if e.BytesTransferred > ts.last {
				c.AddBytesTransferred(int64(e.BytesTransferred - ts.last))
			}
			// A restarted attempt rewinds the baseline.
			ts.last = e.BytesTransferred
		}
		if e.Phase == event.Completed {
			c.AddFilesCompleted(1)
			delete(a.tasks, e.TaskID)
		}
	case event.Failed, event.Skipped:
		if ts, ok := a.tasks[e.TaskID]; ok {
			if ts.total > ts.last {
				c.AddBytesTotal(-int64(ts.total - ts.last))
			}
			delete(a.tasks, e.TaskID)
		}
		if e.Phase == event.Failed {
			c.AddFilesFailed(1)
		} else {
			c.AddFilesSkipped(1)
		}
	}
}

func (a *Aggregator) take() []event.ProgressEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	batch := a.queue
	a.queue = nil
	clear(a.pending)
	return batch
}

func (a *Aggregator) deliver(batch []event.ProgressEvent) {
	if len(batch) == 0 {
		return
	}
	totals := a.collector.Snapshot()
	for _, e := range batch {
		a.callback(Update{Event: e, Totals: totals})
	}
}

func (a *Aggregator) run() {
	defer close(a.done)
	for {
		select {
		case <-a.wake:
		case <-a.stop:
			a.deliver(a.take())
			return
		}
		a.deliver(a.take())

		if a.interval > 0 {
			t := time.NewTimer(a.interval)
			select {
			case <-t.C:
			case <-a.stop:
				t.Stop()
				a.deliver(a.take())
				return
			}
		}
	}
}

// Close delivers everything still queued and stops the delivery goroutine.
// Events arriving after Close still update the totals but are not delivered.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.stop)
	})
	<-a.done
}
