package transcript

import (
	"log/slog"
	"slices"
	"sync"
)

// backlogWarnEvery is the subscriber queue length at whose multiples a
// lagging subscriber is logged.
const backlogWarnEvery = 256

// Log is the append-only, per-meeting transcript. It is safe for concurrent
// use.
type Log struct {
	mu      sync.Mutex
	records []Record
	subs    map[int]*subscription
	nextSub int
	closed  bool
	logger  *slog.Logger
}

// NewLog returns an empty Log. A nil logger selects slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{subs: make(map[int]*subscription), logger: logger}
}

// Append adds rec to the log and queues it for every subscriber. It never
// blocks on a slow subscriber and never drops a record. Appending to a closed
// log is a no-op.
func (l *Log) Append(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.records = append(l.records, rec)
	for id, sub := range l.subs {
		if n := sub.push(rec); n%backlogWarnEvery == 0 {
			l.logger.Warn("transcript subscriber lagging", "subscriber", id, "queued", n)
		}
	}
}

// Records returns a copy of every record in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Len returns the number of records appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Timeline returns the records sorted by StartedAtMs. The sort is stable, so
// records of one speaker keep their append order when start times tie.
func (l *Log) Timeline() []Record {
	out := l.Records()
	slices.SortStableFunc(out, func(a, b Record) int {
		switch {
		case a.StartedAtMs < b.StartedAtMs:
			return -1
		case a.StartedAtMs > b.StartedAtMs:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Subscribe returns a channel receiving every record appended after the
// call, in append order, and a function that unsubscribes. Records wait in
// an unbounded queue until the subscriber reads them. After [Log.Close] the
// channel delivers what is still queued and then closes; unsubscribing
// closes it at once and discards the rest.
func (l *Log) Subscribe() (<-chan Record, func()) {
	sub := newSubscription()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		sub.finish()
		go sub.run()
		return sub.out, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = sub
	go sub.run()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(sub.cancel)
		})
	}
}

// Close ends every subscription once its queued records are delivered and
// rejects further appends. Records already appended stay readable.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, sub := range l.subs {
		delete(l.subs, id)
		sub.finish()
	}
}

// subscription hands queued records to out from its own goroutine.
type subscription struct {
	out    chan Record
	wake   chan struct{}
	cancel chan struct{}

	mu      sync.Mutex
	pending []Record
	done    bool
}

func newSubscription() *subscription {
	return &subscription{
		out:    make(chan Record),
		wake:   make(chan struct{}, 1),
		cancel: make(chan struct{}),
	}
}

// push queues rec and returns the queue length.
func (s *subscription) push(rec Record) int {
	s.mu.Lock()
	s.pending = append(s.pending, rec)
	n := len(s.pending)
	s.mu.Unlock()
	s.signal()
	return n
}

// finish marks the end of the stream; queued records are still delivered.
func (s *subscription) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch, done := s.pending, s.done
		s.pending = nil
		s.mu.Unlock()

		for _, rec := range batch {
			select {
			case s.out <- rec:
			case <-s.cancel:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if done {
			return
		}
		select {
		case <-s.wake:
		case <-s.cancel:
			return
		}
	}
}
