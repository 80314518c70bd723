package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender delivers an event to one sink.
type Sender interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

const defaultSendTimeout = 10 * time.Second

// Notifier fans events out to senders from a background goroutine.
// Notify never blocks; events are dropped when the queue is full.
type Notifier struct {
	logger      logrus.FieldLogger
	queue       chan Event
	allowed     map[EventType]bool
	senders     []Sender
	wg          sync.WaitGroup
	dropped     atomic.Int64
	closeOnce   sync.Once
	sendTimeout time.Duration
	mu          sync.RWMutex
	closed      bool
}

// NewNotifier creates a notifier. An empty events list enables every event type.
func NewNotifier(logger logrus.FieldLogger, queueSize int, events []EventType, senders ...Sender) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	var allowed map[EventType]bool
	if len(events) > 0 {
		allowed = make(map[EventType]bool, len(events))
		for _, e := range events {
			allowed[e] = true
		}
	}
	n := &Notifier{
		logger:      logger,
		queue:       make(chan Event, queueSize),
		allowed:     allowed,
		senders:     senders,
		sendTimeout: defaultSendTimeout,
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Notify enqueues e. It reports whether the event was accepted.
func (n *Notifier) Notify(e Event) bool {
	if n == nil {
		return false
	}
	if n.allowed != nil && !n.allowed[e.Type] {
		return false
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.queue <- e:
		return true
	default:
		n.dropped.Add(1)
		n.logger.WithField("event", e.Type).Warn("Notification queue full, dropping event")
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops accepting events and waits for queued events to be delivered.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()
		n.wg.Wait()
	})
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for e := range n.queue {
		for _, s := range n.senders {
			ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
			if err := s.Send(ctx, e); err != nil {
				n.logger.WithFields(logrus.Fields{
					"sender": s.Name(),
					"event":  e.Type,
				}).Warnf("Notification delivery failed: %v", err)
			}
			cancel()
		}
	}
}

// LogSender writes events to the structured log.
type LogSender struct {
	logger logrus.FieldLogger
}

// NewLogSender creates a sender that logs each event at info level.
func NewLogSender(logger logrus.FieldLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, e Event) error {
	fields := logrus.Fields{"event": e.Type}
	for k, v := range e.Data {
		fields[k] = v
	}
	s.logger.WithFields(fields).Info(e.Message)
	return nil
}
