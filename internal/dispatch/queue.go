// Package dispatch paces outbound operations and messages onto the wire.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"gopkg.in/irc.v4"
)

// Default pacing intervals.
const (
	DefaultOpPace  = 2500 * time.Millisecond
	DefaultMsgPace = 1500 * time.Millisecond
)

// Writer sends one protocol message over the live connection.
type Writer interface {
	WriteMessage(m *irc.Message) error
}

// Encoder turns a queued item into the protocol messages that carry it.
type Encoder[T any] func(item T) ([]*irc.Message, error)

// Queue is an unbounded FIFO drained by a single loop at a fixed pace.
// At most one item is sent per pace interval, even after the queue sat idle.
type Queue[T any] struct {
	name   string
	pace   time.Duration
	out    Writer
	encode Encoder[T]
	log    *slog.Logger

	mu     sync.Mutex
	items  *deque.Deque[T]
	notify chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewQueue creates a queue that writes encoded items to out no more often than pace.
func NewQueue[T any](name string, pace time.Duration, out Writer, encode Encoder[T], log *slog.Logger) *Queue[T] {
	return &Queue[T]{
		name:   name,
		pace:   pace,
		out:    out,
		encode: encode,
		log:    log.With("queue", name),
		items:  deque.New[T](),
		notify: make(chan struct{}, 1),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Push appends item without blocking.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Run drains the queue until ctx is cancelled. Every protocol message an item
// encodes to takes its own pace slot. Items whose send fails are dropped.
func (q *Queue[T]) Run(ctx context.Context) {
	q.log.Info("dispatch queue started", "pace", q.pace)
	defer q.log.Info("dispatch queue stopped", "pending", q.Len())

	var next time.Time
	for {
		if q.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}

		item, ok := q.pop()
		if !ok {
			continue
		}
		msgs, err := q.encode(item)
		if err != nil {
			q.log.Error("dropping unencodable item", "error", err)
			continue
		}
		for i, m := range msgs {
			if wait := next.Sub(q.now()); wait > 0 {
				if err := q.sleep(ctx, wait); err != nil {
					return
				}
			}
			err := q.out.WriteMessage(m)
			next = q.now().Add(q.pace)
			if err != nil {
				q.log.Warn("send failed, item dropped", "command", m.Command, "remaining", len(msgs)-i-1, "error", err)
				break
			}
		}
	}
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
