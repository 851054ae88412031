package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tweetcast/internal/logging"
)

const localBufferSize = 256

// Local is an in-process Bus. Each subscriber has its own buffered queue and
// delivery goroutine; events for a full queue are dropped and logged.
type Local struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]*localSub
	nextID int
	closed bool
	wg     sync.WaitGroup
}

type localSub struct {
	types   []Type
	handler Handler
	ch      chan Event
	done    chan struct{}
}

// NewLocal creates an in-process bus.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		logger: logging.NewComponentLogger(logger, "events"),
		subs:   make(map[int]*localSub),
	}
}

func (b *Local) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logging.WarnWithContext(b.logger, "event dropped", "event_dropped",
				logging.String("type", string(event.Type)),
				logging.String(logging.FieldJobID, event.JobID),
				logging.String(logging.FieldErrorHint, "subscriber is slow; the orchestrator sweep will catch up"),
				logging.String(logging.FieldImpact, "listener misses one event"),
			)
		}
	}
	return nil
}

func (b *Local) Subscribe(handler Handler, types ...Type) (func(), error) {
	if handler == nil {
		return func() {}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &localSub{
		types:   slices.Clone(types),
		handler: handler,
		ch:      make(chan Event, localBufferSize),
		done:    make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case event := <-sub.ch:
				b.deliver(sub, event)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.done)
			}
			b.mu.Unlock()
		})
	}, nil
}

func (b *Local) deliver(sub *localSub, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(b.logger, "event handler panicked", "event_handler_panic",
				logging.String("type", string(event.Type)),
				logging.Any("panic", r),
			)
		}
	}()
	sub.handler(context.Background(), event)
}

// Close stops every subscriber and waits for in-flight deliveries.
func (b *Local) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
