package streambus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryConfig configures the in-memory broker buffers.
type MemoryConfig struct {
	BufferSize      int
	RedeliveryDelay time.Duration
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = 20 * time.Millisecond
	}
	return c
}

// MemoryBroker is an in-process stream broker with one queue per topic,
// manual-commit delivery, and per-subscription pause gates. It backs local
// runs and tests; production deployments swap in a real broker adapter.
type MemoryBroker struct {
	cfg MemoryConfig

	mu     sync.Mutex
	topics map[string]chan Record
	closed bool
}

// NewMemoryBroker constructs a broker with the provided configuration.
func NewMemoryBroker(cfg MemoryConfig) *MemoryBroker {
	return &MemoryBroker{
		cfg:    cfg.normalize(),
		topics: make(map[string]chan Record),
	}
}

// Publish appends rec to its topic queue, blocking until buffer space frees
// or ctx is done. Records published before any subscriber attaches are
// retained in the queue.
func (b *MemoryBroker) Publish(ctx context.Context, rec Record) error {
	if ctx == nil {
		ctx = context.Background()
	}
	topic := strings.TrimSpace(rec.Topic)
	if topic == "" {
		return fmt.Errorf("streambus: topic required")
	}
	queue, err := b.queue(topic)
	if err != nil {
		return err
	}
	select {
	case queue <- rec:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("streambus: publish to %s: %w", topic, ctx.Err())
	}
}

// Subscribe binds handler to topic. Records are delivered one at a time; a
// handler error leaves the record uncommitted and redelivers it after a short
// delay, matching manual-acknowledgment consumer semantics.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("streambus: topic required")
	}
	if strings.TrimSpace(group) == "" {
		return nil, fmt.Errorf("streambus: group required")
	}
	if handler == nil {
		return nil, fmt.Errorf("streambus: handler required")
	}
	queue, err := b.queue(topic)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		cancel:   cancel,
		resumeCh: make(chan struct{}),
	}
	go sub.run(subCtx, queue, handler, b.cfg.RedeliveryDelay)
	return sub, nil
}

// Close stops accepting publishes. Live subscriptions drain what remains.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *MemoryBroker) queue(topic string) (chan Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("streambus: broker closed")
	}
	queue, ok := b.topics[topic]
	if !ok {
		queue = make(chan Record, b.cfg.BufferSize)
		b.topics[topic] = queue
	}
	return queue, nil
}

type memorySubscription struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
}

// Pause stops record delivery after the in-flight record completes.
func (s *memorySubscription) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.resumeCh = make(chan struct{})
}

// Resume restarts record delivery.
func (s *memorySubscription) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resumeCh)
}

// Close detaches the subscription from its topic queue.
func (s *memorySubscription) Close() {
	s.cancel()
}

func (s *memorySubscription) run(ctx context.Context, queue <-chan Record, handler Handler, redeliveryDelay time.Duration) {
	for {
		if !s.awaitResume(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case rec := <-queue:
			if !s.deliver(ctx, rec, handler, redeliveryDelay) {
				return
			}
		}
	}
}

// deliver retries rec until the handler commits it or ctx ends. Position is
// committed by moving on; an error keeps the same record in flight.
func (s *memorySubscription) deliver(ctx context.Context, rec Record, handler Handler, redeliveryDelay time.Duration) bool {
	for {
		if !s.awaitResume(ctx) {
			return false
		}
		if err := handler(ctx, rec); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(redeliveryDelay):
		}
	}
}

func (s *memorySubscription) awaitResume(ctx context.Context) bool {
	for {
		s.mu.Lock()
		paused := s.paused
		resumeCh := s.resumeCh
		s.mu.Unlock()
		if !paused {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-resumeCh:
		}
	}
}
