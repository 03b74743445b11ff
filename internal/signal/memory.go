package signal

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// MemoryBus is an in-process bus. Every subscriber of a topic, including the
// publisher, receives each published message.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]map[*memorySub]struct{}

	// Intercept, if set, sees every publish before fan-out and returns the
	// messages to deliver in its place (nil drops it).
	Intercept func(topic string, data []byte) [][]byte
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[string]map[*memorySub]struct{})}
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	s := &memorySub{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, memoryBuffer),
	}
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Drop ends every subscription on topic as if the transport went away.
func (b *MemoryBus) Drop(topic string) {
	b.mu.Lock()
	subs := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()
	for s := range subs {
		s.end()
	}
}

// Deliver fans data out to every subscriber of topic, bypassing Intercept.
func (b *MemoryBus) Deliver(topic string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.topics[topic] {
		s.push(data)
	}
}

func (b *MemoryBus) publish(topic string, data []byte) {
	b.mu.Lock()
	intercept := b.Intercept
	b.mu.Unlock()

	if intercept == nil {
		b.Deliver(topic, data)
		return
	}
	for _, d := range intercept(topic, data) {
		b.Deliver(topic, d)
	}
}

func (b *MemoryBus) remove(s *memorySub) {
	b.mu.Lock()
	if subs := b.topics[s.topic]; subs != nil {
		delete(subs, s)
	}
	b.mu.Unlock()
}

type memorySub struct {
	bus   *MemoryBus
	topic string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func (s *memorySub) Publish(_ context.Context, data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.bus.publish(s.topic, append([]byte(nil), data...))
	return nil
}

func (s *memorySub) Messages() <-chan []byte { return s.ch }

func (s *memorySub) Errors() <-chan error { return nil }

func (s *memorySub) Close() error {
	s.bus.remove(s)
	s.end()
	return nil
}

// push never blocks; a full subscriber loses the message (at-most-once).
func (s *memorySub) push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- data:
	default:
	}
}

func (s *memorySub) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
