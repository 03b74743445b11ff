// Package signal carries typed signaling messages over a pub/sub bus.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"vico_home/actorcast/internal/domain"
)

const publishTimeout = 5 * time.Second

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("signal channel closed")

// Bus is the external publish/subscribe transport.
type Bus interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is one attachment to a bus topic.
type Subscription interface {
	Publish(ctx context.Context, data []byte) error
	// Messages is closed when the subscription ends or the transport drops.
	Messages() <-chan []byte
	// Errors carries non-fatal delivery warnings. May be nil.
	Errors() <-chan error
	Close() error
}

// Envelope is the wire form of every signaling message.
type Envelope struct {
	Type    domain.EventType `json:"type"`
	From    string           `json:"from"`
	To      string           `json:"to,omitempty"`
	Session string           `json:"session"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// Handler receives inbound messages of one type.
type Handler func(msg Envelope)

// Channel scopes a bus subscription to one session and local participant.
type Channel struct {
	sub     Subscription
	session string
	localID string
	log     logging.LeveledLogger

	mu           sync.RWMutex
	handlers     map[domain.EventType][]Handler
	onDisconnect func(error)
	onWarning    func(error)
	onSent       func(domain.EventType)
	onReceived   func(domain.EventType)

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// ChannelConfig configures Open.
type ChannelConfig struct {
	Bus           Bus
	Session       string
	LocalID       string
	LoggerFactory logging.LoggerFactory
}

// Open subscribes to the session topic and starts delivering messages.
// Register handlers with On before messages are expected; messages that
// arrive with no handler are dropped.
func Open(ctx context.Context, cfg ChannelConfig) (*Channel, error) {
	if cfg.Session == "" {
		return nil, fmt.Errorf("session is required")
	}
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("local id is required")
	}

	sub, err := cfg.Bus.Subscribe(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Session, err)
	}

	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	c := &Channel{
		sub:      sub,
		session:  cfg.Session,
		localID:  cfg.LocalID,
		log:      lf.NewLogger("signal"),
		handlers: make(map[domain.EventType][]Handler),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// LocalID returns the id messages are sent from.
func (c *Channel) LocalID() string { return c.localID }

// On registers h for every inbound message of type t addressed to us.
func (c *Channel) On(t domain.EventType, h Handler) {
	c.mu.Lock()
	c.handlers[t] = append(c.handlers[t], h)
	c.mu.Unlock()
}

// OnDisconnect is called once if the bus drops the subscription.
func (c *Channel) OnDisconnect(f func(error)) {
	c.mu.Lock()
	c.onDisconnect = f
	c.mu.Unlock()
}

// OnWarning is called for non-fatal bus errors.
func (c *Channel) OnWarning(f func(error)) {
	c.mu.Lock()
	c.onWarning = f
	c.mu.Unlock()
}

// OnTraffic installs counters for sent and received message types.
func (c *Channel) OnTraffic(sent, received func(domain.EventType)) {
	c.mu.Lock()
	c.onSent = sent
	c.onReceived = received
	c.mu.Unlock()
}

// Send publishes a message. An empty to broadcasts to the whole session.
// Delivery is best-effort; the error is informational.
func (c *Channel) Send(t domain.EventType, to string, payload any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	env := Envelope{
		Type:    t,
		From:    c.localID,
		To:      to,
		Session: c.session,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.sub.Publish(ctx, data); err != nil {
		c.log.Warnf("send %s to %q: %v", t, to, err)
		return fmt.Errorf("publish %s: %w", t, err)
	}

	c.mu.RLock()
	sent := c.onSent
	c.mu.RUnlock()
	if sent != nil {
		sent(t)
	}
	c.log.Tracef(">>> %s to=%q", t, to)
	return nil
}

// Close unsubscribes. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.sub.Close()
	})
	return err
}

// Done is closed when the read loop exits.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) readLoop() {
	defer close(c.done)

	msgs := c.sub.Messages()
	errs := c.sub.Errors()
	for {
		select {
		case <-c.closed:
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.log.Warnf("bus warning: %v", err)
			c.mu.RLock()
			warn := c.onWarning
			c.mu.RUnlock()
			if warn != nil {
				warn(err)
			}
		case data, ok := <-msgs:
			if !ok {
				c.disconnected()
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Channel) disconnected() {
	select {
	case <-c.closed:
		return
	default:
	}
	c.log.Warnf("bus subscription for %s dropped", c.session)
	c.mu.RLock()
	f := c.onDisconnect
	c.mu.RUnlock()
	if f != nil {
		f(fmt.Errorf("subscription to %s dropped", c.session))
	}
}

func (c *Channel) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warnf("unmarshal envelope: %v", err)
		return
	}
	if !c.accepts(env) {
		return
	}
	c.log.Tracef("<<< %s from=%q", env.Type, env.From)

	c.mu.RLock()
	hs := c.handlers[env.Type]
	received := c.onReceived
	c.mu.RUnlock()

	if received != nil {
		received(env.Type)
	}
	if len(hs) == 0 {
		c.log.Debugf("unhandled message type %q", env.Type)
		return
	}
	for _, h := range hs {
		h(env)
	}
}

func (c *Channel) accepts(env Envelope) bool {
	if env.From == "" || env.From == c.localID {
		return false
	}
	if env.Session != c.session {
		return false
	}
	return env.To == "" || env.To == c.localID
}
