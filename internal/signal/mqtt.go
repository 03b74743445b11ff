package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS          = 1
	mqttTopicPrefix  = "actorcast/signal/"
	mqttDisconnectMs = 250
)

// MQTTBus carries signaling over an MQTT broker. Each session maps to the
// topic actorcast/signal/<session>. The client reconnects on its own and
// re-subscribes live topics on every connect.
type MQTTBus struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[*mqttSub]struct{}
}

// NewMQTTBus connects to broker (e.g. tcp://localhost:1883) as clientID.
func NewMQTTBus(broker, clientID, username, password string) (*MQTTBus, error) {
	b := &MQTTBus{subs: make(map[*mqttSub]struct{})}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.broadcastWarning(fmt.Errorf("mqtt connection lost: %w", err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.resubscribe(c)
	})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	return b, nil
}

// Subscribe implements Bus.
func (b *MQTTBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	s := &mqttSub{
		bus:    b,
		topic:  mqttTopicPrefix + topic,
		msgs:   make(chan []byte, memoryBuffer),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
	if err := wait(ctx, b.client.Subscribe(s.topic, mqttQoS, s.handle)); err != nil {
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Close disconnects from the broker.
func (b *MQTTBus) Close() {
	if b.client != nil {
		b.client.Disconnect(mqttDisconnectMs)
	}
}

func (b *MQTTBus) resubscribe(c mqtt.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if token := c.Subscribe(s.topic, mqttQoS, s.handle); token.Wait() && token.Error() != nil {
			s.warn(fmt.Errorf("resubscribe %s: %w", s.topic, token.Error()))
		}
	}
}

func (b *MQTTBus) broadcastWarning(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.warn(err)
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttSub struct {
	bus   *MQTTBus
	topic string
	msgs  chan []byte
	errs  chan error

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *mqttSub) handle(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.msgs <- msg.Payload():
	default:
		s.warn(fmt.Errorf("inbound buffer full, message dropped"))
	}
}

func (s *mqttSub) Publish(ctx context.Context, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := wait(ctx, s.bus.client.Publish(s.topic, mqttQoS, false, data)); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (s *mqttSub) Messages() <-chan []byte { return s.msgs }

func (s *mqttSub) Errors() <-chan error { return s.errs }

func (s *mqttSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		if token := s.bus.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
			err = fmt.Errorf("unsubscribe failed: %w", token.Error())
		}

		s.mu.Lock()
		close(s.closed)
		close(s.msgs)
		s.mu.Unlock()
	})
	return err
}

func (s *mqttSub) warn(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
