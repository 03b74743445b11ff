package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisChannelPrefix = "actorcast:signal:"
	redisRetryDelay    = time.Second
)

// RedisBus carries signaling over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus parses a redis:// URL and verifies the server answers.
func NewRedisBus(ctx context.Context, rawURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBus{client: client}, nil
}

// Close closes the Redis connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	channel := redisChannelPrefix + topic
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := newRedisSub(ps, channel, func(ctx context.Context, data []byte) error {
		return b.client.Publish(ctx, channel, data).Err()
	})
	go s.receiveLoop()
	return s, nil
}

// redisReceiver is the part of *redis.PubSub a subscription reads from.
type redisReceiver interface {
	Receive(ctx context.Context) (interface{}, error)
	Close() error
}

type redisSub struct {
	ps      redisReceiver
	channel string
	publish func(ctx context.Context, data []byte) error
	msgs    chan []byte
	errs    chan error
	retry   time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

func newRedisSub(ps redisReceiver, channel string, publish func(context.Context, []byte) error) *redisSub {
	ctx, cancel := context.WithCancel(context.Background())
	return &redisSub{
		ps:      ps,
		channel: channel,
		publish: publish,
		msgs:    make(chan []byte, memoryBuffer),
		errs:    make(chan error, 8),
		retry:   redisRetryDelay,
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
}

// receiveLoop reads until Close. Receive errors are reported as warnings;
// go-redis reconnects and resubscribes on the next Receive.
func (s *redisSub) receiveLoop() {
	defer close(s.msgs)
	for {
		msg, err := s.ps.Receive(s.ctx)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.warn(fmt.Errorf("redis receive: %w", err))
			select {
			case <-s.closed:
				return
			case <-time.After(s.retry):
			}
			continue
		}

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		select {
		case s.msgs <- []byte(m.Payload):
		case <-s.closed:
			return
		default:
			s.warn(errors.New("inbound buffer full, message dropped"))
		}
	}
}

func (s *redisSub) Publish(ctx context.Context, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if err := s.publish(ctx, data); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (s *redisSub) Messages() <-chan []byte { return s.msgs }

func (s *redisSub) Errors() <-chan error { return s.errs }

func (s *redisSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) warn(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
