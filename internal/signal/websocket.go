package signal

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	writeWait           = 5 * time.Second
)

// WebSocketBus connects to a signal relay (see internal/relay) that fans
// text frames out to every other socket on the same topic.
type WebSocketBus struct {
	// URL is the relay base, e.g. ws://localhost:8090. The topic is
	// appended as /ws/<topic>.
	URL          string
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// Subscribe dials the relay for topic and starts the read and ping loops.
func (b *WebSocketBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	u, err := url.Parse(b.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	u.Path = path.Join(u.Path, "ws", url.PathEscape(topic))

	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	interval := b.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}

	s := &wsSub{
		conn:   conn,
		msgs:   make(chan []byte, memoryBuffer),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop(interval)
	return s, nil
}

type wsSub struct {
	conn *websocket.Conn
	msgs chan []byte
	errs chan error

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *wsSub) Publish(_ context.Context, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *wsSub) Messages() <-chan []byte { return s.msgs }

func (s *wsSub) Errors() <-chan error { return s.errs }

func (s *wsSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSub) warn(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *wsSub) readLoop() {
	defer close(s.msgs)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.warn(fmt.Errorf("read: %w", err))
			}
			return
		}

		select {
		case s.msgs <- data:
		case <-s.closed:
			return
		default:
			s.warn(fmt.Errorf("inbound buffer full, message dropped"))
		}
	}
}

func (s *wsSub) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			s.mu.Unlock()
			if err != nil {
				select {
				case <-s.closed:
				default:
					s.warn(fmt.Errorf("ping: %w", err))
				}
				return
			}
		}
	}
}
