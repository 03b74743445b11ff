package signal

import (
	"context"
	"fmt"
	"net/url"
)

// Dial picks a bus implementation from the URL scheme:
//
//	ws://, wss://           signal relay (WebSocketBus)
//	tcp://, mqtt://, ssl:// MQTT broker
//	redis://, rediss://     Redis pub/sub
//
// The returned close func releases the bus connection.
func Dial(ctx context.Context, rawURL, clientID string) (Bus, func(), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse bus url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return &WebSocketBus{URL: rawURL}, func() {}, nil

	case "tcp", "mqtt", "ssl", "mqtts":
		broker := *u
		if broker.Scheme == "mqtt" {
			broker.Scheme = "tcp"
		}
		if broker.Scheme == "mqtts" {
			broker.Scheme = "ssl"
		}
		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
			broker.User = nil
		}
		b, err := NewMQTTBus(broker.String(), clientID, user, pass)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil

	case "redis", "rediss":
		b, err := NewRedisBus(ctx, rawURL)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unsupported bus scheme %q", u.Scheme)
}
