package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"vico_home/actorcast/internal/domain"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Envelope
}

func (r *recorder) handle(msg Envelope) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func openChannel(t *testing.T, bus Bus, session, id string) *Channel {
	t.Helper()
	c, err := Open(context.Background(), ChannelConfig{Bus: bus, Session: session, LocalID: id})
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChannel_BroadcastAndDirected(t *testing.T) {
	bus := NewMemoryBus()
	actor := openChannel(t, bus, "room", "actor")
	v1 := openChannel(t, bus, "room", "v1")
	v2 := openChannel(t, bus, "room", "v2")

	r1, r2, self := &recorder{}, &recorder{}, &recorder{}
	v1.On(domain.EventOffer, r1.handle)
	v1.On(domain.EventActorStreaming, r1.handle)
	v2.On(domain.EventOffer, r2.handle)
	v2.On(domain.EventActorStreaming, r2.handle)
	actor.On(domain.EventActorStreaming, self.handle)

	if err := actor.Send(domain.EventActorStreaming, "", domain.Announcement{Name: "cam"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "broadcast to both viewers", func() bool { return r1.count() == 1 && r2.count() == 1 })

	if err := actor.Send(domain.EventOffer, "v2", domain.SDPPayload{Type: "offer", SDP: "v=0"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "directed offer", func() bool { return r2.count() == 2 })

	time.Sleep(20 * time.Millisecond)
	if r1.count() != 1 {
		t.Errorf("v1 received a message addressed to v2")
	}
	if self.count() != 0 {
		t.Errorf("actor received its own broadcast")
	}

	msg := r2.last()
	if msg.From != "actor" || msg.To != "v2" || msg.Type != domain.EventOffer {
		t.Errorf("unexpected envelope %+v", msg)
	}
	var sdp domain.SDPPayload
	if err := msg.Decode(&sdp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sdp.SDP != "v=0" {
		t.Errorf("expected sdp v=0, got %q", sdp.SDP)
	}
}

func TestChannel_DropsOtherSessionsAndGarbage(t *testing.T) {
	bus := NewMemoryBus()
	v := openChannel(t, bus, "room", "v1")
	r := &recorder{}
	v.On(domain.EventActorStreaming, r.handle)

	foreign, _ := json.Marshal(Envelope{Type: domain.EventActorStreaming, From: "x", Session: "other"})
	bus.Deliver("room", foreign)
	bus.Deliver("room", []byte("{not json"))
	good, _ := json.Marshal(Envelope{Type: domain.EventActorStreaming, From: "x", Session: "room"})
	bus.Deliver("room", good)

	waitFor(t, "valid message", func() bool { return r.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if r.count() != 1 {
		t.Errorf("expected exactly 1 message, got %d", r.count())
	}
}

func TestChannel_DisconnectCallback(t *testing.T) {
	bus := NewMemoryBus()
	c := openChannel(t, bus, "room", "v1")

	dropped := make(chan error, 1)
	c.OnDisconnect(func(err error) { dropped <- err })

	bus.Drop("room")

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("expected a non-nil disconnect error")
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not called")
	}
}

func TestChannel_CloseIsQuiet(t *testing.T) {
	bus := NewMemoryBus()
	c, err := Open(context.Background(), ChannelConfig{Bus: bus, Session: "room", LocalID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	c.OnDisconnect(func(error) { called = true })

	c.Close()
	c.Close()
	<-c.Done()

	if called {
		t.Error("local Close must not report a disconnect")
	}
	if err := c.Send(domain.EventActorStopped, "", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestChannel_TrafficCounters(t *testing.T) {
	bus := NewMemoryBus()
	a := openChannel(t, bus, "room", "a")
	b := openChannel(t, bus, "room", "b")

	var mu sync.Mutex
	var sent, received []domain.EventType
	a.OnTraffic(func(et domain.EventType) { mu.Lock(); sent = append(sent, et); mu.Unlock() }, nil)
	b.OnTraffic(nil, func(et domain.EventType) { mu.Lock(); received = append(received, et); mu.Unlock() })

	a.Send(domain.EventViewerRequest, "b", nil)
	waitFor(t, "receive counter", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0] != domain.EventViewerRequest {
		t.Errorf("unexpected sent counters %v", sent)
	}
}

func TestOpen_Validation(t *testing.T) {
	bus := NewMemoryBus()
	if _, err := Open(context.Background(), ChannelConfig{Bus: bus, LocalID: "a"}); err == nil {
		t.Error("expected error without session")
	}
	if _, err := Open(context.Background(), ChannelConfig{Bus: bus, Session: "s"}); err == nil {
		t.Error("expected error without local id")
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	if _, _, err := Dial(context.Background(), "http://example.com", "id"); err == nil {
		t.Error("expected error for http scheme")
	}
}
