package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/signal"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func startRelay(t *testing.T) (*Hub, *signal.WebSocketBus) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Router())
	t.Cleanup(srv.Close)
	return hub, &signal.WebSocketBus{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func subscribe(t *testing.T, bus signal.Bus, topic string) signal.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), topic)
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	t.Cleanup(func() { sub.Close() })
	return sub
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

func receive(t *testing.T, sub signal.Subscription) []byte {
	t.Helper()
	select {
	case data := <-sub.Messages():
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func silent(t *testing.T, sub signal.Subscription) {
	t.Helper()
	select {
	case data := <-sub.Messages():
		t.Errorf("unexpected frame %q", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_FanOutWithinTopic(t *testing.T) {
	hub, bus := startRelay(t)
	a := subscribe(t, bus, "room")
	b := subscribe(t, bus, "room")
	c := subscribe(t, bus, "room")
	other := subscribe(t, bus, "other")
	waitFor(t, "clients", func() bool { return hub.Clients("room") == 3 && hub.Clients("") == 4 })

	if err := a.Publish(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, sub := range []signal.Subscription{b, c} {
		if got := receive(t, sub); string(got) != "hello" {
			t.Errorf("got %q", got)
		}
	}
	silent(t, a)
	silent(t, other)
}

func TestHub_ClientLeaves(t *testing.T) {
	hub, bus := startRelay(t)
	a := subscribe(t, bus, "room")
	subscribe(t, bus, "room")
	waitFor(t, "clients", func() bool { return hub.Clients("room") == 2 })

	a.Close()
	waitFor(t, "departure", func() bool { return hub.Clients("room") == 1 })
}

func TestHub_CarriesChannelTraffic(t *testing.T) {
	hub, bus := startRelay(t)
	open := func(id string) *signal.Channel {
		ch, err := signal.Open(context.Background(), signal.ChannelConfig{Bus: bus, Session: "room", LocalID: id})
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		t.Cleanup(func() { ch.Close() })
		return ch
	}
	actor := open("actor")
	viewer := open("viewer")

	got := make(chan signal.Envelope, 1)
	viewer.On(domain.EventActorStreaming, func(msg signal.Envelope) { got <- msg })
	waitFor(t, "clients", func() bool { return hub.Clients("room") == 2 })

	if err := actor.Send(domain.EventActorStreaming, "", domain.Announcement{Name: "Alice", SourceID: "camera"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		var a domain.Announcement
		if err := msg.Decode(&a); err != nil || msg.From != "actor" || a.SourceID != "camera" {
			t.Errorf("unexpected message %+v (%v)", msg, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("announcement not relayed")
	}
}

func TestHub_Health(t *testing.T) {
	hub := NewHub(nil)
	rec := httptest.NewRecorder()
	hub.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Status != "ok" || body.Clients != 0 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
