package stream

import (
	"testing"

	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/peer"
	"vico_home/actorcast/internal/transporttest"
)

func liveSession(t *testing.T, tr *transporttest.Transport, remote string, c *Controller) (*peer.Session, *transporttest.Conn) {
	t.Helper()
	conn, err := tr.NewConnection(domain.ConnectionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	s := peer.New(remote, "", conn, peer.Hooks{}, nil)
	if err := c.Attach(s); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, _, err := s.CreateOffer(); err != nil {
		t.Fatalf("offer: %v", err)
	}
	s.ApplyConnectionState(domain.ConnectionStateConnected)
	return s, conn.(*transporttest.Conn)
}

func TestSetSource_ABAKeepsSessionsConnected(t *testing.T) {
	a := NewSource("a", transporttest.Video("a-video"))
	b := NewSource("b", transporttest.Video("b-video"))
	c := NewController(a, nil)
	tr := &transporttest.Transport{}

	s1, c1 := liveSession(t, tr, "v1", c)
	s2, c2 := liveSession(t, tr, "v2", c)
	sessions := []*peer.Session{s1, s2}

	for _, src := range []*Source{b, a} {
		res := c.SetSource(src, sessions)
		if len(res.Swapped) != 2 || len(res.Renegotiate) != 0 || len(res.Failed) != 0 {
			t.Fatalf("swap to %s: unexpected result %+v", src.ID(), res)
		}
	}

	for _, conn := range []*transporttest.Conn{c1, c2} {
		if got := conn.Sending(); len(got) != 1 || got[domain.KindVideo] != "a-video" {
			t.Errorf("%s sending %v, want only a-video", conn.ID, got)
		}
	}
	for _, s := range sessions {
		if s.Status() != domain.StatusConnected {
			t.Errorf("%s left Connected: %s", s.RemoteID, s.Status())
		}
	}
	if c.Source().ID() != "a" {
		t.Errorf("active source %s, want a", c.Source().ID())
	}
}

func TestSetSource_SkipsSessionsThatAreNotLive(t *testing.T) {
	a := NewSource("a", transporttest.Video("a-video"))
	c := NewController(a, nil)
	tr := &transporttest.Transport{}

	live, _ := liveSession(t, tr, "v1", c)
	dead, deadConn := liveSession(t, tr, "v2", c)
	dead.Close()

	res := c.SetSource(NewSource("b", transporttest.Video("b-video")), []*peer.Session{live, dead})
	if len(res.Swapped) != 1 || res.Swapped[0] != "v1" {
		t.Errorf("expected only v1 swapped, got %+v", res)
	}
	if deadConn.Sending()[domain.KindVideo] != "a-video" {
		t.Error("closed session must not be touched")
	}
}

func TestSetSource_NewKindRequestsRenegotiation(t *testing.T) {
	c := NewController(NewSource("cam", transporttest.Video("v")), nil)
	tr := &transporttest.Transport{}
	s, _ := liveSession(t, tr, "v1", c)

	res := c.SetSource(NewSource("cam+mic", transporttest.Video("v"), transporttest.Audio("m")), []*peer.Session{s})
	if len(res.Renegotiate) != 1 || res.Renegotiate[0] != "v1" {
		t.Errorf("expected v1 to need renegotiation, got %+v", res)
	}
}

func TestSetSource_Empty(t *testing.T) {
	c := NewController(NewSource("cam", transporttest.Video("v")), nil)
	tr := &transporttest.Transport{}
	s, conn := liveSession(t, tr, "v1", c)

	for _, src := range []domain.MediaSource{nil, NewSource("blank")} {
		res := c.SetSource(src, []*peer.Session{s})
		if !res.Empty {
			t.Errorf("expected Empty for %v", src)
		}
		if c.Active() {
			t.Error("controller should have no source")
		}
	}
	if conn.Sending()[domain.KindVideo] != "v" {
		t.Error("an empty swap must leave sessions to the caller")
	}
}

func TestNewController_IgnoresEmptySource(t *testing.T) {
	if NewController(NewSource("blank"), nil).Active() {
		t.Error("a source without tracks is not active")
	}
}
