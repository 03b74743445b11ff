// Package transporttest provides a scripted in-memory domain.Transport.
//
// Fake connections exchange SDP strings of the form
// "fake <kind> <conn-id> <track-kind>:<track-id> ..." and candidates
// "fake-candidate <conn-id> <n>". A connection reports connecting once both
// descriptions are set and connected after it has applied at least one
// candidate from the connection named in its remote description.
package transporttest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"vico_home/actorcast/internal/domain"
)

var ErrClosed = errors.New("fake connection closed")

var nextID atomic.Int64

// Transport creates fake connections and remembers them.
type Transport struct {
	// CandidatesPerConn is how many local candidates each connection
	// gathers after its local description is set. Defaults to 2.
	CandidatesPerConn int
	// NoReconfigure makes SetConfiguration fail like a transport without
	// live reconfiguration.
	NoReconfigure bool
	// FailOffer makes CreateOffer fail on new connections.
	FailOffer error
	// FailCreate makes NewConnection fail.
	FailCreate error

	mu    sync.Mutex
	conns []*Conn
}

// NewConnection implements domain.Transport.
func (t *Transport) NewConnection(cfg domain.ConnectionConfig) (domain.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailCreate != nil {
		return nil, t.FailCreate
	}
	n := t.CandidatesPerConn
	if n <= 0 {
		n = 2
	}
	c := &Conn{
		ID:            fmt.Sprintf("c%d", nextID.Add(1)),
		Config:        cfg,
		candidates:    n,
		noReconfigure: t.NoReconfigure,
		failOffer:     t.FailOffer,
		events:        make(chan func(), 64),
		quit:          make(chan struct{}),
		CandidateType: "host",
	}
	go c.run()
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns every connection created so far.
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Last returns the most recent connection, or nil.
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// Conn is a fake connection.
type Conn struct {
	ID            string
	CandidateType string

	candidates    int
	noReconfigure bool
	failOffer     error

	mu           sync.Mutex
	Config       domain.ConnectionConfig
	reconfigured []domain.ConnectionConfig
	senders      []*Sender
	local        *domain.SDPPayload
	remote       *domain.SDPPayload
	remoteConn   string
	applied      []domain.ICECandidatePayload
	matched      bool
	state        domain.ConnectionState
	closed       bool

	onCandidate func(*domain.ICECandidatePayload)
	onState     func(domain.ConnectionState)
	onTrack     func(domain.RemoteTrack)

	events chan func()
	quit   chan struct{}
}

func (c *Conn) run() {
	for {
		select {
		case f := <-c.events:
			f()
		case <-c.quit:
			return
		}
	}
}

// emit queues f so callbacks arrive in order on a goroutine of their own,
// like a real transport.
func (c *Conn) emit(f func()) {
	select {
	case c.events <- f:
	case <-c.quit:
	}
}

func (c *Conn) AddTrack(t domain.Track) (domain.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s := &Sender{kind: t.Kind(), track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) describe(kind string) domain.SDPPayload {
	parts := []string{"fake", kind, c.ID}
	for _, s := range c.senders {
		if t := s.Track(); t != nil {
			parts = append(parts, string(t.Kind())+":"+t.ID())
		}
	}
	return domain.SDPPayload{Type: kind, SDP: strings.Join(parts, " ")}
}

func (c *Conn) CreateOffer() (domain.SDPPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.SDPPayload{}, ErrClosed
	}
	if c.failOffer != nil {
		return domain.SDPPayload{}, c.failOffer
	}
	return c.describe("offer"), nil
}

func (c *Conn) CreateAnswer() (domain.SDPPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.SDPPayload{}, ErrClosed
	}
	if c.remote == nil || c.remote.Type != "offer" {
		return domain.SDPPayload{}, errors.New("no remote offer")
	}
	return c.describe("answer"), nil
}

func (c *Conn) SetLocalDescription(sdp domain.SDPPayload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.local != nil {
		c.mu.Unlock()
		return errors.New("local description already set")
	}
	c.local = &sdp
	n := c.candidates
	c.mu.Unlock()

	for i := 0; i < n; i++ {
		cand := domain.ICECandidatePayload{
			SDPMid:    "0",
			Candidate: fmt.Sprintf("fake-candidate %s %d", c.ID, i),
		}
		c.emit(func() { c.fireCandidate(&cand) })
	}
	c.emit(func() { c.fireCandidate(nil) })
	c.progress()
	return nil
}

func (c *Conn) SetRemoteDescription(sdp domain.SDPPayload) error {
	fields := strings.Fields(sdp.SDP)
	if len(fields) < 3 || fields[0] != "fake" || fields[1] != sdp.Type {
		return fmt.Errorf("malformed sdp %q", sdp.SDP)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.remote = &sdp
	c.remoteConn = fields[2]
	var tracks []*RemoteTrack
	for _, f := range fields[3:] {
		kind, id, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		tracks = append(tracks, &RemoteTrack{id: id, stream: fields[2], kind: domain.TrackKind(kind)})
	}
	c.mu.Unlock()

	for _, t := range tracks {
		t := t
		c.emit(func() {
			c.mu.Lock()
			f := c.onTrack
			c.mu.Unlock()
			if f != nil {
				f(t)
			}
		})
	}
	c.progress()
	return nil
}

func (c *Conn) AddICECandidate(cand domain.ICECandidatePayload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.remote == nil {
		c.mu.Unlock()
		return errors.New("remote description not set")
	}
	fields := strings.Fields(cand.Candidate)
	if len(fields) != 3 || fields[0] != "fake-candidate" {
		c.mu.Unlock()
		return fmt.Errorf("malformed candidate %q", cand.Candidate)
	}
	c.applied = append(c.applied, cand)
	if fields[1] == c.remoteConn {
		c.matched = true
	}
	c.mu.Unlock()

	c.progress()
	return nil
}

// progress emits connecting once both descriptions are set and connected
// once a matching remote candidate has been applied.
func (c *Conn) progress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.local == nil || c.remote == nil {
		return
	}
	if c.state == domain.ConnectionStateNew {
		c.setStateLocked(domain.ConnectionStateConnecting)
	}
	if c.matched && c.state == domain.ConnectionStateConnecting {
		c.setStateLocked(domain.ConnectionStateConnected)
	}
}

func (c *Conn) setStateLocked(s domain.ConnectionState) {
	c.state = s
	c.emit(func() { c.fireState(s) })
}

func (c *Conn) fireCandidate(cand *domain.ICECandidatePayload) {
	c.mu.Lock()
	f := c.onCandidate
	c.mu.Unlock()
	if f != nil {
		f(cand)
	}
}

func (c *Conn) fireState(s domain.ConnectionState) {
	c.mu.Lock()
	f := c.onState
	c.mu.Unlock()
	if f != nil {
		f(s)
	}
}

func (c *Conn) SetConfiguration(cfg domain.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noReconfigure {
		return domain.ErrReconfigureUnsupported
	}
	if c.closed {
		return ErrClosed
	}
	c.Config = cfg
	c.reconfigured = append(c.reconfigured, cfg)
	return nil
}

func (c *Conn) SelectedCandidateType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != domain.ConnectionStateConnected {
		return ""
	}
	return c.CandidateType
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = domain.ConnectionStateClosed
	c.mu.Unlock()

	c.emit(func() {
		c.fireState(domain.ConnectionStateClosed)
		close(c.quit)
	})
	return nil
}

func (c *Conn) OnICECandidate(f func(*domain.ICECandidatePayload)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(f func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

func (c *Conn) OnTrack(f func(domain.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

// Emit pushes a transport state as if the network changed.
func (c *Conn) Emit(s domain.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(func() { c.fireState(s) })
}

// State returns the last state the connection reported.
func (c *Conn) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Applied returns the remote candidates applied so far, in order.
func (c *Conn) Applied() []domain.ICECandidatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ICECandidatePayload(nil), c.applied...)
}

// RemoteConn returns the id of the connection named in the remote
// description.
func (c *Conn) RemoteConn() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteConn
}

// ICEServers returns the servers the connection currently uses.
func (c *Conn) ICEServers() []domain.ICEServer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Config.ICEServers
}

// Reconfigured returns every configuration pushed by SetConfiguration.
func (c *Conn) Reconfigured() []domain.ConnectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ConnectionConfig(nil), c.reconfigured...)
}

// LocalDescription returns the local description, if set.
func (c *Conn) LocalDescription() *domain.SDPPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Sending returns the ids of the tracks currently being sent, by kind.
func (c *Conn) Sending() map[domain.TrackKind]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.TrackKind]string)
	for _, s := range c.senders {
		if t := s.Track(); t != nil {
			out[s.kind] = t.ID()
		}
	}
	return out
}

// Sender is a fake track sender.
type Sender struct {
	mu       sync.Mutex
	kind     domain.TrackKind
	track    domain.Track
	replaces int
}

func (s *Sender) ReplaceTrack(t domain.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.replaces++
	return nil
}

// Track returns the track being sent, or nil.
func (s *Sender) Track() domain.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// RemoteTrack is delivered to OnTrack for every track in a remote offer.
type RemoteTrack struct {
	id     string
	stream string
	kind   domain.TrackKind
}

func (t *RemoteTrack) ID() string { return t.id }

func (t *RemoteTrack) StreamID() string { return t.stream }

func (t *RemoteTrack) Kind() domain.TrackKind { return t.kind }

// Track is a fake outbound track.
type Track struct {
	TrackID   string
	TrackKind domain.TrackKind
}

func (t *Track) ID() string { return t.TrackID }

func (t *Track) Kind() domain.TrackKind { return t.TrackKind }

// Video returns a fake video track.
func Video(id string) *Track {
	return &Track{TrackID: id, TrackKind: domain.KindVideo}
}

// Audio returns a fake audio track.
func Audio(id string) *Track {
	return &Track{TrackID: id, TrackKind: domain.KindAudio}
}
