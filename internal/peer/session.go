// Package peer holds the per-remote negotiation state machine.
//
// A Session is not safe for concurrent use; the orchestrator drives every
// session from its single event loop.
package peer

import (
	"errors"
	"fmt"

	"github.com/pion/logging"

	"vico_home/actorcast/internal/domain"
)

var (
	ErrSessionClosed       = errors.New("peer session closed")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

// Hooks receive transport callbacks. They are called from transport
// goroutines and must hand off to the owner's loop rather than touch the
// session directly.
type Hooks struct {
	OnLocalCandidate func(s *Session, c *domain.ICECandidatePayload)
	OnStateChange    func(s *Session, state domain.ConnectionState)
	OnTrack          func(s *Session, t domain.RemoteTrack)
}

// Session is one negotiated link to exactly one remote participant. It owns
// its connection: closing the session closes the connection.
type Session struct {
	RemoteID    string
	DisplayName string
	// Negotiation tags outbound candidates and filters inbound ones.
	Negotiation string

	conn   domain.Connection
	status domain.PeerStatus
	err    error
	log    logging.LeveledLogger

	localDescSet  bool
	remoteDescSet bool
	outbound      []domain.ICECandidatePayload
	senders       map[domain.TrackKind]domain.Sender
	sending       map[domain.TrackKind]string
	candidateType string
}

// New creates a session around a fresh connection and wires its callbacks
// to hooks.
func New(remoteID, displayName string, conn domain.Connection, hooks Hooks, lf logging.LoggerFactory) *Session {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	s := &Session{
		RemoteID:    remoteID,
		DisplayName: displayName,
		conn:        conn,
		status:      domain.StatusNew,
		log:         lf.NewLogger("peer"),
		senders:     make(map[domain.TrackKind]domain.Sender),
		sending:     make(map[domain.TrackKind]string),
	}

	conn.OnICECandidate(func(c *domain.ICECandidatePayload) {
		if hooks.OnLocalCandidate != nil {
			hooks.OnLocalCandidate(s, c)
		}
	})
	conn.OnConnectionStateChange(func(state domain.ConnectionState) {
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(s, state)
		}
	})
	conn.OnTrack(func(t domain.RemoteTrack) {
		if hooks.OnTrack != nil {
			hooks.OnTrack(s, t)
		}
	})
	return s
}

func (s *Session) Status() domain.PeerStatus { return s.status }

// Err is the error that failed the session, if any.
func (s *Session) Err() error { return s.err }

// CandidateType is the winning local candidate type once connected.
func (s *Session) CandidateType() string { return s.candidateType }

func (s *Session) HasRemoteDescription() bool { return s.remoteDescSet }

// Live reports whether the session is Connecting or Connected.
func (s *Session) Live() bool { return s.status.Live() }

// SendingTrack returns the id of the track currently sent for kind.
func (s *Session) SendingTrack(kind domain.TrackKind) (string, bool) {
	id, ok := s.sending[kind]
	return id, ok
}

// AttachSource adds every track of src as a send-only track.
func (s *Session) AttachSource(src domain.MediaSource) error {
	if s.status == domain.StatusClosed {
		return ErrSessionClosed
	}
	if src == nil {
		return nil
	}
	for _, t := range src.Tracks() {
		if err := s.addTrack(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) addTrack(t domain.Track) error {
	sender, err := s.conn.AddTrack(t)
	if err != nil {
		return fmt.Errorf("add %s track %s: %w", t.Kind(), t.ID(), err)
	}
	s.senders[t.Kind()] = sender
	s.sending[t.Kind()] = t.ID()
	return nil
}

// SwapSource sends src's tracks on this session. Kinds that already have a
// sender are replaced in place and kinds missing from src stop sending. A
// kind with no sender yet is left untouched and reported as needing
// renegotiation.
func (s *Session) SwapSource(src domain.MediaSource) (needsRenegotiation bool, err error) {
	if s.status == domain.StatusClosed {
		return false, ErrSessionClosed
	}

	next := make(map[domain.TrackKind]domain.Track)
	if src != nil {
		for _, t := range src.Tracks() {
			next[t.Kind()] = t
		}
	}

	for kind, sender := range s.senders {
		t, ok := next[kind]
		if !ok {
			if err := sender.ReplaceTrack(nil); err != nil {
				return false, fmt.Errorf("stop %s: %w", kind, err)
			}
			delete(s.sending, kind)
			continue
		}
		if s.sending[kind] == t.ID() {
			continue
		}
		if err := sender.ReplaceTrack(t); err != nil {
			return false, fmt.Errorf("replace %s: %w", kind, err)
		}
		s.sending[kind] = t.ID()
	}

	// A kind without a sender needs a new offer. The caller builds a fresh
	// session for it, so the track is not added here.
	for kind := range next {
		if _, ok := s.senders[kind]; !ok {
			needsRenegotiation = true
		}
	}
	return needsRenegotiation, nil
}

// CreateOffer creates the offer, sets it as local description and marks the
// session Connecting. Returned candidates were gathered early and can now
// be sent.
func (s *Session) CreateOffer() (domain.SDPPayload, []domain.ICECandidatePayload, error) {
	if s.status == domain.StatusClosed {
		return domain.SDPPayload{}, nil, ErrSessionClosed
	}
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return domain.SDPPayload{}, nil, err
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, nil, err
	}
	s.transition(domain.StatusConnecting)
	return offer, s.releaseOutbound(), nil
}

// ApplyOffer sets a remote offer.
func (s *Session) ApplyOffer(sdp domain.SDPPayload) error {
	return s.applyRemote(sdp, "offer")
}

// ApplyAnswer sets a remote answer.
func (s *Session) ApplyAnswer(sdp domain.SDPPayload) error {
	return s.applyRemote(sdp, "answer")
}

func (s *Session) applyRemote(sdp domain.SDPPayload, want string) error {
	if s.status == domain.StatusClosed {
		return ErrSessionClosed
	}
	if sdp.Type == "" {
		sdp.Type = want
	}
	if sdp.Type != want {
		return fmt.Errorf("expected %s, got %q", want, sdp.Type)
	}
	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return err
	}
	s.remoteDescSet = true
	return nil
}

// CreateAnswer answers the applied offer and sets it as local description.
func (s *Session) CreateAnswer() (domain.SDPPayload, []domain.ICECandidatePayload, error) {
	if s.status == domain.StatusClosed {
		return domain.SDPPayload{}, nil, ErrSessionClosed
	}
	if !s.remoteDescSet {
		return domain.SDPPayload{}, nil, ErrNoRemoteDescription
	}
	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return domain.SDPPayload{}, nil, err
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, nil, err
	}
	return answer, s.releaseOutbound(), nil
}

// AddCandidate applies a remote candidate.
func (s *Session) AddCandidate(c domain.ICECandidatePayload) error {
	if s.status == domain.StatusClosed {
		return ErrSessionClosed
	}
	if !s.remoteDescSet {
		return ErrNoRemoteDescription
	}
	return s.conn.AddICECandidate(c)
}

// HandleLocalCandidate returns the candidates that may be sent now. Local
// candidates are never sent before the local description is set.
func (s *Session) HandleLocalCandidate(c *domain.ICECandidatePayload) []domain.ICECandidatePayload {
	if c == nil || s.status == domain.StatusClosed {
		return nil
	}
	cand := *c
	cand.Negotiation = s.Negotiation
	if !s.localDescSet {
		s.outbound = append(s.outbound, cand)
		return nil
	}
	return []domain.ICECandidatePayload{cand}
}

// Matches reports whether an inbound candidate belongs to this session's
// negotiation round. Untagged candidates match any round.
func (s *Session) Matches(c domain.ICECandidatePayload) bool {
	return c.Negotiation == "" || s.Negotiation == "" || c.Negotiation == s.Negotiation
}

func (s *Session) releaseOutbound() []domain.ICECandidatePayload {
	s.localDescSet = true
	out := s.outbound
	s.outbound = nil
	return out
}

// ApplyConnectionState maps a transport state onto the session lifecycle and
// reports whether the status changed.
func (s *Session) ApplyConnectionState(state domain.ConnectionState) bool {
	var next domain.PeerStatus
	switch state {
	case domain.ConnectionStateConnecting:
		next = domain.StatusConnecting
	case domain.ConnectionStateConnected:
		next = domain.StatusConnected
	case domain.ConnectionStateFailed:
		next = domain.StatusFailed
	case domain.ConnectionStateDisconnected, domain.ConnectionStateClosed:
		next = domain.StatusClosed
	default:
		return false
	}

	if !s.transition(next) {
		return false
	}

	switch next {
	case domain.StatusConnected:
		s.candidateType = s.conn.SelectedCandidateType()
		s.log.Infof("%s connected via %s candidate", s.RemoteID, orUnknown(s.candidateType))
	case domain.StatusFailed:
		s.err = fmt.Errorf("connection to %s failed", s.label())
		s.log.Warnf("%v", s.err)
	case domain.StatusClosed:
		s.log.Infof("%s %s", s.RemoteID, state)
		s.release()
	}
	return true
}

// Fail marks the session Failed with err unless it is already terminal.
func (s *Session) Fail(err error) {
	if s.transition(domain.StatusFailed) {
		s.err = err
		s.log.Warnf("%s failed: %v", s.RemoteID, err)
	}
}

// Reconfigure pushes new ICE servers into the live connection, best-effort.
func (s *Session) Reconfigure(servers []domain.ICEServer) error {
	if s.status == domain.StatusClosed {
		return ErrSessionClosed
	}
	return s.conn.SetConfiguration(domain.ConnectionConfig{ICEServers: servers})
}

// Close tears the session down. It is idempotent.
func (s *Session) Close() {
	if s.status == domain.StatusClosed {
		return
	}
	s.status = domain.StatusClosed
	s.release()
}

func (s *Session) release() {
	s.outbound = nil
	if err := s.conn.Close(); err != nil {
		s.log.Debugf("close %s: %v", s.RemoteID, err)
	}
}

// transition applies the lifecycle rules:
// New -> Connecting -> {Connected | Failed} -> Closed. New may jump ahead
// when the transport skips a state; nothing leaves Closed.
func (s *Session) transition(next domain.PeerStatus) bool {
	if !canTransition(s.status, next) {
		return false
	}
	s.status = next
	return true
}

func canTransition(from, to domain.PeerStatus) bool {
	switch from {
	case domain.StatusNew:
		return to != domain.StatusNew
	case domain.StatusConnecting:
		return to == domain.StatusConnected || to == domain.StatusFailed || to == domain.StatusClosed
	case domain.StatusConnected, domain.StatusFailed:
		return to == domain.StatusClosed
	}
	return false
}

func (s *Session) label() string {
	if s.DisplayName != "" {
		return fmt.Sprintf("%s (%s)", s.DisplayName, s.RemoteID)
	}
	return s.RemoteID
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
