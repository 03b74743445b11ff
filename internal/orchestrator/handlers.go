package orchestrator

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/peer"
	"vico_home/actorcast/internal/signal"
)

// register routes bus messages onto the loop. A viewer never registers for
// ViewerRequest, so it can never be driven into making an offer.
func (o *Orchestrator) register(ch *signal.Channel) {
	handle := func(t domain.EventType, h func(signal.Envelope)) {
		ch.On(t, func(msg signal.Envelope) {
			o.post(func() { h(msg) })
		})
	}

	switch o.role {
	case domain.RoleActor:
		handle(domain.EventViewerRequest, o.onViewerRequest)
		handle(domain.EventAnswer, o.onAnswer)
		handle(domain.EventViewerLeave, o.onViewerLeave)
	case domain.RoleViewer:
		handle(domain.EventActorStreaming, o.onActorStreaming)
		handle(domain.EventOffer, o.onOffer)
		handle(domain.EventActorStopped, o.onActorStopped)
	}
	handle(domain.EventICECandidate, o.onCandidate)

	warn := func(err error) {
		o.post(func() { o.recordError("signaling: %v", err) })
	}
	ch.OnDisconnect(warn)
	ch.OnWarning(warn)
	ch.OnTraffic(o.metrics.SignalSent, o.metrics.SignalReceived)
}

func (o *Orchestrator) hooks() peer.Hooks {
	return peer.Hooks{
		OnLocalCandidate: func(s *peer.Session, c *domain.ICECandidatePayload) {
			o.post(func() {
				if !o.current(s) {
					return
				}
				for _, ready := range s.HandleLocalCandidate(c) {
					o.send(domain.EventICECandidate, s.RemoteID, ready)
				}
			})
		},
		OnStateChange: func(s *peer.Session, state domain.ConnectionState) {
			o.post(func() {
				if o.current(s) {
					o.applyState(s, state)
				}
			})
		},
		OnTrack: func(s *peer.Session, t domain.RemoteTrack) {
			o.post(func() {
				if o.current(s) && s.Status() != domain.StatusClosed {
					o.addRemoteTrack(s.RemoteID, t)
				}
			})
		},
	}
}

// current reports whether s is still the session for its remote. Callbacks
// from replaced sessions are dropped.
func (o *Orchestrator) current(s *peer.Session) bool {
	return o.sessions[s.RemoteID] == s
}

func (o *Orchestrator) applyState(s *peer.Session, state domain.ConnectionState) {
	if !s.ApplyConnectionState(state) {
		return
	}
	o.metrics.PeerTransition(o.role, s.Status())

	switch s.Status() {
	case domain.StatusFailed:
		o.lastErr = s.Err().Error()
	case domain.StatusClosed:
		o.queue.Drop(s.RemoteID)
		o.clearRemote(s.RemoteID)
	}
}

// openSession replaces any session for remoteID with a fresh one on the
// current credentials.
func (o *Orchestrator) openSession(remoteID string) (*peer.Session, error) {
	o.closeSession(remoteID)

	set := o.creds.Current()
	conn, err := o.cfg.Transport.NewConnection(domain.ConnectionConfig{ICEServers: set.Servers})
	if err != nil {
		return nil, fmt.Errorf("new connection for %s: %w", remoteID, err)
	}
	s := peer.New(remoteID, o.participants[remoteID].Name, conn, o.hooks(), o.lf)
	o.sessions[remoteID] = s
	return s, nil
}

func (o *Orchestrator) closeSession(id string) {
	s := o.sessions[id]
	if s == nil || s.Status() == domain.StatusClosed {
		return
	}
	s.Close()
	o.metrics.PeerTransition(o.role, domain.StatusClosed)
	o.clearRemote(id)
}

// removeSession closes and forgets the session with a departed remote.
func (o *Orchestrator) removeSession(id string) {
	o.closeSession(id)
	delete(o.sessions, id)
	o.queue.Drop(id)
}

func (o *Orchestrator) closeAll() {
	for id := range o.sessions {
		o.closeSession(id)
	}
}

func (o *Orchestrator) failSession(s *peer.Session, err error) {
	before := s.Status()
	s.Fail(err)
	if s.Status() != before {
		o.metrics.PeerTransition(o.role, s.Status())
	}
	o.recordError("%s: %v", s.RemoteID, err)
}

// liveSessions returns Connecting and Connected sessions ordered by id.
func (o *Orchestrator) liveSessions() []*peer.Session {
	ids := make([]string, 0, len(o.sessions))
	for id, s := range o.sessions {
		if s.Live() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*peer.Session, len(ids))
	for i, id := range ids {
		out[i] = o.sessions[id]
	}
	return out
}

// drainCandidates applies candidates queued for s's remote before its
// remote description was set, in arrival order. Candidates from another
// negotiation round are discarded.
func (o *Orchestrator) drainCandidates(s *peer.Session) {
	for _, c := range o.queue.Drain(s.RemoteID) {
		if !s.Matches(c) {
			o.log.Debugf("discarding candidate from %s for round %s", s.RemoteID, c.Negotiation)
			continue
		}
		if err := s.AddCandidate(c); err != nil {
			o.log.Warnf("queued candidate from %s: %v", s.RemoteID, err)
		}
	}
}

func (o *Orchestrator) onViewerRequest(msg signal.Envelope) {
	if !o.stream.Active() {
		o.log.Debugf("no source, ignoring request from %s", msg.From)
		return
	}
	var hello domain.Announcement
	if err := msg.Decode(&hello); err == nil && hello.Name != "" {
		p := o.participants[msg.From]
		p.ID, p.Name, p.Role = msg.From, hello.Name, domain.RoleViewer
		o.participants[msg.From] = p
	}
	o.createOfferForViewer(msg.From)
}

// createOfferForViewer replaces the session with viewerID, attaches the
// active source and sends a send-only offer. Failures mark the new session
// Failed and never escape the handler.
func (o *Orchestrator) createOfferForViewer(viewerID string) {
	s, err := o.openSession(viewerID)
	if err != nil {
		o.recordError("offer to %s: %v", viewerID, err)
		return
	}
	s.Negotiation = uuid.NewString()

	if err := o.stream.Attach(s); err != nil {
		o.failSession(s, fmt.Errorf("attach source: %w", err))
		return
	}
	offer, ready, err := s.CreateOffer()
	if err != nil {
		o.failSession(s, fmt.Errorf("create offer: %w", err))
		return
	}
	o.metrics.PeerTransition(o.role, s.Status())

	offer.Negotiation = s.Negotiation
	o.log.Infof("offering %s to %s", o.stream.Source().ID(), viewerID)
	o.send(domain.EventOffer, viewerID, offer)
	for _, c := range ready {
		o.send(domain.EventICECandidate, viewerID, c)
	}
}

func (o *Orchestrator) onAnswer(msg signal.Envelope) {
	s := o.sessions[msg.From]
	if s == nil || s.Status() == domain.StatusClosed {
		o.log.Debugf("answer from %s without a session", msg.From)
		return
	}
	var sdp domain.SDPPayload
	if err := msg.Decode(&sdp); err != nil {
		o.failSession(s, err)
		return
	}
	if sdp.Negotiation != "" && sdp.Negotiation != s.Negotiation {
		o.log.Debugf("stale answer from %s", msg.From)
		return
	}
	if s.HasRemoteDescription() {
		o.log.Debugf("duplicate answer from %s", msg.From)
		return
	}
	if err := s.ApplyAnswer(sdp); err != nil {
		o.failSession(s, fmt.Errorf("apply answer: %w", err))
		return
	}
	o.drainCandidates(s)
}

func (o *Orchestrator) onViewerLeave(msg signal.Envelope) {
	o.log.Infof("%s left", msg.From)
	o.removeSession(msg.From)
}

func (o *Orchestrator) onActorStreaming(msg signal.Envelope) {
	o.actorID = msg.From
	if s := o.sessions[msg.From]; s != nil && (s.Live() || s.Status() == domain.StatusNew) {
		o.log.Debugf("already linked to %s", msg.From)
		return
	}
	o.requestStream(msg.From)
}

// onOffer is the viewer side of a negotiation: replace the session, apply
// the offer, replay early candidates, answer.
func (o *Orchestrator) onOffer(msg signal.Envelope) {
	var sdp domain.SDPPayload
	if err := msg.Decode(&sdp); err != nil {
		o.recordError("offer from %s: %v", msg.From, err)
		return
	}
	o.actorID = msg.From

	s, err := o.openSession(msg.From)
	if err != nil {
		o.recordError("answer %s: %v", msg.From, err)
		return
	}
	s.Negotiation = sdp.Negotiation

	if err := s.ApplyOffer(sdp); err != nil {
		o.failSession(s, fmt.Errorf("apply offer: %w", err))
		return
	}
	o.drainCandidates(s)

	answer, ready, err := s.CreateAnswer()
	if err != nil {
		o.failSession(s, fmt.Errorf("create answer: %w", err))
		return
	}
	answer.Negotiation = s.Negotiation
	o.send(domain.EventAnswer, msg.From, answer)
	for _, c := range ready {
		o.send(domain.EventICECandidate, msg.From, c)
	}
}

func (o *Orchestrator) onActorStopped(msg signal.Envelope) {
	o.log.Infof("%s stopped streaming", msg.From)
	o.removeSession(msg.From)
}

// onCandidate applies a remote candidate to its session when possible. On
// the actor a candidate for anything but the current round is stale; on the
// viewer it may precede its offer and is queued.
func (o *Orchestrator) onCandidate(msg signal.Envelope) {
	var c domain.ICECandidatePayload
	if err := msg.Decode(&c); err != nil {
		o.log.Warnf("candidate from %s: %v", msg.From, err)
		return
	}

	s := o.sessions[msg.From]
	usable := s != nil && s.Status() != domain.StatusClosed && s.Matches(c)
	if usable && s.HasRemoteDescription() {
		if err := s.AddCandidate(c); err != nil {
			o.log.Warnf("candidate from %s: %v", msg.From, err)
		}
		return
	}
	if o.role == domain.RoleActor && !usable {
		o.log.Debugf("dropping stale candidate from %s", msg.From)
		return
	}
	if n := o.queue.Push(msg.From, c); n > 0 {
		o.log.Debugf("discarded %d queued candidates from %s", n, msg.From)
	}
}

func (o *Orchestrator) addRemoteTrack(from string, t domain.RemoteTrack) {
	next := &RemoteStream{ActorID: from}
	if o.remote != nil && o.remote.ActorID == from {
		next.Tracks = append(next.Tracks, o.remote.Tracks...)
	}
	next.Tracks = append(next.Tracks, t)
	o.remote = next

	o.log.Infof("receiving %s track %s from %s", t.Kind(), t.ID(), from)
	if o.cfg.OnRemoteTrack != nil {
		o.cfg.OnRemoteTrack(from, t)
	}
}

func (o *Orchestrator) clearRemote(from string) {
	if o.remote != nil && o.remote.ActorID == from {
		o.remote = nil
	}
}
