package orchestrator

import "vico_home/actorcast/internal/domain"

// PeerSnapshot is the observable state of one session.
type PeerSnapshot struct {
	ID            string
	Name          string
	Status        domain.PeerStatus
	CandidateType string
	Error         string
}

// Snapshot is a point-in-time view of an Orchestrator, safe to keep.
type Snapshot struct {
	Role    domain.Role
	LocalID string
	ActorID string
	Peers   map[string]PeerSnapshot
	// ViewerCount is the number of sessions Connecting or Connected.
	ViewerCount int
	LastError   string
	// CredentialSource is the provenance of the newest credential set, or
	// empty until the first fetch completes.
	CredentialSource domain.Provenance
	// Streaming is true for an actor that has announced, and for a viewer
	// that is receiving tracks.
	Streaming bool
	SourceID  string
	// RefreshPending and AnnouncePending report armed timers.
	RefreshPending  bool
	AnnouncePending bool
}

// RemoteStream is what a viewer currently receives.
type RemoteStream struct {
	ActorID string
	Tracks  []domain.RemoteTrack
}

// Status returns the latest snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()

	snap := o.status
	snap.Peers = make(map[string]PeerSnapshot, len(o.status.Peers))
	for id, p := range o.status.Peers {
		snap.Peers[id] = p
	}
	return snap
}

// RemoteStream returns the stream a viewer is receiving, or nil.
func (o *Orchestrator) RemoteStream() *RemoteStream {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()

	if o.remoteSnap == nil {
		return nil
	}
	return &RemoteStream{
		ActorID: o.remoteSnap.ActorID,
		Tracks:  append([]domain.RemoteTrack(nil), o.remoteSnap.Tracks...),
	}
}

// publishStatus runs on the loop after every task.
func (o *Orchestrator) publishStatus() {
	snap := Snapshot{
		Role:             o.role,
		LocalID:          o.cfg.LocalID,
		ActorID:          o.actorID,
		Peers:            make(map[string]PeerSnapshot, len(o.sessions)),
		LastError:        o.lastErr,
		CredentialSource: o.provenance,
		RefreshPending:   o.creds.Pending(),
		AnnouncePending:  o.settle != nil,
	}
	if o.role == domain.RoleActor {
		snap.ActorID = o.cfg.LocalID
		snap.Streaming = o.announced
		if src := o.stream.Source(); src != nil {
			snap.SourceID = src.ID()
		}
	} else {
		snap.Streaming = o.remote != nil
	}

	for id, s := range o.sessions {
		p := PeerSnapshot{
			ID:            id,
			Name:          s.DisplayName,
			Status:        s.Status(),
			CandidateType: s.CandidateType(),
		}
		if err := s.Err(); err != nil {
			p.Error = err.Error()
		}
		snap.Peers[id] = p
		if s.Live() {
			snap.ViewerCount++
		}
	}
	o.metrics.Viewers(snap.ViewerCount)

	o.statusMu.Lock()
	o.status = snap
	o.remoteSnap = o.remote
	o.statusMu.Unlock()
}
