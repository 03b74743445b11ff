package domain

import (
	"context"
	"errors"
)

// ErrReconfigureUnsupported is returned by Connection.SetConfiguration when the
// transport cannot take new ICE servers on a live connection.
var ErrReconfigureUnsupported = errors.New("live reconfiguration not supported")

// CredentialService issues time-limited relay server lists.
type CredentialService interface {
	RequestRelayCredentials(ctx context.Context, localID string) (*RelayCredentials, error)
}

// Track is an outbound media track.
type Track interface {
	ID() string
	Kind() TrackKind
}

// MediaSource is an opaque handle exposing zero or more tracks.
type MediaSource interface {
	ID() string
	Tracks() []Track
}

// RemoteTrack is an inbound media track delivered by the transport.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() TrackKind
}

// Sender is the outgoing side of one attached track.
type Sender interface {
	// ReplaceTrack swaps the outgoing track without renegotiation.
	// A nil track stops sending.
	ReplaceTrack(t Track) error
}

// Transport creates connections.
type Transport interface {
	NewConnection(cfg ConnectionConfig) (Connection, error)
}

// Connection is one direct peer link.
type Connection interface {
	// AddTrack attaches a send-only track.
	AddTrack(t Track) (Sender, error)
	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetLocalDescription(sdp SDPPayload) error
	SetRemoteDescription(sdp SDPPayload) error
	AddICECandidate(c ICECandidatePayload) error
	SetConfiguration(cfg ConnectionConfig) error
	// SelectedCandidateType returns host, srflx, prflx or relay for the
	// nominated local candidate, or "" when none is selected.
	SelectedCandidateType() string
	Close() error

	// OnICECandidate is called with nil once gathering completes.
	OnICECandidate(f func(c *ICECandidatePayload))
	OnConnectionStateChange(f func(s ConnectionState))
	OnTrack(f func(t RemoteTrack))
}
