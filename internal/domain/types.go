package domain

import (
	"strings"
	"time"
)

// Role is the local participant's part in a session.
type Role int

const (
	RoleViewer Role = iota
	RoleActor
)

func (r Role) String() string {
	if r == RoleActor {
		return "actor"
	}
	return "viewer"
}

// ParseRole accepts "actor" or "viewer" (case-insensitive).
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "actor":
		return RoleActor, true
	case "viewer":
		return RoleViewer, true
	}
	return RoleViewer, false
}

// PeerStatus is the lifecycle state of one peer session.
type PeerStatus int

const (
	StatusNew PeerStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
	StatusClosed
)

func (s PeerStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Live reports whether the session counts as an active viewer link.
func (s PeerStatus) Live() bool {
	return s == StatusConnecting || s == StatusConnected
}

// ConnectionState is the transport's own peer-connection state.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	}
	return "unknown"
}

// Provenance tags where a credential set came from.
type Provenance string

const (
	ProvenanceRelay    Provenance = "relay-available"
	ProvenanceSTUNOnly Provenance = "stun-only"
	ProvenanceFallback Provenance = "error-fallback"
)

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username"`
	Credential string   `json:"credential,omitempty" yaml:"credential"`
}

// IsRelay reports whether any of the server URLs is a TURN endpoint.
func (s ICEServer) IsRelay() bool {
	for _, u := range s.URLs {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

// CredentialSet is an immutable snapshot of relay configuration.
// A newer set replaces it wholesale.
type CredentialSet struct {
	Servers    []ICEServer
	ExpiresAt  time.Time
	Provenance Provenance
}

// Expires reports whether the set carries an expiry at all.
func (c *CredentialSet) Expires() bool {
	return c != nil && !c.ExpiresAt.IsZero()
}

// RelayCredentials is what the credential service returns.
type RelayCredentials struct {
	Servers    []ICEServer
	TTLSeconds int
	ExpiresAt  time.Time
	Provenance Provenance
}

// Participant is a member of the session known up front.
type Participant struct {
	ID   string
	Name string
	Role Role
}

// TrackKind is the media kind of a track.
type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// ConnectionConfig configures a new transport connection.
type ConnectionConfig struct {
	ICEServers []ICEServer
}
