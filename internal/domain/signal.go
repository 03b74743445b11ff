package domain

// SDPPayload is the JSON structure for SDP offer/answer messages.
// Negotiation identifies the offer/answer round the message belongs to.
type SDPPayload struct {
	Type        string `json:"type"`
	SDP         string `json:"sdp"`
	Negotiation string `json:"negotiation,omitempty"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
	Negotiation   string `json:"negotiation,omitempty"`
}

// EventType names a signaling message carried on the session bus.
type EventType string

const (
	EventActorStreaming EventType = "ActorStreaming"
	EventActorStopped   EventType = "ActorStopped"
	EventViewerRequest  EventType = "ViewerRequest"
	EventViewerLeave    EventType = "ViewerLeave"
	EventOffer          EventType = "Offer"
	EventAnswer         EventType = "Answer"
	EventICECandidate   EventType = "IceCandidate"
)

// Announcement is the payload of ActorStreaming and ViewerRequest.
type Announcement struct {
	Name     string `json:"name,omitempty"`
	SourceID string `json:"sourceId,omitempty"`
}
