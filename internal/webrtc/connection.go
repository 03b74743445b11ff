package webrtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"vico_home/actorcast/internal/domain"
)

var errForeignTrack = errors.New("track was not created by this package")

// Connection wraps a pion PeerConnection behind domain.Connection.
type Connection struct {
	pc  *pion.PeerConnection
	log logging.LeveledLogger
}

func newConnection(pc *pion.PeerConnection, log logging.LeveledLogger) *Connection {
	c := &Connection{pc: pc, log: log}
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debugf("ICE connection state: %s", state.String())
	})
	return c
}

// AddTrack attaches t with a send-only transceiver and drains its RTCP.
func (c *Connection) AddTrack(t domain.Track) (domain.Sender, error) {
	lt, ok := t.(*Track)
	if !ok {
		return nil, errForeignTrack
	}

	tr, err := c.pc.AddTransceiverFromTrack(lt.local, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, fmt.Errorf("add %s transceiver: %w", lt.kind, err)
	}

	sender := tr.Sender()
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	return &Sender{sender: sender}, nil
}

// CreateOffer creates an SDP offer. Only send-only transceivers are added,
// so the offer requests no inbound media.
func (c *Connection) CreateOffer() (domain.SDPPayload, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates an SDP answer for the applied remote offer.
func (c *Connection) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *Connection) SetLocalDescription(sdp domain.SDPPayload) error {
	if err := c.pc.SetLocalDescription(sessionDescription(sdp)); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	c.log.Debugf("local SDP %s set", sdp.Type)
	return nil
}

func (c *Connection) SetRemoteDescription(sdp domain.SDPPayload) error {
	if err := c.pc.SetRemoteDescription(sessionDescription(sdp)); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.log.Debugf("remote SDP %s set", sdp.Type)
	return nil
}

func sessionDescription(sdp domain.SDPPayload) pion.SessionDescription {
	return pion.SessionDescription{
		Type: pion.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
}

func (c *Connection) AddICECandidate(candidate domain.ICECandidatePayload) error {
	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// SetConfiguration records new ICE servers on the connection. pion only uses
// them for later gathering or an ICE restart, so the selected pair and any
// candidates already sent keep the old servers. A closed connection reports
// pion.ErrConnectionClosed rather than ErrReconfigureUnsupported.
func (c *Connection) SetConfiguration(cfg domain.ConnectionConfig) error {
	if c.pc.ConnectionState() == pion.PeerConnectionStateClosed {
		return fmt.Errorf("set configuration: %w", pion.ErrConnectionClosed)
	}
	if err := c.pc.SetConfiguration(pionConfiguration(cfg)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrReconfigureUnsupported, err)
	}
	return nil
}

// SelectedCandidateType reports the local candidate type of the nominated pair.
func (c *Connection) SelectedCandidateType() string {
	sctp := c.pc.SCTP()
	if sctp == nil || sctp.Transport() == nil || sctp.Transport().ICETransport() == nil {
		return ""
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil || pair == nil || pair.Local == nil {
		return ""
	}
	return pair.Local.Typ.String()
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

// OnICECandidate forwards local candidates, skipping loopback addresses.
func (c *Connection) OnICECandidate(f func(*domain.ICECandidatePayload)) {
	c.pc.OnICECandidate(func(cand *pion.ICECandidate) {
		if cand == nil {
			c.log.Debugf("ICE gathering complete")
			f(nil)
			return
		}

		init := cand.ToJSON()
		if isLoopback(init.Candidate) {
			c.log.Tracef("filtering loopback ICE candidate")
			return
		}

		payload := &domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		f(payload)
	})
}

func (c *Connection) OnConnectionStateChange(f func(domain.ConnectionState)) {
	c.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		c.log.Debugf("peer connection state: %s", state.String())
		f(connectionState(state))
	})
}

func (c *Connection) OnTrack(f func(domain.RemoteTrack)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		codec := track.Codec()
		c.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)
		f(&RemoteTrack{Remote: track})
	})
}

func connectionState(s pion.PeerConnectionState) domain.ConnectionState {
	switch s {
	case pion.PeerConnectionStateConnecting:
		return domain.ConnectionStateConnecting
	case pion.PeerConnectionStateConnected:
		return domain.ConnectionStateConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnectionStateDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnectionStateFailed
	case pion.PeerConnectionStateClosed:
		return domain.ConnectionStateClosed
	}
	return domain.ConnectionStateNew
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}

// Sender wraps an RTPSender.
type Sender struct {
	sender *pion.RTPSender
}

// ReplaceTrack swaps the outgoing track in place. nil stops sending.
func (s *Sender) ReplaceTrack(t domain.Track) error {
	if t == nil {
		return s.sender.ReplaceTrack(nil)
	}
	lt, ok := t.(*Track)
	if !ok {
		return errForeignTrack
	}
	if err := s.sender.ReplaceTrack(lt.local); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}
