package webrtc

import (
	"fmt"
	"io"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"vico_home/actorcast/internal/domain"
)

// Track is an outbound sample track. One Track may be attached to any
// number of connections; every write goes to all of them.
type Track struct {
	local *pion.TrackLocalStaticSample
	kind  domain.TrackKind
}

// NewTrack creates an H264 video or Opus audio track.
func NewTrack(kind domain.TrackKind, id, streamID string) (*Track, error) {
	var capability pion.RTPCodecCapability
	switch kind {
	case domain.KindVideo:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}
	case domain.KindAudio:
		capability = pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	default:
		return nil, fmt.Errorf("unsupported track kind %q", kind)
	}

	local, err := pion.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &Track{local: local, kind: kind}, nil
}

func (t *Track) ID() string { return t.local.ID() }

func (t *Track) Kind() domain.TrackKind { return t.kind }

// WriteSample sends one media sample to every bound connection.
func (t *Track) WriteSample(s media.Sample) error {
	return t.local.WriteSample(s)
}

// RemoteTrack wraps an inbound pion track.
type RemoteTrack struct {
	Remote *pion.TrackRemote
}

func (r *RemoteTrack) ID() string { return r.Remote.ID() }

func (r *RemoteTrack) StreamID() string { return r.Remote.StreamID() }

func (r *RemoteTrack) Kind() domain.TrackKind {
	if r.Remote.Kind() == pion.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

// Drain reads and discards the track until it ends.
func (r *RemoteTrack) Drain() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := r.Remote.Read(buf); err != nil {
			return
		}
	}
}

// WriteH264 depacketizes the track into an Annex-B H264 elementary stream
// on w until the track ends.
func (r *RemoteTrack) WriteH264(w io.Writer) error {
	depack := NewH264Depacketizer()

	for {
		pkt, _, err := r.Remote.ReadRTP()
		if err != nil {
			return fmt.Errorf("video track read: %w", err)
		}
		if err := depack.WriteAnnexB(w, pkt.SequenceNumber, pkt.Payload); err != nil {
			return err
		}
	}
}
