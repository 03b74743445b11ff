package webrtc

import (
	"fmt"
	"io"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// Each viewer track owns one, so FU-A reassembly state is never shared.
type H264Depacketizer struct {
	fuaBuf    []byte
	fuaActive bool
	lastSeq   uint16
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from an RTP H264 payload.
// Handles single NAL, STAP-A, and FU-A packet types. A sequence gap inside
// a FU-A chain drops the partial NAL unit.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		return [][]byte{payload}

	case naluType == 24:
		return d.depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	if start {
		// Reconstruct NAL header: F+NRI from FU indicator + type from FU header
		d.fuaBuf = []byte{fnri | naluType}
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
		d.fuaActive = true
	} else {
		if !d.fuaActive || seq != d.lastSeq+1 {
			d.fuaBuf = nil
			d.fuaActive = false
			return nil
		}
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.lastSeq = seq

	if end {
		nalu := d.fuaBuf
		d.fuaBuf = nil
		d.fuaActive = false
		return [][]byte{nalu}
	}

	return nil
}

// WriteAnnexB depacketizes payload and writes each complete NAL unit to w
// prefixed with a start code.
func (d *H264Depacketizer) WriteAnnexB(w io.Writer, seq uint16, payload []byte) error {
	for _, nalu := range d.Depacketize(seq, payload) {
		if len(nalu) == 0 {
			continue
		}
		if _, err := w.Write(startCode); err != nil {
			return fmt.Errorf("write start code: %w", err)
		}
		if _, err := w.Write(nalu); err != nil {
			return fmt.Errorf("write nalu: %w", err)
		}
	}
	return nil
}
