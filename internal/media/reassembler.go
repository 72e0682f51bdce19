package media

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Result tells the caller what a pushed payload produced. Unsupported or out
// of order payloads are dropped, never reported as errors.
type Result int

const (
	ResultPending Result = iota
	ResultFrame
	ResultDropped
)

func (r Result) String() string {
	switch r {
	case ResultPending:
		return "pending"
	case ResultFrame:
		return "frame"
	case ResultDropped:
		return "dropped"
	}
	return "unknown"
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

const (
	fuStart = 0x80
	fuEnd   = 0x40
)

// Reassembler rebuilds H.264 NAL units from single NAL (SPS/PPS) and FU-A
// payloads. It holds at most one unit in progress and is not safe for
// concurrent use.
type Reassembler struct {
	inProgress bool
	buf        []byte
}

// Push consumes one RTP payload. A completed unit is returned prefixed with
// the Annex B start code; the caller owns it.
func (r *Reassembler) Push(payload []byte) ([]byte, Result) {
	if len(payload) == 0 {
		return nil, ResultDropped
	}

	typ := h264.NALUType(payload[0] & 0x1F)
	switch typ {
	case h264.NALUTypeSPS, h264.NALUTypePPS:
		frame := make([]byte, 0, len(startCode)+len(payload))
		frame = append(frame, startCode...)
		return append(frame, payload...), ResultFrame
	case h264.NALUTypeFUA:
		return r.pushFragment(payload)
	}
	return nil, ResultDropped
}

func (r *Reassembler) pushFragment(payload []byte) ([]byte, Result) {
	if len(payload) < 2 {
		return nil, ResultDropped
	}
	indicator, header := payload[0], payload[1]
	start, end := header&fuStart != 0, header&fuEnd != 0

	switch {
	case start:
		// A new start discards any unit still in progress.
		r.buf = append(r.buf[:0], startCode...)
		r.buf = append(r.buf, (indicator&0xE0)|(header&0x1F))
		r.inProgress = true
	case !r.inProgress:
		return nil, ResultDropped
	}

	r.buf = append(r.buf, payload[2:]...)
	if !end {
		return nil, ResultPending
	}

	frame := r.buf
	r.buf = nil
	r.inProgress = false
	return frame, ResultFrame
}

// Reset drops any unit in progress.
func (r *Reassembler) Reset() {
	r.buf = nil
	r.inProgress = false
}

func (r *Reassembler) InProgress() bool {
	return r.inProgress
}
