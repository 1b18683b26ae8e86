// Package transport implements the DNP3 transport layer: a segment
// reassembler that combines link-layer payloads into whole application
// fragments under FIR/FIN/sequence discipline.
package transport

import (
	"fmt"

	"github.com/pascaldekloe/dnp3/link"
)

// MaxFragmentSize bounds a reassembled fragment: an assembly that grows
// beyond this many bytes is discarded. The cap is fixed; a channel's
// configured receive buffer size does not change it.
const MaxFragmentSize = 2048

// Header is the 1-byte transport segment header: fin:1 | fir:1 | seq:6.
type Header struct {
	Fir bool
	Fin bool
	Seq uint8 // 6-bit, 0..63
}

// Byte encodes the header octet.
func (h Header) Byte() byte {
	b := h.Seq & 0x3f
	if h.Fir {
		b |= 0x40
	}
	if h.Fin {
		b |= 0x80
	}
	return b
}

// ParseHeader decodes a transport segment header octet.
func ParseHeader(b byte) Header {
	return Header{
		Fir: b&0x40 != 0,
		Fin: b&0x80 != 0,
		Seq: b & 0x3f,
	}
}

// Fragment is a complete, reassembled application-layer message together
// with the link frame info its first segment arrived on.
type Fragment struct {
	Info link.FrameInfo
	Data []byte
	ID   uint64 // monotonically increasing local assignment
}

type assemblyState int

const (
	stateEmpty assemblyState = iota
	stateRunning
	stateComplete
)

// Reassembler combines a run of transport segments sharing one link/phys
// address and a contiguous sequence into a Fragment. It holds the state of
// exactly one association's inbound stream; the session scheduler owns one
// Reassembler per association.
type Reassembler struct {
	state assemblyState

	info     link.FrameInfo
	lastSeq  uint8
	buf      []byte
	complete Fragment

	nextID uint64

	onWarn func(string)
}

// New returns an empty Reassembler. onWarn, if non-nil, receives a message
// for every discarded-segment condition (FIR mid-assembly, sequence gap,
// buffer overflow); a nil onWarn silently drops the diagnostic.
func New(onWarn func(string)) *Reassembler {
	if onWarn == nil {
		onWarn = func(string) {}
	}
	return &Reassembler{onWarn: onWarn}
}

func (r *Reassembler) warnf(format string, args ...any) {
	r.onWarn(fmt.Sprintf(format, args...))
}

// Push feeds one transport segment's header, payload and link origin into
// the reassembler. Assembly rules:
//
//  1. FIR always clears prior state; if FIR arrives mid-assembly, the
//     accumulated bytes are discarded and a warning logged.
//  2. A non-FIR segment received while Empty is dropped.
//  3. While Running, the new segment's link/phys address must match the
//     prior one's and its sequence must be (previous+1) mod 64; otherwise
//     state resets and the segment is dropped.
//  4. A broadcast segment is accepted only if FIR and FIN are both set.
//  5. On successful append, FIN transitions to Complete and assigns a
//     monotonically increasing local frame id.
//  6. Exceeding MaxFragmentSize clears state and reports a warning.
func (r *Reassembler) Push(h Header, info link.FrameInfo, payload []byte) {
	if info.Broadcast && !(h.Fir && h.Fin) {
		r.warnf("dnp3: dropping broadcast segment split across multiple transport segments")
		r.reset()
		return
	}

	if h.Fir {
		if r.state == stateRunning {
			r.warnf("dnp3: FIR received mid-assembly, discarding %d accumulated bytes", len(r.buf))
		}
		r.state = stateRunning
		r.info = info
		r.lastSeq = h.Seq
		r.buf = append(r.buf[:0], payload...)
	} else {
		switch r.state {
		case stateEmpty:
			r.warnf("dnp3: dropping non-FIR segment with no assembly in progress")
			return
		case stateComplete:
			r.warnf("dnp3: dropping segment while a completed fragment awaits pop")
			return
		}

		wantSeq := (r.lastSeq + 1) & 0x3f
		if info != r.info || h.Seq != wantSeq {
			r.warnf("dnp3: transport sequence/address mismatch (got seq=%d from %+v, want seq=%d from %+v), discarding assembly",
				h.Seq, info, wantSeq, r.info)
			r.reset()
			return
		}
		r.lastSeq = h.Seq
		r.buf = append(r.buf, payload...)
	}

	if len(r.buf) > MaxFragmentSize {
		r.warnf("dnp3: fragment exceeds %d bytes, discarding assembly", MaxFragmentSize)
		r.reset()
		return
	}

	if h.Fin {
		r.nextID++
		r.complete = Fragment{Info: r.info, Data: append([]byte(nil), r.buf...), ID: r.nextID}
		r.state = stateComplete
	}
}

// Pop returns the completed fragment, if any, and resets the reassembler to
// Empty. It returns (Fragment{}, false) when no fragment is ready.
func (r *Reassembler) Pop() (Fragment, bool) {
	if r.state != stateComplete {
		return Fragment{}, false
	}
	f := r.complete
	r.reset()
	return f, true
}

func (r *Reassembler) reset() {
	r.state = stateEmpty
	r.buf = r.buf[:0]
	r.complete = Fragment{}
}
