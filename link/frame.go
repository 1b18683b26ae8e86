package link

import (
	"encoding/binary"

	"github.com/pascaldekloe/dnp3/internal/crc16"
)

type parseState int

const (
	stateFindSync1 parseState = iota
	stateFindSync2
	stateReadHeader
	stateReadBody
)

// Framer incrementally scans bytes for validated link frames. It holds no
// reference to any transport; callers feed it bytes through a Cursor and
// read frames back through Parse, so the same Framer works over a TCP
// stream, a serial byte stream, or a UDP datagram buffer.
type Framer struct {
	mode  ErrorMode
	state parseState

	header     Header
	trailerLen int
}

// NewFramer returns a Framer seeking the next frame's sync bytes, governed
// by the given error policy.
func NewFramer(mode ErrorMode) *Framer {
	return &Framer{mode: mode}
}

// Reset returns the framer to SeekStart1, discarding any partially parsed
// frame. Used after a Datagram-mode buffer is exhausted, and by the error
// recovery loop in Discard mode.
func (f *Framer) Reset() {
	f.state = stateFindSync1
}

// Parse consumes bytes from c and returns the next validated frame's header
// and user-data payload. It returns (nil, nil, nil) when c does not yet hold
// a complete frame; the caller should retain any unconsumed bytes and
// append more before calling again. In Close mode, a framing error is
// returned immediately and the cursor position reflects exactly the bytes
// examined. In Discard mode, a framing error is absorbed internally: the
// framer rewinds to where the failed attempt began, consumes exactly one
// byte, resets, and keeps scanning -- guaranteeing forward progress on every
// non-empty buffer it cannot frame.
func (f *Framer) Parse(c *Cursor) (*Header, []byte, error) {
	for {
		if f.mode == Close {
			return f.parseOnce(c)
		}

		start := c.Pos()
		header, payload, err := f.parseOnce(c)
		if err == nil {
			return header, payload, nil
		}

		c.SeekTo(start)
		if c.IsEmpty() {
			// Nothing left to discard; surface no frame and wait for
			// more bytes rather than spin.
			return nil, nil, nil
		}
		_, _ = c.ReadByte()
		f.Reset()
	}
}

// parseOnce runs the state machine until it either completes a frame,
// hits a framing error, or can make no further progress with the bytes
// currently available.
func (f *Framer) parseOnce(c *Cursor) (*Header, []byte, error) {
	for {
		start := c.Remaining()

		switch f.state {
		case stateFindSync1:
			if err := f.parseSync1(c); err != nil {
				return nil, nil, err
			}
		case stateFindSync2:
			if err := f.parseSync2(c); err != nil {
				return nil, nil, err
			}
		case stateReadHeader:
			if err := f.parseHeader(c); err != nil {
				return nil, nil, err
			}
		case stateReadBody:
			payload, done, err := f.parseBody(c)
			if err != nil {
				return nil, nil, err
			}
			if done {
				h := f.header
				f.state = stateFindSync1
				return &h, payload, nil
			}
		}

		if c.Remaining() == start {
			return nil, nil, nil
		}
	}
}

func (f *Framer) parseSync1(c *Cursor) error {
	if c.IsEmpty() {
		return nil
	}
	b, _ := c.ReadByte()
	if b != Start1 {
		return UnexpectedStart1{Got: b}
	}
	f.state = stateFindSync2
	return nil
}

func (f *Framer) parseSync2(c *Cursor) error {
	if c.IsEmpty() {
		return nil
	}
	b, _ := c.ReadByte()
	if b != Start2 {
		return UnexpectedStart2{Got: b}
	}
	f.state = stateReadHeader
	return nil
}

func (f *Framer) parseHeader(c *Cursor) error {
	if c.Remaining() < 8 {
		return nil
	}
	fields, err := c.ReadBytes(6)
	if err != nil {
		return err
	}
	var fieldArr [6]byte
	copy(fieldArr[:], fields)

	crcValue, err := c.ReadUint16LE()
	if err != nil {
		return err
	}

	length := fields[0]
	if length < MinLengthValue {
		return BadLength{Got: length}
	}

	if want := crc16.ComputeHeader(fieldArr); crcValue != want {
		return ErrBadHeaderCRC
	}

	f.header = Header{
		Length:      length,
		Control:     Control(fields[1]),
		Destination: binary.LittleEndian.Uint16(fields[2:4]),
		Source:      binary.LittleEndian.Uint16(fields[4:6]),
	}
	f.trailerLen = trailerLength(int(length) - 5)
	f.state = stateReadBody
	return nil
}

func (f *Framer) parseBody(c *Cursor) (payload []byte, done bool, err error) {
	if c.Remaining() < f.trailerLen {
		return nil, false, nil
	}
	body, err := c.ReadBytes(f.trailerLen)
	if err != nil {
		return nil, false, err
	}

	payload = make([]byte, 0, f.trailerLen)
	for len(body) > 0 {
		n := blockSizeWithCRC
		if n > len(body) {
			n = len(body)
		}
		block := body[:n]
		body = body[n:]

		if len(block) < crcLength+1 {
			return nil, false, BadLength{Got: byte(len(block))}
		}
		dataLen := len(block) - crcLength
		data := block[:dataLen]
		crcValue := binary.LittleEndian.Uint16(block[dataLen:])

		if want := crc16.Compute(data); crcValue != want {
			return nil, false, ErrBadBodyCRC
		}
		payload = append(payload, data...)
	}

	return payload, true, nil
}
