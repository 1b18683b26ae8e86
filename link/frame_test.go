package link

import (
	"bytes"
	"testing"
)

func TestFramerCatchesBadStart1(t *testing.T) {
	f := NewFramer(Close)
	c := NewCursor([]byte{0x06})
	_, _, err := f.Parse(c)
	if _, ok := err.(UnexpectedStart1); !ok {
		t.Fatalf("err = %v, want UnexpectedStart1", err)
	}
	if !c.IsEmpty() {
		t.Error("cursor should be fully consumed")
	}
}

func TestFramerCatchesBadStart2(t *testing.T) {
	f := NewFramer(Close)
	c := NewCursor([]byte{0x05, 0x65})
	_, _, err := f.Parse(c)
	if _, ok := err.(UnexpectedStart2); !ok {
		t.Fatalf("err = %v, want UnexpectedStart2", err)
	}
	if !c.IsEmpty() {
		t.Error("cursor should be fully consumed")
	}
}

func TestFramerCatchesBadLength(t *testing.T) {
	f := NewFramer(Close)
	c := NewCursor([]byte{0x05, 0x64, 0x04, 0xC0, 0x01, 0x00, 0x00, 0x04, 0xE9, 0x21})
	_, _, err := f.Parse(c)
	if _, ok := err.(BadLength); !ok {
		t.Fatalf("err = %v, want BadLength", err)
	}
	if c.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", c.Remaining())
	}
}

func TestFramerCatchesBadHeaderCRC(t *testing.T) {
	// S2: header fields match RESET_LINK but the trailer CRC is off by one.
	f := NewFramer(Close)
	c := NewCursor([]byte{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04, 0xE9, 0x20})
	_, _, err := f.Parse(c)
	if err != ErrBadHeaderCRC {
		t.Fatalf("err = %v, want ErrBadHeaderCRC", err)
	}
	if c.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", c.Remaining())
	}
}

func TestFramerCatchesBadBodyCRC(t *testing.T) {
	data := []byte{
		0x05, 0x64, 0x14, 0xF3, 0x01, 0x00, 0x00, 0x04, 0x0A, 0x3B,
		0xC0, 0xC3, 0x01, 0x3C, 0x02, 0x06, 0x3C, 0x03, 0x06, 0x3C, 0x04, 0x06, 0x3C, 0x01,
		0x06, 0x9A, 0xFF,
	}
	f := NewFramer(Close)
	c := NewCursor(data)
	_, _, err := f.Parse(c)
	if err != ErrBadBodyCRC {
		t.Fatalf("err = %v, want ErrBadBodyCRC", err)
	}
	if c.Remaining() != 0 {
		t.Errorf("remaining = %d, want 0", c.Remaining())
	}
}

func TestFramerDiscardsLeadingGarbage(t *testing.T) {
	// S3: leading garbage precedes one valid reset-link frame.
	data := []byte{
		0x06, 0x05, 0x07, 0x05, 0x64, 0x05, 0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04,
		0xE9, 0x21,
	}
	f := NewFramer(Discard)
	c := NewCursor(data)
	h, payload, err := f.Parse(c)
	if err != nil {
		t.Fatal("parse error:", err)
	}
	if h == nil {
		t.Fatal("expected a frame")
	}
	if h.Destination != 1 || h.Source != 1024 {
		t.Errorf("header = %+v", h)
	}
	if len(payload) != 0 {
		t.Errorf("payload = %x, want empty", payload)
	}
}

func TestFramerParsesSequentially(t *testing.T) {
	resetLink := []byte{0x05, 0x64, 0x05, 0xC0, 0x01, 0x00, 0x00, 0x04, 0xE9, 0x21}
	ack := []byte{0x05, 0x64, 0x05, 0x00, 0x00, 0x04, 0x01, 0x00, 0x19, 0xA6}
	confirmUserData := []byte{
		0x05, 0x64, 0x14, 0xF3, 0x01, 0x00, 0x00, 0x04, 0x0A, 0x3B,
		0xC0, 0xC3, 0x01, 0x3C, 0x02, 0x06, 0x3C, 0x03, 0x06, 0x3C, 0x04, 0x06, 0x3C, 0x01,
		0x06, 0x9A, 0x12,
	}

	f := NewFramer(Close)

	c := NewCursor(resetLink)
	h, payload, err := f.Parse(c)
	if err != nil || h == nil {
		t.Fatalf("reset-link: h=%v err=%v", h, err)
	}
	if h.Destination != 1 || h.Source != 1024 || len(payload) != 0 || c.Remaining() != 0 {
		t.Errorf("reset-link header = %+v, remaining=%d", h, c.Remaining())
	}

	c = NewCursor(ack)
	h, payload, err = f.Parse(c)
	if err != nil || h == nil {
		t.Fatalf("ack: h=%v err=%v", h, err)
	}
	if h.Destination != 1024 || h.Source != 1 || len(payload) != 0 {
		t.Errorf("ack header = %+v", h)
	}

	c = NewCursor(confirmUserData)
	h, payload, err = f.Parse(c)
	if err != nil || h == nil {
		t.Fatalf("confirm-user-data: h=%v err=%v", h, err)
	}
	if h.Destination != 1 || h.Source != 1024 {
		t.Errorf("confirm-user-data header = %+v", h)
	}
	wantPayload := []byte{0xC0, 0xC3, 0x01, 0x3C, 0x02, 0x06, 0x3C, 0x03, 0x06, 0x3C, 0x04, 0x06, 0x3C, 0x01, 0x06}
	if !bytes.Equal(payload, wantPayload) {
		t.Errorf("payload = %x, want %x", payload, wantPayload)
	}
}

func TestFramerIncompleteHeaderWaitsForMoreBytes(t *testing.T) {
	f := NewFramer(Close)
	c := NewCursor([]byte{0x05, 0x64, 0x05, 0xC0})
	h, payload, err := f.Parse(c)
	if h != nil || payload != nil || err != nil {
		t.Fatalf("expected (nil,nil,nil) on incomplete header, got (%v,%v,%v)", h, payload, err)
	}
}
