package transport

import (
	"bytes"
	"testing"

	"github.com/pascaldekloe/dnp3/link"
)

func TestReassemblerSingleSegment(t *testing.T) {
	r := New(nil)
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: true, Fin: true, Seq: 5}, info, []byte{1, 2, 3})

	f, ok := r.Pop()
	if !ok {
		t.Fatal("expected a completed fragment")
	}
	if !bytes.Equal(f.Data, []byte{1, 2, 3}) {
		t.Errorf("data = %x", f.Data)
	}
	if _, ok := r.Pop(); ok {
		t.Error("second pop should find nothing")
	}
}

func TestReassemblerMultiSegment(t *testing.T) {
	r := New(nil)
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: true, Fin: false, Seq: 10}, info, []byte{0xAA})
	if _, ok := r.Pop(); ok {
		t.Fatal("should not be complete after first segment")
	}
	r.Push(Header{Fir: false, Fin: false, Seq: 11}, info, []byte{0xBB})
	r.Push(Header{Fir: false, Fin: true, Seq: 12}, info, []byte{0xCC})

	f, ok := r.Pop()
	if !ok {
		t.Fatal("expected completion on FIN")
	}
	if !bytes.Equal(f.Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("data = %x", f.Data)
	}
}

func TestReassemblerSequenceWraparound(t *testing.T) {
	r := New(nil)
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: true, Fin: false, Seq: 63}, info, []byte{1})
	r.Push(Header{Fir: false, Fin: true, Seq: 0}, info, []byte{2})
	if _, ok := r.Pop(); !ok {
		t.Fatal("expected completion across a sequence wraparound")
	}
}

func TestReassemblerDropsSequenceGap(t *testing.T) {
	var warned bool
	r := New(func(string) { warned = true })
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: true, Fin: false, Seq: 1}, info, []byte{1})
	r.Push(Header{Fir: false, Fin: true, Seq: 5}, info, []byte{2}) // gap

	if !warned {
		t.Error("expected a warning on sequence gap")
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("gap should discard the assembly, not complete it")
	}
}

func TestReassemblerFIRMidAssemblyRestarts(t *testing.T) {
	var warned bool
	r := New(func(string) { warned = true })
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: true, Fin: false, Seq: 1}, info, []byte{1, 2, 3})
	r.Push(Header{Fir: true, Fin: true, Seq: 7}, info, []byte{9})

	if !warned {
		t.Error("expected a warning for FIR mid-assembly")
	}
	f, ok := r.Pop()
	if !ok || !bytes.Equal(f.Data, []byte{9}) {
		t.Errorf("expected fresh assembly starting at the second FIR, got %+v ok=%v", f, ok)
	}
}

func TestReassemblerBroadcastRequiresSingleSegment(t *testing.T) {
	var warned bool
	r := New(func(string) { warned = true })
	info := link.FrameInfo{Source: 1024, Destination: link.BroadcastMandatory, Broadcast: true}
	r.Push(Header{Fir: true, Fin: false, Seq: 0}, info, []byte{1})

	if !warned {
		t.Error("expected a warning rejecting a multi-segment broadcast")
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("multi-segment broadcast must not complete")
	}
}

func TestReassemblerNonFIRWhileEmptyIsDropped(t *testing.T) {
	var warned bool
	r := New(func(string) { warned = true })
	info := link.FrameInfo{Source: 1024, Destination: 1}
	r.Push(Header{Fir: false, Fin: true, Seq: 0}, info, []byte{1})

	if !warned {
		t.Error("expected a warning for a non-FIR segment with nothing running")
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("should not complete")
	}
}
