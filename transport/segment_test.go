package transport

import "testing"

func TestSegmentSingle(t *testing.T) {
	segs := Segment([]byte{1, 2, 3}, 0)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	h := ParseHeader(segs[0][0])
	if !h.Fir || !h.Fin {
		t.Errorf("header = %+v", h)
	}
}

func TestSegmentSplitsLargeFragment(t *testing.T) {
	data := make([]byte, MaxSegmentData+10)
	segs := Segment(data, 5)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	h0 := ParseHeader(segs[0][0])
	h1 := ParseHeader(segs[1][0])
	if !h0.Fir || h0.Fin {
		t.Errorf("first header = %+v", h0)
	}
	if h1.Fir || !h1.Fin {
		t.Errorf("second header = %+v", h1)
	}
	if h0.Seq != 5 || h1.Seq != 6 {
		t.Errorf("seqs = %d, %d", h0.Seq, h1.Seq)
	}
}
