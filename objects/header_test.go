package objects

import (
	"encoding/hex"
	"testing"
)

func TestParseRequestAllObjects(t *testing.T) {
	// READ, seq=1, group 60 var 1 (class 0), all objects.
	raw, err := hex.DecodeString("31013c0106")
	if err != nil {
		t.Fatal(err)
	}
	f, err := Parse(raw)
	if err != nil {
		t.Fatal("parse error:", err)
	}
	if f.Function != Read {
		t.Errorf("function = %s, want READ", f.Function)
	}
	if !f.Control.Fir || !f.Control.Fin || f.Control.Seq != 1 {
		t.Errorf("control = %+v", f.Control)
	}
	h, err := f.GetOnlyHeader()
	if err != nil {
		t.Fatal("get only header:", err)
	}
	if h.Group != 60 || h.Variation != 1 || h.Qualifier != AllObjects {
		t.Errorf("header = %+v", h)
	}
	if _, ok := h.Details.(AllObjectsDetails); !ok {
		t.Errorf("details = %T, want AllObjectsDetails", h.Details)
	}
}

func TestParseResponseIIN(t *testing.T) {
	// RESPONSE, seq=2, IIN1=0x80 (device_restart), IIN2=0, no objects.
	raw, err := hex.DecodeString("32818000")
	if err != nil {
		t.Fatal(err)
	}
	f, err := Parse(raw)
	if err != nil {
		t.Fatal("parse error:", err)
	}
	if f.Function != Response {
		t.Errorf("function = %s, want RESPONSE", f.Function)
	}
	if !f.IIN.DeviceRestart() {
		t.Error("expected device_restart IIN bit set")
	}
	if len(f.Headers) != 0 {
		t.Errorf("headers = %v, want none", f.Headers)
	}
}

func TestGetOnlyHeaderRejectsMultiple(t *testing.T) {
	f := ParsedFragment{Headers: []ObjectHeader{{}, {}}}
	if _, err := f.GetOnlyHeader(); err == nil {
		t.Fatal("expected UnexpectedHeaders error")
	}
}

func TestHeaderWriterClearRestart(t *testing.T) {
	w := NewHeaderWriter(2048)
	ctrl := ApplicationControl{Fir: true, Fin: true, Seq: 3}
	if err := w.StartRequest(ctrl, Write); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteClearRestart(); err != nil {
		t.Fatal(err)
	}
	got := hex.EncodeToString(w.Bytes())
	want := "3302" + "500107" + "0100"
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHeaderWriterOverflow(t *testing.T) {
	w := NewHeaderWriter(4)
	ctrl := ApplicationControl{Fir: true, Fin: true}
	if err := w.StartRequest(ctrl, Write); err != nil {
		t.Fatal(err)
	}
	err := w.WriteClearRestart()
	if _, ok := err.(ErrBufferTooSmall); !ok {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestParseResponseCountAndPrefixCapturesRaw(t *testing.T) {
	// RESPONSE, seq=1, IIN=0, group 12 var 1, count-and-prefix8, count=1,
	// prefix=7, 11-byte CROB echo body (all zero here).
	raw, err := hex.DecodeString("31810000" + "0c0117" + "01" + "07" + "0000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	f, err := Parse(raw)
	if err != nil {
		t.Fatal("parse error:", err)
	}
	h, err := f.GetOnlyHeader()
	if err != nil {
		t.Fatal("get only header:", err)
	}
	cp, ok := h.Details.(CountAndPrefixDetails)
	if !ok {
		t.Fatalf("details = %T, want CountAndPrefixDetails", h.Details)
	}
	if cp.Count != 1 || len(cp.Raw) != 12 {
		t.Errorf("count=%d raw=%x", cp.Count, cp.Raw)
	}
	items, err := SplitPrefixedItems(cp.Count, 1, 11, cp.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Prefix != 7 {
		t.Errorf("items = %+v", items)
	}
}

func TestApplicationControlRoundTrip(t *testing.T) {
	c := ApplicationControl{Fir: true, Fin: false, Con: true, Uns: false, Seq: 11}
	got := ParseApplicationControl(c.Byte())
	if got != c {
		t.Errorf("got %+v, want %+v", got, c)
	}
}
