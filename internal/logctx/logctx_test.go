package logctx

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestFrameGatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.Out = &buf
	base.Level = logrus.TraceLevel

	e := New(logrus.NewEntry(base), "test-channel")
	e.SetLevel(Header)

	e.Frame(Payload, "full decode of %s", "frame")
	if buf.Len() != 0 {
		t.Fatalf("Payload-level frame logged at Header decode level: %q", buf.String())
	}

	e.Frame(Header, "header of %s", "frame")
	if buf.Len() == 0 {
		t.Fatal("Header-level frame not logged at Header decode level")
	}
}

func TestWithAssociationInheritsLevel(t *testing.T) {
	e := New(nil, "chan0")
	e.SetLevel(Nothing)
	assoc := e.WithAssociation("10")
	if assoc.Level() != Nothing {
		t.Fatalf("association entry level = %v, want Nothing", assoc.Level())
	}
}
