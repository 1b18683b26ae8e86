package master

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/pascaldekloe/dnp3/channel"
	"github.com/pascaldekloe/dnp3/link"
	"github.com/pascaldekloe/dnp3/objects"
	"github.com/pascaldekloe/dnp3/transport"
)

// pipeEndpoint returns a channel.Endpoint whose single Dial hands back one
// end of a net.Pipe, and the other end for a test's fake outstation to
// drive directly. The test dials exactly once; a second Dial attempt would
// only happen on reconnect, which these tests don't exercise.
func pipeEndpoint() (channel.Endpoint, net.Conn) {
	client, outstation := net.Pipe()
	return channel.Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		return client, nil
	}}, outstation
}

// readFrame decodes exactly one link frame from conn, blocking until it
// arrives.
func readFrame(t *testing.T, conn net.Conn) (link.Header, []byte) {
	t.Helper()
	var buf []byte
	tmp := make([]byte, 4096)
	framer := link.NewFramer(link.Close)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			t.Fatalf("outstation read: %v", err)
		}
		buf = append(buf, tmp[:n]...)
		c := link.NewCursor(buf)
		hdr, body, err := framer.Parse(c)
		if err != nil {
			t.Fatalf("outstation frame parse: %v", err)
		}
		if hdr != nil {
			return *hdr, body
		}
		buf = buf[c.Pos():]
	}
}

// writeResponse segments and frames a response fragment back to the
// master, using addr as link source and masterAddr as destination.
func writeResponse(t *testing.T, conn net.Conn, masterAddr, addr uint16, fragment []byte) {
	t.Helper()
	for _, seg := range transport.Segment(fragment, 0) {
		ctrl := link.NewControl(false, false, false, link.FuncUnconfirmedUserData)
		frame := link.EncodeFrame(ctrl, masterAddr, addr, seg)
		if _, err := conn.Write(frame); err != nil {
			t.Fatalf("outstation write: %v", err)
		}
	}
}

// rawHeader builds an object header with no trailing data, enough for a
// response whose task only inspects group/variation/qualifier.
func rawHeader(group, variation byte, qualifier objects.QualifierCode) []byte {
	return []byte{group, variation, byte(qualifier)}
}

type recordingHandler struct {
	end     int
	headers [][]objects.ObjectHeader
}

func (h *recordingHandler) BeginFragment() {}
func (h *recordingHandler) Headers(headers []objects.ObjectHeader) {
	h.headers = append(h.headers, headers)
}
func (h *recordingHandler) EndFragment() { h.end++ }

// TestSessionIntegrityThenUserReadCycle drives a Session end to end over a
// net.Pipe standing in for the physical connection: the unconditional
// startup integrity scan runs first, then a queued user read, each
// confirmed by a fake outstation built directly on the link/transport/
// objects packages.
func TestSessionIntegrityThenUserReadCycle(t *testing.T) {
	masterAddr, err := link.NewEndpointAddress(1)
	if err != nil {
		t.Fatal(err)
	}
	outstationAddr, err := link.NewEndpointAddress(1024)
	if err != nil {
		t.Fatal(err)
	}

	endpoint, outConn := pipeEndpoint()
	defer outConn.Close()

	handle := NewChannel([]channel.Endpoint{endpoint}, ChannelConfig{
		MasterAddress:   masterAddr,
		ResponseTimeout: 2 * time.Second,
	}, nil)
	defer handle.Shutdown()

	handler := &recordingHandler{}
	// A zeroed AssociationConfig demands only the unconditional startup
	// integrity scan (no disable/enable-unsolicited, no time sync), so
	// the wire exchange below is exactly one auto task followed by one
	// user task.
	cfg := AssociationConfig{}
	if err := handle.AddAssociation(outstationAddr, cfg, handler, NopAssociationHandler{}, NopAssociationInformation{}); err != nil {
		t.Fatalf("AddAssociation: %v", err)
	}
	if err := handle.EnableCommunication(true); err != nil {
		t.Fatalf("EnableCommunication: %v", err)
	}

	// 1. The startup integrity scan arrives first, with no object
	// headers since StartupIntegrityClasses is zero.
	hdr, body := readFrame(t, outConn)
	if hdr.Destination != outstationAddr.Value() || hdr.Source != masterAddr.Value() {
		t.Fatalf("integrity request addressed to %d from %d, want %d from %d", hdr.Destination, hdr.Source, outstationAddr.Value(), masterAddr.Value())
	}
	req, err := objects.Parse(body[1:])
	if err != nil {
		t.Fatalf("parse integrity request: %v", err)
	}
	if req.Function != objects.Read {
		t.Fatalf("integrity request function = %v, want Read", req.Function)
	}

	resp := []byte{objects.ApplicationControl{Fir: true, Fin: true, Seq: 0}.Byte(), byte(objects.Response), 0, 0}
	writeResponse(t, outConn, masterAddr.Value(), outstationAddr.Value(), resp)

	// 2. Only after the integrity cycle completes does a queued user
	// read get its turn.
	deadline := time.Now().Add(3 * time.Second)
	for handler.end == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.end != 1 {
		t.Fatalf("integrity EndFragment count = %d, want 1", handler.end)
	}

	userHandler := &recordingHandler{}
	build := func(w *objects.HeaderWriter) error { return w.WriteAllObjects(30, 1) }
	if err := handle.QueueTask(outstationAddr, NewSingleReadTask(build, userHandler, nil)); err != nil {
		t.Fatalf("QueueTask: %v", err)
	}

	hdr, body = readFrame(t, outConn)
	req, err = objects.Parse(body[1:])
	if err != nil {
		t.Fatalf("parse user read request: %v", err)
	}
	if req.Function != objects.Read {
		t.Fatalf("user request function = %v, want Read", req.Function)
	}
	if len(req.Headers) != 1 || req.Headers[0].Group != 30 || req.Headers[0].Variation != 1 {
		t.Fatalf("user request headers = %+v, want one group=30 variation=1 header", req.Headers)
	}

	userResp := []byte{objects.ApplicationControl{Fir: true, Fin: true, Seq: 1}.Byte(), byte(objects.Response), 0, 0}
	userResp = append(userResp, rawHeader(30, 1, objects.AllObjects)...)
	writeResponse(t, outConn, masterAddr.Value(), outstationAddr.Value(), userResp)

	deadline = time.Now().Add(3 * time.Second)
	for userHandler.end == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if userHandler.end != 1 || len(userHandler.headers) != 1 {
		t.Fatalf("user read handler = %+v, want exactly one EndFragment with headers", userHandler)
	}
	if len(userHandler.headers[0]) != 1 || userHandler.headers[0][0].Group != 30 {
		t.Fatalf("user read headers = %+v, want one group=30 header", userHandler.headers[0])
	}
}
