package channel

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakeConn struct{}

func (fakeConn) Read([]byte) (int, error)  { return 0, io.EOF }
func (fakeConn) Write([]byte) (int, error) { return 0, nil }
func (fakeConn) Close() error              { return nil }

func TestSupervisorConnects(t *testing.T) {
	connected := make(chan struct{}, 1)
	ep := Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		return fakeConn{}, nil
	}}
	s := NewSupervisor([]Endpoint{ep}, time.Millisecond, 10*time.Millisecond, func(io.ReadWriteCloser) {
		connected <- struct{}{}
	}, nil, nil)
	defer s.Shutdown()

	s.Enable()
	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("expected a connection callback")
	}
}

func TestSupervisorRetriesOnDialError(t *testing.T) {
	var attempts int
	connected := make(chan struct{}, 1)
	ep := Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("refused")
		}
		return fakeConn{}, nil
	}}
	s := NewSupervisor([]Endpoint{ep}, time.Millisecond, 10*time.Millisecond, func(io.ReadWriteCloser) {
		connected <- struct{}{}
	}, nil, nil)
	defer s.Shutdown()

	s.Enable()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connection after retrying")
	}
}

func TestSupervisorFailsOverToSecondaryEndpoint(t *testing.T) {
	var primaryAttempts, secondaryAttempts int
	connected := make(chan struct{}, 1)
	primary := Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		primaryAttempts++
		return nil, errors.New("primary unreachable")
	}}
	secondary := Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		secondaryAttempts++
		return fakeConn{}, nil
	}}
	s := NewSupervisor([]Endpoint{primary, secondary}, time.Millisecond, 10*time.Millisecond, func(io.ReadWriteCloser) {
		connected <- struct{}{}
	}, nil, nil)
	defer s.Shutdown()

	s.Enable()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connection via the secondary endpoint")
	}
	if primaryAttempts == 0 || secondaryAttempts == 0 {
		t.Fatalf("primaryAttempts=%d secondaryAttempts=%d, want both endpoints tried", primaryAttempts, secondaryAttempts)
	}
	if s.cursor != 0 {
		t.Fatalf("cursor = %d after a successful connect, want 0 (reset to primary)", s.cursor)
	}
}
