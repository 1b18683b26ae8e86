// Package channel owns physical connectivity for one DNP3 master channel:
// dialing, automatic reconnection with exponential back-off, and enable/
// disable control. It knows nothing about link frames or application
// fragments; it hands a live io.ReadWriteCloser to the session layer and
// tells it when that connection is gone.
package channel

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ErrShutdown reports that a channel has been shut down. Supervisor methods
// return no error: Enable, Disable and ConnectionLost called after Shutdown
// return without effect.
var ErrShutdown = errors.New("dnp3: channel shut down")

// Endpoint describes how to establish the physical connection. TCP and TLS
// constructors are provided; a caller may also build one directly for a
// serial or test transport.
type Endpoint struct {
	Dial func(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialTCP returns an Endpoint connecting to addr in plain TCP.
func DialTCP(addr string) Endpoint {
	return Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}}
}

// DialTLS returns an Endpoint connecting to addr over TLS, per
// SPEC_FULL.md's secure-transport variant.
func DialTLS(addr string, conf *tls.Config) Endpoint {
	return Endpoint{Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
		d := tls.Dialer{Config: conf}
		return d.DialContext(ctx, "tcp", addr)
	}}
}

// ExpandDNS resolves host into one Endpoint per address DNS returns, each
// dialing port in the order the resolver reported them ("first that
// resolves" is honored by trying them in that same order). Used to build a
// failover list for a single hostname that round-robins multiple A/AAAA
// records, without the caller needing to pre-resolve.
func ExpandDNS(ctx context.Context, host string, port int) ([]Endpoint, error) {
	var resolver net.Resolver
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, len(addrs))
	for i, addr := range addrs {
		target := net.JoinHostPort(addr, fmt.Sprint(port))
		endpoints[i] = DialTCP(target)
	}
	return endpoints, nil
}

// state is the supervisor's connectivity state machine: Disabled |
// Connecting | Connected | WaitAfterFail(d) | WaitAfterDisconnect(d) |
// Shutdown.
type state int

const (
	stateDisabled state = iota
	stateConnecting
	stateConnected
	stateWaitAfterFail
	stateWaitAfterDisconnect
	stateShutdown
)

// Supervisor drives a connect/reconnect life cycle over an ordered list of
// candidate endpoints. OnConnect is invoked with each newly established
// connection; OnDisconnect when a connection built by this supervisor is
// lost (including a failed dial attempt, reported as a nil conn error).
type Supervisor struct {
	endpoints    []Endpoint
	cursor       int
	retryMin     time.Duration
	retryMax     time.Duration
	onConnect    func(io.ReadWriteCloser)
	onDisconnect func(error)
	log          *logrus.Entry

	enable   chan bool
	extLost  chan error
	shutdown chan struct{}
	done     chan struct{}
}

// NewSupervisor starts the supervisor's control goroutine in the Disabled
// state; call Enable to begin connecting. endpoints is tried in order
// starting from the primary (index 0): a failed dial advances to the next
// endpoint in the list, wrapping around, while a successful connection
// moves the cursor back to the primary so failover never sticks to a
// secondary after the primary recovers.
func NewSupervisor(endpoints []Endpoint, retryMin, retryMax time.Duration, onConnect func(io.ReadWriteCloser), onDisconnect func(error), log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Supervisor{
		endpoints:    endpoints,
		retryMin:     retryMin,
		retryMax:     retryMax,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
		log:          log,
		enable:       make(chan bool),
		extLost:      make(chan error, 1),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// Enable starts (or resumes) the connect loop.
func (s *Supervisor) Enable() { s.setEnabled(true) }

// Disable stops the connect loop and drops any live connection.
func (s *Supervisor) Disable() { s.setEnabled(false) }

func (s *Supervisor) setEnabled(v bool) {
	select {
	case s.enable <- v:
	case <-s.done:
	}
}

// Shutdown stops the supervisor permanently.
func (s *Supervisor) Shutdown() {
	close(s.shutdown)
	<-s.done
}

func (s *Supervisor) run() {
	defer close(s.done)

	st := stateDisabled
	var cancel context.CancelFunc
	var live io.ReadWriteCloser // connection handed to onConnect, if any
	connLost := make(chan error, 1)
	connEstablished := make(chan io.ReadWriteCloser, 1)
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryMin
	bo.MaxInterval = s.retryMax
	bo.MaxElapsedTime = 0

	startConnecting := func() {
		st = stateConnecting
		ep := s.endpoints[s.cursor]
		ctx, c := context.WithCancel(context.Background())
		cancel = c
		go func() {
			conn, err := ep.Dial(ctx)
			if err != nil {
				select {
				case connLost <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case connEstablished <- conn:
			case <-ctx.Done():
				conn.Close()
			}
		}()
	}

	for {
		select {
		case <-s.shutdown:
			if cancel != nil {
				cancel()
			}
			st = stateShutdown
			return

		case v := <-s.enable:
			switch {
			case v && st == stateDisabled:
				bo.Reset()
				startConnecting()
			case !v && st != stateDisabled:
				if cancel != nil {
					cancel()
				}
				if live != nil {
					live.Close()
					live = nil
				}
				timer.Stop()
				st = stateDisabled
			}

		case conn := <-connEstablished:
			live = conn
			st = stateConnected
			bo.Reset()
			s.cursor = 0 // a successful connect always moves the cursor back to primary
			s.onConnect(conn)

		case err := <-connLost:
			s.log.WithError(err).WithField("endpoint", s.cursor).Debug("dnp3: connection attempt failed")
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
			if st == stateDisabled || st == stateShutdown {
				continue
			}
			s.cursor = (s.cursor + 1) % len(s.endpoints)
			st = stateWaitAfterFail
			timer.Reset(bo.NextBackOff())

		case <-timer.C:
			if st == stateWaitAfterFail || st == stateWaitAfterDisconnect {
				startConnecting()
			}

		case err := <-s.extLost:
			live = nil
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
			if st != stateConnected {
				continue
			}
			st = stateWaitAfterDisconnect
			timer.Reset(bo.NextBackOff())
		}
	}
}

// ConnectionLost must be called by the session layer when a live connection
// it was handed breaks, so the supervisor can start reconnecting.
func (s *Supervisor) ConnectionLost(err error) {
	select {
	case s.extLost <- err:
	case <-s.done:
	}
}
