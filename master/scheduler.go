package master

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pascaldekloe/dnp3/channel"
	"github.com/pascaldekloe/dnp3/link"
	"github.com/pascaldekloe/dnp3/objects"
	"github.com/pascaldekloe/dnp3/transport"
)

// tickInterval bounds how promptly a due auto task, poll or keepalive is
// noticed once no request/response cycle is in flight.
const tickInterval = 100 * time.Millisecond

type frameMsg struct {
	header link.Header
	body   []byte
	err    error
}

type connEvent struct {
	conn io.ReadWriteCloser
	err  error
}

// Session is one channel's request/response scheduler: it owns the
// physical connection handed to it by a channel.Supervisor, serializes
// every association's traffic over it (one transaction in flight at a
// time, as a shared link permits), and runs the priority cycle named by
// the session scheduler: a queued user task outranks a due auto task,
// which outranks a due poll, which outranks an idle keepalive.
type Session struct {
	config               ChannelConfig
	communicationEnabled bool
	associations         map[link.EndpointAddress]*Association
	associationOrder     []link.EndpointAddress
	log                  *logrus.Entry

	sup       *channel.Supervisor
	conn      io.ReadWriteCloser
	linkState *link.State

	reassemblers map[uint16]*transport.Reassembler

	frames     chan frameMsg
	connEvents chan connEvent
	cmds       chan command
	shutdown   chan struct{}
	closed     chan struct{}

	pending          Task
	pendingIsAuto    bool
	pendingKind      autoTaskKind
	pendingKeepAlive bool
	pendingAddr      link.EndpointAddress
	pendingSeq       uint8
	pendingSentAt    time.Time
	responseTimer    *time.Timer
	tickTimer        *time.Timer
}

// busy reports whether a request/response cycle (task or keepalive) is
// already in flight, so at most one runs at a time over the shared link.
func (s *Session) busy() bool { return s.pending != nil || s.pendingKeepAlive }

// NewChannel starts a Session over endpoints (tried in order, with failover
// to the next on dial failure and a reset to the primary on success),
// returning the Handle through which the application controls it. The
// Session runs in its own goroutine until its Handle is shut down.
func NewChannel(endpoints []channel.Endpoint, cfg ChannelConfig, log *logrus.Entry) *Handle {
	cfg.check()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Session{
		config:       cfg,
		associations: make(map[link.EndpointAddress]*Association),
		log:          log,
		linkState:    link.NewState(""),
		reassemblers: make(map[uint16]*transport.Reassembler),
		frames:       make(chan frameMsg, 4),
		connEvents:   make(chan connEvent, 4),
		cmds:         make(chan command),
		shutdown:     make(chan struct{}),
		closed:       make(chan struct{}),
		tickTimer:    time.NewTimer(tickInterval),
	}
	s.sup = channel.NewSupervisor(endpoints, cfg.ResponseTimeout, time.Minute,
		func(c io.ReadWriteCloser) { s.connEvents <- connEvent{conn: c} },
		func(err error) { s.connEvents <- connEvent{err: err} },
		log)
	go s.run()
	return newHandle(s.cmds, s.closed, s.shutdown)
}

func (s *Session) run() {
	defer close(s.closed)
	defer s.sup.Shutdown()
	defer func() {
		if s.conn != nil {
			s.conn.Close()
		}
	}()

	for {
		var timeoutC <-chan time.Time
		if s.responseTimer != nil {
			timeoutC = s.responseTimer.C
		}

		select {
		case <-s.shutdown:
			s.drainAllTasks()
			return

		case cmd := <-s.cmds:
			cmd.done <- cmd.fn(s)

		case ev := <-s.connEvents:
			s.handleConnEvent(ev)

		case fm := <-s.frames:
			if fm.err != nil {
				s.log.WithError(fm.err).Warn("dnp3: link read error")
				s.reportConnectionLost(fm.err)
				continue
			}
			s.handleFrame(fm.header, fm.body)

		case <-timeoutC:
			s.timeoutPending()

		case <-s.tickTimer.C:
			s.maybeStartNext()
			s.tickTimer.Reset(tickInterval)
		}
	}
}

// drainAllTasks fails every in-flight and queued task with Shutdown, so no
// caller blocked on a one-shot completion sink hangs past Handle.Shutdown.
func (s *Session) drainAllTasks() {
	if s.pending != nil {
		s.pending.OnTaskError(ReasonShutdown, ErrShutdown)
		s.pending = nil
	}
	s.pendingKeepAlive = false
	for _, assoc := range s.associations {
		for _, t := range assoc.DrainQueue() {
			t.OnTaskError(ReasonShutdown, ErrShutdown)
		}
	}
}

func (s *Session) handleConnEvent(ev connEvent) {
	if ev.conn != nil {
		s.conn = ev.conn
		go s.readLoop(ev.conn)
		return
	}
	// The supervisor already knows about this failure (it is the one that
	// reported it); only local bookkeeping needs updating here.
	s.failConnection()
}

// reportConnectionLost is called when the session itself discovers the
// connection is broken (a read or write error), so it must tell the
// supervisor to start reconnecting.
func (s *Session) reportConnectionLost(err error) {
	s.failConnection()
	s.sup.ConnectionLost(err)
}

func (s *Session) failConnection() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.pendingKeepAlive = false
	if s.pending != nil {
		s.pending.OnTaskError(ReasonNoConnection, ErrNoConnection)
		s.finishPending(ErrNoConnection)
	}
}

func (s *Session) readLoop(conn io.Reader) {
	var buf []byte
	tmp := make([]byte, 4096)
	framer := link.NewFramer(s.config.LinkErrorMode)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			s.frames <- frameMsg{err: err}
			return
		}
		for {
			c := link.NewCursor(buf)
			hdr, body, perr := framer.Parse(c)
			if perr != nil {
				s.frames <- frameMsg{err: perr}
				return
			}
			if hdr == nil {
				// The framer keeps the state of a partial frame, so the
				// bytes it has already consumed are not fed to it again.
				buf = buf[c.Pos():]
				if s.config.LinkReadMode == link.Datagram {
					framer.Reset()
					buf = nil
				}
				break
			}
			buf = buf[c.Pos():]
			select {
			case s.frames <- frameMsg{header: *hdr, body: body}:
			case <-s.closed:
				return
			}
		}
	}
}

func (s *Session) handleFrame(h link.Header, body []byte) {
	if err := link.ValidateSource(h); err != nil {
		s.log.WithError(err).Warn("dnp3: rejecting frame")
		return
	}

	if link.Classify(h) == link.KindLinkStatusResponse {
		if s.pendingKeepAlive && h.Source == s.pendingAddr.Value() {
			s.pendingKeepAlive = false
			if s.responseTimer != nil {
				s.responseTimer.Stop()
			}
		}
		return
	}

	info, _, ok := s.linkState.UserData(h)
	if !ok || len(body) == 0 {
		return
	}

	th := transport.ParseHeader(body[0])
	r, ok := s.reassemblers[h.Source]
	if !ok {
		r = transport.New(func(msg string) { s.log.Debug(msg) })
		s.reassemblers[h.Source] = r
	}
	r.Push(th, info, body[1:])

	frag, ok := r.Pop()
	if !ok {
		return
	}
	f, err := objects.Parse(frag.Data)
	if err != nil {
		s.log.WithError(err).Warn("dnp3: malformed application fragment")
		return
	}
	s.handleFragment(h.Source, f)
}

func (s *Session) handleFragment(source uint16, f objects.ParsedFragment) {
	addr, err := link.NewEndpointAddress(source)
	if err != nil {
		return
	}
	assoc, ok := s.associations[addr]
	if !ok {
		return
	}
	if f.Function.IsResponse() {
		assoc.HandleIIN(f.IIN)
	}

	if f.Function == objects.UnsolicitedResponse {
		s.handleUnsolicited(addr, assoc, f)
		return
	}

	if s.pending == nil || addr != s.pendingAddr {
		return
	}
	if f.Control.Seq != s.pendingSeq {
		s.log.WithFields(logrus.Fields{"addr": addr, "want": s.pendingSeq, "got": f.Control.Seq}).
			Warn("dnp3: response sequence mismatch, still waiting")
		return
	}
	s.handleSolicited(addr, assoc, f)
}

func (s *Session) handleUnsolicited(addr link.EndpointAddress, assoc *Association, f objects.ParsedFragment) {
	if !assoc.AcceptUnsolicited(f) {
		return
	}
	assoc.info.UnsolicitedResponseReceived()
	if f.Control.Con {
		s.sendConfirm(addr, f.Control.Seq, true)
	}
	assoc.readHandler.BeginFragment()
	assoc.readHandler.Headers(f.Headers)
	assoc.readHandler.EndFragment()
}

func (s *Session) handleSolicited(addr link.EndpointAddress, assoc *Association, f objects.ParsedFragment) {
	if tt, ok := s.pending.(TimedTask); ok {
		tt.RecordRoundTrip(time.Since(s.pendingSentAt))
	}

	if s.pending.ReadTask() && !f.Control.Fin {
		if !f.Control.Con {
			s.pending.OnTaskError(ReasonBadResponse, ErrNonFinWithoutCon)
			s.finishPending(ErrNonFinWithoutCon)
			return
		}
		if _, err := s.pending.Handle(f); err != nil {
			s.pending.OnTaskError(ReasonBadResponse, err)
			s.finishPending(err)
			return
		}
		s.sendConfirm(addr, f.Control.Seq, false)
		s.pendingSeq = (s.pendingSeq + 1) & 0x0f
		s.resetResponseTimer()
		return
	}

	outcome, err := s.pending.Handle(f)
	if err != nil {
		s.pending.OnTaskError(ReasonBadResponse, err)
		s.finishPending(err)
		return
	}
	if f.Control.Con {
		s.sendConfirm(addr, f.Control.Seq, false)
	}
	if !outcome.Done && outcome.Next != nil {
		s.pending = outcome.Next
		s.sendRequest(addr, assoc, s.pending)
		return
	}
	s.finishPending(nil)
}

func (s *Session) sendConfirm(addr link.EndpointAddress, seq uint8, unsolicited bool) {
	w := objects.NewHeaderWriter(s.config.TxBufferSize)
	var err error
	if unsolicited {
		err = w.ConfirmUnsolicited(seq)
	} else {
		err = w.ConfirmSolicited(seq)
	}
	if err != nil {
		s.log.WithError(err).Warn("dnp3: failed to build confirm")
		return
	}
	s.writeFragment(addr, w.Bytes())
}

func (s *Session) masterAddress() uint16 { return s.config.MasterAddress.Value() }

func (s *Session) writeFragment(addr link.EndpointAddress, fragment []byte) {
	segs := transport.Segment(fragment, 0)
	for _, seg := range segs {
		ctrl := link.NewControl(true, false, false, link.FuncUnconfirmedUserData)
		frame := link.EncodeFrame(ctrl, addr.Value(), s.masterAddress(), seg)
		if !s.writeLinkFrame(frame) {
			return
		}
	}
}

// writeLinkFrame writes one already-encoded link frame, reporting any I/O
// failure to the channel supervisor so it can start reconnecting.
func (s *Session) writeLinkFrame(frame []byte) bool {
	if s.conn == nil {
		return false
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.log.WithError(err).Warn("dnp3: link write error")
		s.reportConnectionLost(err)
		return false
	}
	return true
}

func (s *Session) timeoutPending() {
	if s.pendingKeepAlive {
		s.log.WithField("addr", s.pendingAddr).Warn("dnp3: link status keepalive timed out")
		s.pendingKeepAlive = false
		s.reportConnectionLost(ErrResponseTimeout)
		return
	}
	if s.pending == nil {
		return
	}
	s.pending.OnTaskError(ReasonTimeout, ErrResponseTimeout)
	s.finishPending(ErrResponseTimeout)
}

func (s *Session) finishPending(err error) {
	if s.pendingIsAuto {
		if assoc, ok := s.associations[s.pendingAddr]; ok {
			if err != nil {
				assoc.auto.failure(s.pendingKind, time.Now())
			} else {
				assoc.MarkAutoTaskDone(s.pendingKind)
			}
		}
	}
	s.pending = nil
	if s.responseTimer != nil {
		s.responseTimer.Stop()
	}
}

func (s *Session) resetResponseTimer() {
	if s.responseTimer != nil {
		s.responseTimer.Stop()
	}
	s.responseTimer = time.NewTimer(s.config.ResponseTimeout)
}

// syncAssociationOrder reconciles the round-robin rotation with the current
// association map: entries that were removed drop out, keeping the rest in
// their existing relative order; newly added associations are appended at
// the back (lowest priority until they first produce a task).
func (s *Session) syncAssociationOrder() {
	kept := s.associationOrder[:0]
	seen := make(map[link.EndpointAddress]bool, len(s.associationOrder))
	for _, addr := range s.associationOrder {
		if _, ok := s.associations[addr]; ok {
			kept = append(kept, addr)
			seen[addr] = true
		}
	}
	s.associationOrder = kept
	for addr := range s.associations {
		if !seen[addr] {
			s.associationOrder = append(s.associationOrder, addr)
		}
	}
}

// rotateToBack moves addr to the end of the rotation, the "moves to last
// priority" fairness rule: once an association produces a task, every other
// association gets first refusal next cycle.
func (s *Session) rotateToBack(addr link.EndpointAddress) {
	for i, a := range s.associationOrder {
		if a == addr {
			s.associationOrder = append(append(s.associationOrder[:i:i], s.associationOrder[i+1:]...), addr)
			return
		}
	}
}

// maybeStartNext picks the next task to run, applying the session
// scheduler's five global priority levels in order: a queued user task from
// the current association (round-robin across associations), the next due
// auto task across all associations, the next due poll across all
// associations, the nearest keepalive deadline, else idle. Whichever
// association produces the chosen task moves to the back of the rotation.
func (s *Session) maybeStartNext() {
	if s.busy() || s.conn == nil || !s.communicationEnabled {
		return
	}
	s.syncAssociationOrder()
	now := time.Now()

	for _, addr := range s.associationOrder {
		assoc := s.associations[addr]
		if t, ok := assoc.NextUserTask(); ok {
			s.rotateToBack(addr)
			s.pendingIsAuto = false
			s.pending = t
			s.sendRequest(addr, assoc, t)
			return
		}
	}

	for _, addr := range s.associationOrder {
		assoc := s.associations[addr]
		if t, kind, ok := assoc.NextAutoTask(now); ok {
			s.rotateToBack(addr)
			s.pendingIsAuto = true
			s.pendingKind = kind
			s.pending = t
			s.sendRequest(addr, assoc, t)
			return
		}
	}

	for _, addr := range s.associationOrder {
		assoc := s.associations[addr]
		if t, ok := assoc.NextDuePoll(now); ok {
			s.rotateToBack(addr)
			s.pendingIsAuto = false
			s.pending = t
			s.sendRequest(addr, assoc, t)
			return
		}
	}

	var keepAliveAddr link.EndpointAddress
	var keepAliveAssoc *Association
	var nearest time.Time
	for _, addr := range s.associationOrder {
		assoc := s.associations[addr]
		if !assoc.KeepAliveDue(now) {
			continue
		}
		deadline := assoc.KeepAliveDeadline()
		if keepAliveAssoc == nil || deadline.Before(nearest) {
			keepAliveAddr, keepAliveAssoc, nearest = addr, assoc, deadline
		}
	}
	if keepAliveAssoc != nil {
		s.rotateToBack(keepAliveAddr)
		s.sendKeepAlive(keepAliveAddr, keepAliveAssoc)
	}
}

// sendKeepAlive issues a REQUEST_LINK_STATUS frame, a pure link-layer
// exchange with no application fragment, used to notice a dead connection
// when nothing else is due.
func (s *Session) sendKeepAlive(addr link.EndpointAddress, assoc *Association) {
	ctrl := link.NewControl(true, false, false, link.FuncRequestLinkStatus)
	frame := link.EncodeFrame(ctrl, addr.Value(), s.masterAddress(), nil)
	if !s.writeLinkFrame(frame) {
		return
	}
	s.pendingKeepAlive = true
	s.pendingAddr = addr
	now := time.Now()
	assoc.TouchKeepAlive(now)
	s.resetResponseTimer()
}

func (s *Session) sendRequest(addr link.EndpointAddress, assoc *Association, t Task) {
	w := objects.NewHeaderWriter(s.config.TxBufferSize)
	seq := assoc.NextAppSeq()
	ctrl := objects.ApplicationControl{Fir: true, Fin: true, Seq: seq}
	if err := w.StartRequest(ctrl, t.Function()); err != nil {
		t.OnTaskError(ReasonBadResponse, err)
		s.finishPending(err)
		return
	}
	if err := t.Write(w); err != nil {
		t.OnTaskError(ReasonBadResponse, err)
		s.finishPending(err)
		return
	}
	s.pendingAddr = addr
	s.pendingSeq = seq
	s.pendingSentAt = time.Now()
	s.writeFragment(addr, w.Bytes())
	assoc.TouchKeepAlive(s.pendingSentAt)
	s.resetResponseTimer()
}
