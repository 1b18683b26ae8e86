package master

import (
	"sync"
	"time"

	"github.com/pascaldekloe/dnp3/link"
	"github.com/pascaldekloe/dnp3/objects"
)

// command is a single-use request submitted to the session loop, modeled on
// the teacher's Outbound: the caller blocks on done until the loop has run
// fn and reported its outcome.
type command struct {
	fn   func(*Session) error
	done chan error
}

// Handle is the thread-safe, user-facing entry point to one channel's
// session loop. Every method blocks until the loop has processed the
// request, mirroring the Caller.Send acceptance-confirmation idiom; none of
// them block on a remote response arriving over the wire.
type Handle struct {
	cmds     chan command
	closed   <-chan struct{}
	shutdown chan struct{}
	once     sync.Once
}

func newHandle(cmds chan command, closed <-chan struct{}, shutdown chan struct{}) *Handle {
	return &Handle{cmds: cmds, closed: closed, shutdown: shutdown}
}

// Shutdown stops the session loop and its channel supervisor permanently,
// blocking until both have fully stopped. Safe to call more than once.
func (h *Handle) Shutdown() {
	h.once.Do(func() { close(h.shutdown) })
	<-h.closed
}

func (h *Handle) submit(fn func(*Session) error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case h.cmds <- c:
	case <-h.closed:
		return ErrShutdown
	}
	select {
	case err := <-c.done:
		return err
	case <-h.closed:
		return ErrShutdown
	}
}

// EnableCommunication starts or stops the underlying channel supervisor's
// connect loop.
func (h *Handle) EnableCommunication(enable bool) error {
	return h.submit(func(s *Session) error {
		s.communicationEnabled = enable
		if enable {
			s.sup.Enable()
		} else {
			s.sup.Disable()
		}
		return nil
	})
}

// SetDecodeLevel replaces the channel's decode verbosity.
func (h *Handle) SetDecodeLevel(level DecodeLevels) error {
	return h.submit(func(s *Session) error {
		s.config.DecodeLevel = level
		return nil
	})
}

// GetDecodeLevel returns the channel's current decode verbosity.
func (h *Handle) GetDecodeLevel() (level DecodeLevels, err error) {
	err = h.submit(func(s *Session) error {
		level = s.config.DecodeLevel
		return nil
	})
	return level, err
}

// AddAssociation registers a new outstation on this channel.
func (h *Handle) AddAssociation(addr link.EndpointAddress, cfg AssociationConfig, readHandler ReadHandler, assocHandler AssociationHandler, info AssociationInformation) error {
	return h.submit(func(s *Session) error {
		if _, exists := s.associations[addr]; exists {
			return ErrNoSuchAssociation
		}
		s.associations[addr] = NewAssociation(addr, cfg, readHandler, assocHandler, info)
		return nil
	})
}

// RemoveAssociation drops an outstation's session state.
func (h *Handle) RemoveAssociation(addr link.EndpointAddress) error {
	return h.submit(func(s *Session) error {
		if _, ok := s.associations[addr]; !ok {
			return ErrNoSuchAssociation
		}
		delete(s.associations, addr)
		return nil
	})
}

// QueueTask enqueues a user task against addr's backlog.
func (h *Handle) QueueTask(addr link.EndpointAddress, task Task) error {
	return h.submit(func(s *Session) error {
		a, ok := s.associations[addr]
		if !ok {
			return ErrNoSuchAssociation
		}
		if s.conn == nil {
			return ErrNoConnection
		}
		return a.Enqueue(task)
	})
}

// AddPoll registers a periodic read against addr's poll map.
func (h *Handle) AddPoll(addr link.EndpointAddress, interval time.Duration, build func(w *objects.HeaderWriter) error, handler ReadHandler) (id uint32, err error) {
	err = h.submit(func(s *Session) error {
		a, ok := s.associations[addr]
		if !ok {
			return ErrNoSuchAssociation
		}
		id = a.AddPoll(interval, build, handler)
		return nil
	})
	return id, err
}

// RemovePoll unregisters a poll entry.
func (h *Handle) RemovePoll(addr link.EndpointAddress, id uint32) error {
	return h.submit(func(s *Session) error {
		a, ok := s.associations[addr]
		if !ok {
			return ErrNoSuchAssociation
		}
		a.RemovePoll(id)
		return nil
	})
}
