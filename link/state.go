package link

import "fmt"

// FrameInfo names the origin of a user-data payload forwarded upward by the
// link state component: the outstation's link address, the master's own
// address as the destination, an optional physical address for datagram
// transports, and whether delivery used a broadcast destination.
type FrameInfo struct {
	Source      uint16
	Destination uint16
	PhysAddr    string // empty unless the transport is datagram-addressed
	Broadcast   bool
}

// Kind classifies a parsed frame by its link-layer role.
type Kind int

const (
	KindUnknown Kind = iota
	KindUserDataConfirmed
	KindUserDataUnconfirmed
	KindLinkStatusRequest
	KindLinkStatusResponse
	KindResetLinkStates
	KindAck
	KindNack
)

func (k Kind) String() string {
	switch k {
	case KindUserDataConfirmed:
		return "user-data(confirmed)"
	case KindUserDataUnconfirmed:
		return "user-data(unconfirmed)"
	case KindLinkStatusRequest:
		return "link-status-request"
	case KindLinkStatusResponse:
		return "link-status-response"
	case KindResetLinkStates:
		return "reset-link-states"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	default:
		return "unknown"
	}
}

// Classify determines a frame's Kind from its control octet, for the master
// role: honoring secondary link-status responses as keepalives, and naming
// primary-station functions the master may itself emit and see echoed back
// during loopback testing.
func Classify(h Header) Kind {
	fn := h.Control.FunctionCode()
	if h.Control.Prm() {
		switch fn {
		case FuncResetLinkStates:
			return KindResetLinkStates
		case FuncConfirmedUserData:
			return KindUserDataConfirmed
		case FuncUnconfirmedUserData:
			return KindUserDataUnconfirmed
		case FuncRequestLinkStatus:
			return KindLinkStatusRequest
		default:
			return KindUnknown
		}
	}
	switch fn {
	case FuncAck: // 0x00 shared with FuncResetLinkStates; secondary ACK
		return KindAck
	case FuncNack:
		return KindNack
	case FuncLinkStatus:
		return KindLinkStatusResponse
	default:
		return KindUnknown
	}
}

// State interprets link control bytes for the master role: classifying
// frames, honoring secondary link-status responses as keepalives, and
// forwarding user-data payloads upward with their FrameInfo. It holds no
// sequencing state and does no FCB/FCV tracking. It marks frames sent to a
// broadcast destination in FrameInfo; the rule that a broadcast must fit in
// one transport segment is applied by the transport reassembler.
type State struct {
	physAddr string // set for datagram transports; empty otherwise
}

// NewState returns a link-state component. physAddr names the datagram
// source address for UDP-like transports, or "" for stream transports.
func NewState(physAddr string) *State {
	return &State{physAddr: physAddr}
}

// UserData classifies h and, if it carries a user-data payload, returns the
// FrameInfo to forward upward together with whether the frame requires a
// link-layer confirmation (distinct from application-layer confirmation).
// ok is false for frames with no payload to forward (status, reset, ack).
func (s *State) UserData(h Header) (info FrameInfo, confirmed, ok bool) {
	kind := Classify(h)
	switch kind {
	case KindUserDataConfirmed, KindUserDataUnconfirmed:
		info = FrameInfo{
			Source:      h.Source,
			Destination: h.Destination,
			PhysAddr:    s.physAddr,
			Broadcast:   IsBroadcast(h.Destination),
		}
		return info, kind == KindUserDataConfirmed, true
	default:
		return FrameInfo{}, false, false
	}
}

// ErrBroadcastSource rejects a frame whose source is a broadcast address;
// the data model requires the core to reject broadcast as a source.
type ErrBroadcastSource struct{ Source uint16 }

func (e ErrBroadcastSource) Error() string {
	return fmt.Sprintf("dnp3: frame source %#04x is a broadcast address", e.Source)
}

// ValidateSource rejects h if its source address is a broadcast address.
func ValidateSource(h Header) error {
	if IsBroadcast(h.Source) {
		return ErrBroadcastSource{Source: h.Source}
	}
	return nil
}
