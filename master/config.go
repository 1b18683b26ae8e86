// Package master implements the DNP3 master session core: the task model,
// per-outstation association state, and the session scheduler that drives
// requests, confirmations, retries and restart recovery.
package master

import (
	"fmt"
	"time"

	"github.com/pascaldekloe/dnp3/link"
)

// DecodeLevel gates how verbosely a layer logs the frames it handles.
type DecodeLevel int

const (
	Nothing DecodeLevel = iota
	Header
	Payload
)

func (l DecodeLevel) String() string {
	switch l {
	case Nothing:
		return "NOTHING"
	case Header:
		return "HEADER"
	case Payload:
		return "PAYLOAD"
	default:
		return fmt.Sprintf("DecodeLevel(%d)", int(l))
	}
}

// DecodeLevels groups the four decode gates named in the external
// interface: application, transport, link and physical layer.
type DecodeLevels struct {
	App       DecodeLevel
	Transport DecodeLevel
	Link      DecodeLevel
	Phys      DecodeLevel
}

// ChannelConfig governs one physical connection shared by all of its
// associations. The zero value for every field applies the default noted
// below; check panics on a value outside its documented range.
type ChannelConfig struct {
	// MasterAddress is this channel's own link address.
	MasterAddress link.EndpointAddress

	DecodeLevel DecodeLevels

	// ResponseTimeout bounds how long the scheduler waits for a reply to
	// a single request before failing the in-flight task. Default 5s.
	ResponseTimeout time.Duration

	// TxBufferSize bounds the largest application fragment this channel
	// will build. Must be >= 249 (one frame's worth of application
	// bytes). Default 2048.
	TxBufferSize int

	// RxBufferSize is the receive buffer size. Must be >= 2048. Default
	// 2048. It is validated only: reassembly always caps a fragment at
	// transport.MaxFragmentSize (2048 bytes), whatever this is set to.
	RxBufferSize int

	LinkErrorMode link.ErrorMode
	LinkReadMode  link.ReadMode
}

func (c *ChannelConfig) check() *ChannelConfig {
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 5 * time.Second
	} else if c.ResponseTimeout < 0 {
		panic("master: ResponseTimeout must be positive")
	}

	if c.TxBufferSize == 0 {
		c.TxBufferSize = 2048
	} else if c.TxBufferSize < 249 {
		panic("master: TxBufferSize must be >= 249")
	}

	if c.RxBufferSize == 0 {
		c.RxBufferSize = 2048
	} else if c.RxBufferSize < 2048 {
		panic("master: RxBufferSize must be >= 2048")
	}

	return c
}

// EventClasses is a bitmask over event classes 1, 2 and 3.
type EventClasses uint8

const (
	Class1 EventClasses = 1 << 0
	Class2 EventClasses = 1 << 1
	Class3 EventClasses = 1 << 2
)

// AllEventClasses is the union of classes 1, 2 and 3.
const AllEventClasses = Class1 | Class2 | Class3

// StartupClasses is a bitmask over the integrity-scan classes 0 (static
// data), 1, 2 and 3 (events).
type StartupClasses uint8

const (
	Class0 StartupClasses = 1 << 0
	Class1Startup StartupClasses = 1 << 1
	Class2Startup StartupClasses = 1 << 2
	Class3Startup StartupClasses = 1 << 3
)

// AllStartupClasses is the union of classes 0, 1, 2 and 3.
const AllStartupClasses = Class0 | Class1Startup | Class2Startup | Class3Startup

// TimeSyncProcedure selects how the association synchronizes the
// outstation's clock.
type TimeSyncProcedure int

const (
	// NoTimeSync disables automatic time synchronization.
	NoTimeSync TimeSyncProcedure = iota
	// LAN uses RecordCurrentTime, appropriate for a low-latency, low-jitter
	// link where one round trip's uncertainty is negligible.
	LAN
	// NonLAN uses DelayMeasure to estimate and subtract the outstation's
	// own processing delay before computing propagation delay.
	NonLAN
)

func (p TimeSyncProcedure) String() string {
	switch p {
	case NoTimeSync:
		return "None"
	case LAN:
		return "LAN"
	case NonLAN:
		return "NonLAN"
	default:
		return fmt.Sprintf("TimeSyncProcedure(%d)", int(p))
	}
}

// RetryStrategy bounds the exponential back-off applied to a failed auto
// task.
type RetryStrategy struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

func (r *RetryStrategy) check() *RetryStrategy {
	if r.MinDelay == 0 {
		r.MinDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = time.Minute
	}
	if r.MaxDelay < r.MinDelay {
		panic("master: RetryStrategy.MaxDelay must be >= MinDelay")
	}
	return r
}

// AssociationConfig governs one outstation's session behavior.
type AssociationConfig struct {
	DisableUnsolClasses EventClasses
	EnableUnsolClasses  EventClasses
	StartupIntegrityClasses StartupClasses

	AutoTimeSync TimeSyncProcedure

	RetryStrategy RetryStrategy

	// KeepAliveTimeout, if non-zero, triggers a link-status request after
	// this much time with no other link activity.
	KeepAliveTimeout time.Duration

	// AutoIntegrityOnBufferOverflow demands an integrity scan whenever
	// IIN reports event_buffer_overflow. Default true.
	AutoIntegrityOnBufferOverflow bool

	EventScanOnEvents EventClasses

	// MaxQueuedUserRequests bounds per-association request backpressure.
	// Default 16.
	MaxQueuedUserRequests int
}

func (c *AssociationConfig) check() *AssociationConfig {
	c.RetryStrategy.check()
	if c.MaxQueuedUserRequests == 0 {
		c.MaxQueuedUserRequests = 16
	} else if c.MaxQueuedUserRequests < 1 {
		panic("master: MaxQueuedUserRequests must be >= 1")
	}
	return c
}

// DefaultAssociationConfig returns the association defaults: unsolicited
// reporting for classes 1-3 is disabled at startup before the integrity
// scan and enabled again after it, startup classes cover 0-3, automatic
// time sync uses the non-LAN procedure, class 1-3 event IIN bits trigger an
// event scan, and buffer-overflow triggers an automatic integrity rescan.
func DefaultAssociationConfig() AssociationConfig {
	cfg := AssociationConfig{
		DisableUnsolClasses:           AllEventClasses,
		EnableUnsolClasses:            AllEventClasses,
		StartupIntegrityClasses:       AllStartupClasses,
		AutoTimeSync:                  NonLAN,
		AutoIntegrityOnBufferOverflow: true,
		EventScanOnEvents:             AllEventClasses,
	}
	cfg.check()
	return cfg
}
