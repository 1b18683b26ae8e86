package master

import "github.com/pascaldekloe/dnp3/objects"

// ReadHandler receives the object headers carried by every response to a
// read task (startup integrity, event scan, poll or single read), fragment
// by fragment. BeginFragment/EndFragment bracket each response so a handler
// assembling a consistent snapshot knows where one fragment ends and the
// next begins; Headers may be called zero or more times per fragment.
type ReadHandler interface {
	BeginFragment()
	Headers(headers []objects.ObjectHeader)
	EndFragment()
}

// AssociationHandler reacts to protocol-level state changes scoped to one
// outstation. It reports restart detection only; the outcome of automatic
// time synchronization is not reported through it.
type AssociationHandler interface {
	// OutstationRestarted is invoked once after device_restart IIN is
	// observed and the clear_restart_iin auto task has been demanded.
	OutstationRestarted()
}

// AssociationInformation receives lifecycle notifications that are useful
// for monitoring but never change task outcomes: task start/completion and
// unsolicited response arrival.
type AssociationInformation interface {
	TaskStart(function objects.FunctionCode)
	TaskSuccess(function objects.FunctionCode)
	TaskFailure(function objects.FunctionCode, reason TaskErrorReason, err error)
	UnsolicitedResponseReceived()
}

// NopReadHandler discards every header; useful when an association is
// configured only to drive auto tasks with no application-level observer.
type NopReadHandler struct{}

func (NopReadHandler) BeginFragment()                        {}
func (NopReadHandler) Headers(headers []objects.ObjectHeader) {}
func (NopReadHandler) EndFragment()                           {}

// NopAssociationHandler implements AssociationHandler with no-ops.
type NopAssociationHandler struct{}

func (NopAssociationHandler) OutstationRestarted() {}

// NopAssociationInformation implements AssociationInformation with no-ops.
type NopAssociationInformation struct{}

func (NopAssociationInformation) TaskStart(objects.FunctionCode)   {}
func (NopAssociationInformation) TaskSuccess(objects.FunctionCode) {}
func (NopAssociationInformation) TaskFailure(objects.FunctionCode, TaskErrorReason, error) {}
func (NopAssociationInformation) UnsolicitedResponseReceived()                             {}
