package objects

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ErrBufferTooSmall signals that a fragment would overflow the configured
// transmit buffer.
type ErrBufferTooSmall struct {
	Want, Have int
}

func (e ErrBufferTooSmall) Error() string {
	return fmt.Sprintf("dnp3: application fragment needs %d bytes, buffer holds %d", e.Want, e.Have)
}

// HeaderWriter accumulates an application fragment into a bounded buffer.
// StartRequest (or a confirm helper) must be called exactly once before any
// Write* method.
type HeaderWriter struct {
	max int
	buf bytes.Buffer
}

// NewHeaderWriter returns a writer bounded to max bytes, mirroring the
// channel's configured tx_buffer_size.
func NewHeaderWriter(max int) *HeaderWriter {
	return &HeaderWriter{max: max}
}

// Bytes returns the fragment built so far.
func (w *HeaderWriter) Bytes() []byte { return w.buf.Bytes() }

// Remaining returns how many more bytes may be appended before Bytes would
// exceed max.
func (w *HeaderWriter) Remaining() int { return w.max - w.buf.Len() }

func (w *HeaderWriter) append(b []byte) error {
	if w.buf.Len()+len(b) > w.max {
		return ErrBufferTooSmall{Want: w.buf.Len() + len(b), Have: w.max}
	}
	w.buf.Write(b)
	return nil
}

// StartRequest resets w and writes the request control/function prefix.
func (w *HeaderWriter) StartRequest(ctrl ApplicationControl, fn FunctionCode) error {
	w.buf.Reset()
	return w.append([]byte{ctrl.Byte(), byte(fn)})
}

// ConfirmSolicited resets w to a Confirm fragment for a solicited response
// sequence, per the confirmation rules in the session scheduler.
func (w *HeaderWriter) ConfirmSolicited(seq uint8) error {
	ctrl := ApplicationControl{Fir: true, Fin: true, Seq: seq & 0x0f}
	return w.StartRequest(ctrl, Confirm)
}

// ConfirmUnsolicited resets w to a Confirm fragment acknowledging an
// unsolicited response sequence.
func (w *HeaderWriter) ConfirmUnsolicited(seq uint8) error {
	ctrl := ApplicationControl{Fir: true, Fin: true, Uns: true, Seq: seq & 0x0f}
	return w.StartRequest(ctrl, Confirm)
}

// writeHeaderPrefix appends a bare group/variation/qualifier triple with no
// trailing range/count, used by qualifiers that carry their count inline via
// a subsequent Write* call.
func (w *HeaderWriter) writeHeaderPrefix(group, variation byte, q QualifierCode) error {
	return w.append([]byte{group, variation, byte(q)})
}

// WriteClearRestart appends the group 80 variation 1 object used to clear
// the device_restart IIN bit, with an 8-bit count-of-one qualifier and a
// single zero-valued flag byte.
func (w *HeaderWriter) WriteClearRestart() error {
	if err := w.writeHeaderPrefix(80, 1, Count8); err != nil {
		return err
	}
	return w.append([]byte{1, 0})
}

// WriteCountOfOne appends a single object under an 8-bit count qualifier,
// as used by time-sync write and assign-class requests.
func (w *HeaderWriter) WriteCountOfOne(group, variation byte, obj []byte) error {
	if err := w.writeHeaderPrefix(group, variation, Count8); err != nil {
		return err
	}
	return w.append(append([]byte{1}, obj...))
}

// WritePrefixedItems appends a CountAndPrefix8 header with the given
// 1-byte-prefixed items, or a CountAndPrefix16 header with 2-byte prefixes
// when the item count or any prefix does not fit in one byte; used for
// Select/Operate/DirectOperate command requests.
func (w *HeaderWriter) WritePrefixedItems(group, variation byte, items []PrefixedItem) error {
	wide := len(items) > 0xff
	for _, it := range items {
		if it.Prefix > 0xff {
			wide = true
		}
	}
	if wide {
		return w.writePrefixedItems16(group, variation, items)
	}
	if err := w.writeHeaderPrefix(group, variation, CountAndPrefix8); err != nil {
		return err
	}
	if err := w.append([]byte{byte(len(items))}); err != nil {
		return err
	}
	for _, it := range items {
		if err := w.append([]byte{byte(it.Prefix)}); err != nil {
			return err
		}
		if err := w.append(it.Data); err != nil {
			return err
		}
	}
	return nil
}

func (w *HeaderWriter) writePrefixedItems16(group, variation byte, items []PrefixedItem) error {
	if err := w.writeHeaderPrefix(group, variation, CountAndPrefix16); err != nil {
		return err
	}
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(items)))
	if err := w.append(countBuf[:]); err != nil {
		return err
	}
	for _, it := range items {
		var prefixBuf [2]byte
		binary.LittleEndian.PutUint16(prefixBuf[:], uint16(it.Prefix))
		if err := w.append(prefixBuf[:]); err != nil {
			return err
		}
		if err := w.append(it.Data); err != nil {
			return err
		}
	}
	return nil
}

// WriteFreeFormat appends a FreeFormat16 header (group 70, the file-transfer
// object group family) with a 16-bit length-prefixed payload.
func (w *HeaderWriter) WriteFreeFormat(group, variation byte, data []byte) error {
	if err := w.writeHeaderPrefix(group, variation, FreeFormat16); err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(data)))
	if err := w.append(lenBuf[:]); err != nil {
		return err
	}
	return w.append(data)
}

// WriteAllObjects appends a bare all-objects header, as used by class-scan
// and integrity-scan read requests.
func (w *HeaderWriter) WriteAllObjects(group, variation byte) error {
	return w.writeHeaderPrefix(group, variation, AllObjects)
}
