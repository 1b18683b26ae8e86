package objects

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFragmentTooShort rejects an application fragment shorter than its
// mandatory control/function (request) or control/function/IIN (response)
// prefix.
var ErrFragmentTooShort = errors.New("dnp3: application fragment shorter than its header")

// UnexpectedHeaders signals that a task expecting exactly one object header
// found zero or more than one. Restart and file tasks use this through
// GetOnlyHeader.
type UnexpectedHeaders struct {
	Count int
}

func (e UnexpectedHeaders) Error() string {
	return fmt.Sprintf("dnp3: expected exactly one object header, got %d", e.Count)
}

// ApplicationControl is the first octet of every application fragment:
// fir:1 | fin:1 | con:1 | uns:1 | seq:4.
type ApplicationControl struct {
	Fir bool
	Fin bool
	Con bool
	Uns bool
	Seq uint8 // 4-bit sequence, 0..15
}

// Byte encodes the control octet.
func (c ApplicationControl) Byte() byte {
	var b byte = c.Seq & 0x0f
	if c.Fir {
		b |= 0x20
	}
	if c.Fin {
		b |= 0x10
	}
	if c.Con {
		b |= 0x40
	}
	if c.Uns {
		b |= 0x80
	}
	return b
}

// ParseApplicationControl decodes an application control octet.
func ParseApplicationControl(b byte) ApplicationControl {
	return ApplicationControl{
		Fir: b&0x20 != 0,
		Fin: b&0x10 != 0,
		Con: b&0x40 != 0,
		Uns: b&0x80 != 0,
		Seq: b & 0x0f,
	}
}

// Details is a sum type over the four object-header encodings the core
// distinguishes: a range of flagged points, a count-and-prefix collection of
// events, an all-objects marker, or a free-format variation. Group/variation
// specific interpretation of the payload bytes is left to the caller.
type Details interface {
	isDetails()
}

// RangeDetails covers qualifiers Range8 and Range16: a start/stop index
// range of points. Data is empty for a request (the range carries no
// payload); for a response it is every point's undivided raw bytes, a
// group/variation specific layout this package leaves to the caller.
type RangeDetails struct {
	Start, Stop uint32
	Data        []byte
}

func (RangeDetails) isDetails() {}

// CountDetails covers qualifiers Count8 and Count16: a plain count of
// objects with no address prefix (used by time-sync, clear-restart and
// assign-class writes, and by restart-delay responses). Data
// follows the same request/response convention as RangeDetails.
type CountDetails struct {
	Count uint16
	Data  []byte
}

func (CountDetails) isDetails() {}

// PrefixedItem is one address-prefixed object within a CountAndPrefix
// header, as used for event reports and command echoes.
type PrefixedItem struct {
	Prefix uint32
	Data   []byte
}

// CountAndPrefixDetails covers qualifiers CountAndPrefix8/16. In a request
// fragment Raw is empty: the count/prefix pair carries no per-item payload
// until the caller appends one via HeaderWriter. In a response fragment Raw
// holds every item's prefix and data bytes undivided, since the item size is
// a group/variation property this package does not track; a caller that
// knows that size (a command task verifying its own echo, for instance)
// recovers the items with SplitPrefixedItems.
type CountAndPrefixDetails struct {
	Count uint16
	Raw   []byte
}

func (CountAndPrefixDetails) isDetails() {}

// AllObjectsDetails covers qualifier AllObjects: no range, no payload.
type AllObjectsDetails struct{}

func (AllObjectsDetails) isDetails() {}

// FreeFormatDetails covers qualifier FreeFormat16, used by file-transfer
// object groups (g70) whose payload is a single length-prefixed blob.
type FreeFormatDetails struct {
	Data []byte
}

func (FreeFormatDetails) isDetails() {}

// ObjectHeader names one object group/variation/qualifier triple together
// with its decoded details.
type ObjectHeader struct {
	Group     byte
	Variation byte
	Qualifier QualifierCode
	Details   Details
}

// ParsedFragment is the result of decoding an application-layer fragment:
// its control octet, function code, IIN (valid only when Function is a
// response), and the object headers it carries in wire order.
type ParsedFragment struct {
	Control  ApplicationControl
	Function FunctionCode
	IIN      IIN // zero for requests
	Headers  []ObjectHeader
}

// GetOnlyHeader returns the single object header in f, or an
// UnexpectedHeaders error if f carries zero or more than one.
func (f ParsedFragment) GetOnlyHeader() (ObjectHeader, error) {
	if len(f.Headers) != 1 {
		return ObjectHeader{}, UnexpectedHeaders{Count: len(f.Headers)}
	}
	return f.Headers[0], nil
}

// Parse decodes an application fragment. The object-header scan records
// group/variation/qualifier framing and raw per-header payload spans; it
// does not interpret the bit-exact layout of a particular group/variation,
// which is an external collaborator's concern. The scan is nonetheless
// sufficient for everything the master core dispatches on: function code,
// IIN, qualifier shape and header count.
func Parse(b []byte) (ParsedFragment, error) {
	var f ParsedFragment
	if len(b) < 2 {
		return f, ErrFragmentTooShort
	}
	f.Control = ParseApplicationControl(b[0])
	f.Function = FunctionCode(b[1])
	i := 2
	if f.Function.IsResponse() {
		if len(b) < 4 {
			return f, ErrFragmentTooShort
		}
		f.IIN = IIN{IIN1: b[2], IIN2: b[3]}
		i = 4
	}

	for i < len(b) {
		if i+3 > len(b) {
			return f, fmt.Errorf("dnp3: truncated object header at offset %d", i)
		}
		group, variation := b[i], b[i+1]
		qualifier, ok := ParseQualifierCode(b[i+2])
		if !ok {
			return f, fmt.Errorf("dnp3: unsupported qualifier %#02x at offset %d", b[i+2], i+2)
		}
		i += 3

		var details Details
		var err error
		details, i, err = parseDetails(qualifier, f.Function.IsResponse(), b, i)
		if err != nil {
			return f, err
		}

		f.Headers = append(f.Headers, ObjectHeader{
			Group:     group,
			Variation: variation,
			Qualifier: qualifier,
			Details:   details,
		})
	}
	return f, nil
}

// parseDetails decodes one header's qualifier-specific fields. A response
// fragment's data-bearing qualifiers (Range, Count, CountAndPrefix) consume
// every remaining byte as an opaque payload and end the scan there: this
// package has no group/variation size table to locate a following header
// reliably, so a response carrying more than one data-bearing header needs a
// caller that already knows those sizes. Request fragments never carry this
// ambiguity since their range/count qualifiers have no trailing payload.
func parseDetails(q QualifierCode, isResponse bool, b []byte, i int) (Details, int, error) {
	switch q {
	case Range8:
		if i+2 > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		start, stop := uint32(b[i]), uint32(b[i+1])
		i += 2
		data, i := consumeRemainder(isResponse, b, i)
		return RangeDetails{Start: start, Stop: stop, Data: data}, i, nil

	case Range16:
		if i+4 > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		start := uint32(binary.LittleEndian.Uint16(b[i:]))
		stop := uint32(binary.LittleEndian.Uint16(b[i+2:]))
		i += 4
		data, i := consumeRemainder(isResponse, b, i)
		return RangeDetails{Start: start, Stop: stop, Data: data}, i, nil

	case AllObjects:
		return AllObjectsDetails{}, i, nil

	case Count8:
		if i+1 > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		count := uint16(b[i])
		i++
		data, i := consumeRemainder(isResponse, b, i)
		return CountDetails{Count: count, Data: data}, i, nil

	case Count16:
		if i+2 > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		count := binary.LittleEndian.Uint16(b[i:])
		i += 2
		data, i := consumeRemainder(isResponse, b, i)
		return CountDetails{Count: count, Data: data}, i, nil

	case CountAndPrefix8, CountAndPrefix16:
		var count uint16
		if q == CountAndPrefix8 {
			if i+1 > len(b) {
				return nil, i, ErrFragmentTooShort
			}
			count = uint16(b[i])
			i++
		} else {
			if i+2 > len(b) {
				return nil, i, ErrFragmentTooShort
			}
			count = binary.LittleEndian.Uint16(b[i:])
			i += 2
		}
		raw, i := consumeRemainder(isResponse, b, i)
		return CountAndPrefixDetails{Count: count, Raw: raw}, i, nil

	case FreeFormat16:
		if i+2 > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		length := binary.LittleEndian.Uint16(b[i:])
		i += 2
		if i+int(length) > len(b) {
			return nil, i, ErrFragmentTooShort
		}
		data := b[i : i+int(length)]
		i += int(length)
		return FreeFormatDetails{Data: data}, i, nil

	default:
		return nil, i, fmt.Errorf("dnp3: unhandled qualifier %s", q)
	}
}

// consumeRemainder returns b[i:] as the data payload and advances i to
// len(b) when isResponse is true; a request qualifier never carries trailing
// data, so it leaves i untouched and returns nil.
func consumeRemainder(isResponse bool, b []byte, i int) ([]byte, int) {
	if !isResponse || i >= len(b) {
		return nil, i
	}
	return b[i:], len(b)
}

// SplitPrefixedItems re-divides a CountAndPrefixDetails.Raw blob into items
// of the given fixed size, for callers that know their own group/variation's
// wire layout (a command task verifying its SBO/operate echo, for example).
// prefixSize must be 1 (CountAndPrefix8) or 2 (CountAndPrefix16).
func SplitPrefixedItems(count uint16, prefixSize, itemSize int, raw []byte) ([]PrefixedItem, error) {
	stride := prefixSize + itemSize
	if len(raw) < int(count)*stride {
		return nil, ErrFragmentTooShort
	}
	items := make([]PrefixedItem, 0, count)
	off := 0
	for n := uint16(0); n < count; n++ {
		var prefix uint32
		if prefixSize == 1 {
			prefix = uint32(raw[off])
		} else {
			prefix = uint32(binary.LittleEndian.Uint16(raw[off:]))
		}
		data := raw[off+prefixSize : off+stride]
		items = append(items, PrefixedItem{Prefix: prefix, Data: data})
		off += stride
	}
	return items, nil
}
