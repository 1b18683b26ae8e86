package link

import "fmt"

// Control is the link-layer control octet: dir:1 | prm:1 | fcb/dfc:1 |
// fcv:1 | function:4. Interpretation of bit 5 depends on Prm.
type Control byte

// Bit masks, IEEE 1815 table 9-2.
const (
	ctrlDir  byte = 1 << 7
	ctrlPrm  byte = 1 << 6
	ctrlFcb  byte = 1 << 5
	ctrlFcv  byte = 1 << 4
	ctrlFunc byte = 0x0f
)

// Dir reports the DIR bit: true when the frame travels from the station
// that configured address 0 toward the station configured with address 1 --
// in practice, true for master-originated frames in most deployments.
func (c Control) Dir() bool { return byte(c)&ctrlDir != 0 }

// Prm reports whether this frame originates from the link's primary
// station (the one driving the FCB/FCV discipline).
func (c Control) Prm() bool { return byte(c)&ctrlPrm != 0 }

// Fcb returns the frame-count bit, valid only when Prm is true.
func (c Control) Fcb() bool { return byte(c)&ctrlFcb != 0 }

// Fcv returns the frame-count-valid bit, valid only when Prm is true.
func (c Control) Fcv() bool { return byte(c)&ctrlFcv != 0 }

// Dfc returns the data-flow-control bit, valid only when Prm is false.
func (c Control) Dfc() bool { return byte(c)&ctrlFcb != 0 }

// FunctionCode identifies the primary or secondary link function. See
// IEEE 1815 table 9-3 (primary) and 9-4 (secondary).
type FunctionCode byte

// Primary station function codes.
const (
	FuncResetLinkStates FunctionCode = 0x00
	FuncTestLinkStates  FunctionCode = 0x02
	FuncConfirmedUserData FunctionCode = 0x03
	FuncUnconfirmedUserData FunctionCode = 0x04
	FuncRequestLinkStatus FunctionCode = 0x09
)

// Secondary station function codes.
const (
	FuncAck          FunctionCode = 0x00
	FuncNack         FunctionCode = 0x01
	FuncLinkStatus   FunctionCode = 0x0B
	FuncNotSupported FunctionCode = 0x0F
)

func (c Control) FunctionCode() FunctionCode { return FunctionCode(byte(c) & ctrlFunc) }

func (f FunctionCode) String() string {
	switch f {
	case 0x00:
		return "RESET_LINK_STATES/ACK"
	case 0x01:
		return "NACK"
	case 0x02:
		return "TEST_LINK_STATES"
	case 0x03:
		return "CONFIRMED_USER_DATA"
	case 0x04:
		return "UNCONFIRMED_USER_DATA"
	case 0x09:
		return "REQUEST_LINK_STATUS"
	case 0x0B:
		return "LINK_STATUS"
	case 0x0F:
		return "NOT_SUPPORTED"
	default:
		return fmt.Sprintf("function<%#02x>", byte(f))
	}
}

// NewControl builds a primary-station control octet.
func NewControl(dir, fcb, fcv bool, fn FunctionCode) Control {
	var b byte = ctrlPrm | byte(fn)&ctrlFunc
	if dir {
		b |= ctrlDir
	}
	if fcb {
		b |= ctrlFcb
	}
	if fcv {
		b |= ctrlFcv
	}
	return Control(b)
}

// NewSecondaryControl builds a secondary-station control octet.
func NewSecondaryControl(dir, dfc bool, fn FunctionCode) Control {
	var b byte = byte(fn) & ctrlFunc
	if dir {
		b |= ctrlDir
	}
	if dfc {
		b |= ctrlFcb
	}
	return Control(b)
}

// Header is a decoded, CRC-validated link frame header.
type Header struct {
	Length      byte // wire length field: control + addresses + user data
	Control     Control
	Destination uint16
	Source      uint16
}

// UserDataLength returns the number of application/transport bytes the body
// carries: Length counts control(1) + destination(2) + source(2) plus this.
func (h Header) UserDataLength() int {
	return int(h.Length) - 5
}
