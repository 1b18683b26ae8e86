package link

import "github.com/pascaldekloe/dnp3/internal/crc16"

// EncodeFrame builds one complete link frame: the 0x05 0x64 sync pair, the
// 6-octet header with its own CRC, and body carried in up to 16-byte blocks
// each trailed by its own CRC. len(body) must not exceed MaxFramePayload.
func EncodeFrame(ctrl Control, dest, src uint16, body []byte) []byte {
	fields := [6]byte{
		byte(5 + len(body)),
		byte(ctrl),
		byte(dest),
		byte(dest >> 8),
		byte(src),
		byte(src >> 8),
	}

	out := make([]byte, 0, HeaderLength+trailerLength(len(body)))
	out = append(out, Start1, Start2)
	out = append(out, fields[:]...)
	out = crc16.PutHeader(out, fields)

	for len(body) > 0 {
		n := len(body)
		if n > blockSize {
			n = blockSize
		}
		block := body[:n]
		out = append(out, block...)
		out = crc16.Put(out, block)
		body = body[n:]
	}
	return out
}
