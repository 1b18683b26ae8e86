package transport

// MaxSegmentData is the largest application-layer payload one transport
// segment carries, leaving one octet of the link frame's user-data budget
// for the transport header itself.
const MaxSegmentData = 250 - 1

// Segment splits an application fragment into transport-segment payloads
// (each still missing its link frame envelope), setting FIR on the first,
// FIN on the last, and a sequence number counting mod 64 from start.
func Segment(fragment []byte, startSeq uint8) [][]byte {
	if len(fragment) == 0 {
		h := Header{Fir: true, Fin: true, Seq: startSeq & 0x3f}
		return [][]byte{{h.Byte()}}
	}
	var segments [][]byte
	seq := startSeq & 0x3f
	for i := 0; i < len(fragment); i += MaxSegmentData {
		end := i + MaxSegmentData
		if end > len(fragment) {
			end = len(fragment)
		}
		h := Header{Fir: i == 0, Fin: end == len(fragment), Seq: seq}
		seg := make([]byte, 0, 1+end-i)
		seg = append(seg, h.Byte())
		seg = append(seg, fragment[i:end]...)
		segments = append(segments, seg)
		seq = (seq + 1) & 0x3f
	}
	return segments
}
