package transport

import "encoding/binary"

const (
	// MaxPayload is the largest payload carried by one packet.
	MaxPayload = 64 * 1024
	// MaxIDLen is the longest terminal ID the one-byte length prefix encodes.
	MaxIDLen = 255
)

// FramedSize returns the encoded size of a packet.
func FramedSize(idLen, payloadLen int) int {
	return 1 + idLen + 4 + payloadLen
}

// Frame encodes one packet as idLen:u8 | id | payloadLen:u32le | payload.
// It returns nil when the ID is empty or longer than MaxIDLen, or the payload
// exceeds MaxPayload.
func Frame(terminalID string, payload []byte) []byte {
	if len(terminalID) == 0 || len(terminalID) > MaxIDLen || len(payload) > MaxPayload {
		return nil
	}
	buf := make([]byte, FramedSize(len(terminalID), len(payload)))
	buf[0] = byte(len(terminalID))
	n := 1 + copy(buf[1:], terminalID)
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(payload)))
	copy(buf[n+4:], payload)
	return buf
}

// Split cuts data into consecutive sub-slices of at most limit bytes. The
// sub-slices alias data.
func Split(data []byte, limit int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = MaxPayload
	}
	parts := make([][]byte, 0, (len(data)+limit-1)/limit)
	for len(data) > limit {
		parts = append(parts, data[:limit:limit])
		data = data[limit:]
	}
	return append(parts, data)
}

// Packet is one decoded frame.
type Packet struct {
	TerminalID string
	Payload    []byte
}

// Decoder reassembles packets from a byte stream read out of a ring. Bytes of
// an incomplete trailing packet are kept until the next Feed.
type Decoder struct {
	buf []byte
}

// Feed appends p and returns every complete packet now available.
func (d *Decoder) Feed(p []byte) []Packet {
	d.buf = append(d.buf, p...)
	var out []Packet
	for {
		if len(d.buf) < 1 {
			break
		}
		idLen := int(d.buf[0])
		if len(d.buf) < 1+idLen+4 {
			break
		}
		payloadLen := int(binary.LittleEndian.Uint32(d.buf[1+idLen:]))
		total := FramedSize(idLen, payloadLen)
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, payloadLen)
		copy(payload, d.buf[1+idLen+4:total])
		out = append(out, Packet{TerminalID: string(d.buf[1 : 1+idLen]), Payload: payload})
		d.buf = d.buf[total:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Buffered returns the number of bytes held for an incomplete packet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
