package rsp

// maxPacket bounds the unescaped body of one inbound packet. It matches
// the PacketSize advertised in qSupported.
const maxPacket = 32768

// RecvBuffer holds the unescaped body of the current inbound packet and
// a read cursor for the handlers. Parse failures set the sticky Err
// flag; once set, every take is a no-op returning zero, so handlers can
// parse a full header and check Err once before touching the target.
type RecvBuffer struct {
	Buf    []byte
	Cursor int
	Err    bool
}

func (r *RecvBuffer) Clear() {
	r.Buf = r.Buf[:0]
	r.Cursor = 0
	r.Err = false
}

// PutByte appends one unescaped body byte. Past maxPacket the byte is
// dropped and the error flag set.
func (r *RecvBuffer) PutByte(b byte) {
	if len(r.Buf) >= maxPacket {
		r.Err = true
		return
	}
	r.Buf = append(r.Buf, b)
}

// Size returns the number of body bytes in the buffer.
func (r *RecvBuffer) Size() int { return len(r.Buf) }

// Remaining reports how many bytes are left past the cursor.
func (r *RecvBuffer) Remaining() int { return len(r.Buf) - r.Cursor }

// TakeLiteral consumes exactly c or sets the error flag.
func (r *RecvBuffer) TakeLiteral(c byte) {
	if r.Err {
		return
	}
	if r.Cursor >= len(r.Buf) || r.Buf[r.Cursor] != c {
		r.Err = true
		return
	}
	r.Cursor++
}

// Match advances past prefix and returns true if the bytes at the
// cursor equal it exactly; otherwise the buffer is untouched.
func (r *RecvBuffer) Match(prefix string) bool {
	if r.Err || r.Remaining() < len(prefix) {
		return false
	}
	if string(r.Buf[r.Cursor:r.Cursor+len(prefix)]) != prefix {
		return false
	}
	r.Cursor += len(prefix)
	return true
}

// TakeChar consumes one raw byte.
func (r *RecvBuffer) TakeChar() byte {
	if r.Err {
		return 0
	}
	if r.Cursor >= len(r.Buf) {
		r.Err = true
		return 0
	}
	b := r.Buf[r.Cursor]
	r.Cursor++
	return b
}

// Skip discards n bytes.
func (r *RecvBuffer) Skip(n int) {
	if r.Err {
		return
	}
	if r.Remaining() < n {
		r.Err = true
		return
	}
	r.Cursor += n
}

// SkipRest moves the cursor to the end of the buffer.
func (r *RecvBuffer) SkipRest() { r.Cursor = len(r.Buf) }

// TakeHexU32 parses a plain most-significant-digit-first hex integer,
// as used for addresses, lengths, register indices and qXfer offsets.
// At least one hex digit is required.
func (r *RecvBuffer) TakeHexU32() uint32 {
	if r.Err {
		return 0
	}
	var v uint32
	digits := 0
	for r.Cursor < len(r.Buf) {
		d, ok := fromHex(r.Buf[r.Cursor])
		if !ok {
			break
		}
		v = v<<4 | uint32(d)
		r.Cursor++
		digits++
	}
	if digits == 0 {
		r.Err = true
		return 0
	}
	return v
}

// TakeHexI32 is TakeHexU32 with an optional leading minus, for thread
// ids like "-1".
func (r *RecvBuffer) TakeHexI32() int32 {
	if r.Err {
		return 0
	}
	neg := false
	if r.Cursor < len(r.Buf) && r.Buf[r.Cursor] == '-' {
		neg = true
		r.Cursor++
	}
	v := int32(r.TakeHexU32())
	if neg {
		v = -v
	}
	return v
}

// TakeHexWord parses exactly eight hex digits as a little-endian byte
// sequence: the first two digits are the low-order byte. Register and
// memory values travel in this form, mirroring PutHexU32 on the send
// side.
func (r *RecvBuffer) TakeHexWord() uint32 {
	if r.Err {
		return 0
	}
	if r.Remaining() < 8 {
		r.Err = true
		return 0
	}
	var v uint32
	for i := 0; i < 4; i++ {
		hi, ok1 := fromHex(r.Buf[r.Cursor])
		lo, ok2 := fromHex(r.Buf[r.Cursor+1])
		if !ok1 || !ok2 {
			r.Err = true
			return 0
		}
		v |= uint32(hi<<4|lo) << (8 * i)
		r.Cursor += 2
	}
	return v
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

const hexDigits = "0123456789abcdef"

func toHex(n byte) byte { return hexDigits[n&0xF] }
