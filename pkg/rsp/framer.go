package rsp

import "github.com/sirupsen/logrus"

// framerState is the position of the endpoint inside one
// request/reply/ack exchange. The machine loops; there is no terminal
// state.
type framerState int

const (
	stateRecvPrefix framerState = iota
	stateRecvPacket
	stateRecvEscape
	stateRecvSuffix1
	stateRecvSuffix2
	stateSendPrefix
	stateSendPacket
	stateSendEscape
	stateSendSuffix1
	stateSendSuffix2
	stateSendSuffix3
	stateRecvAck
)

// escaped bytes on the wire: always #, $, }; replies additionally
// escape * so it cannot start a run-length sequence.
func mustEscape(c byte) bool {
	return c == '#' || c == '$' || c == '}' || c == '*'
}

// Tick advances the exchange by at most one byte in each direction.
// Receive-side states consume in when inOK is set and yield nothing,
// except the + or - ack once the checksum is complete; send-side
// states ignore the input and yield one byte. The checksum
// on both sides covers the escaped bytes between $ and #, exclusive.
func (e *Endpoint) Tick(in byte, inOK bool) (out byte, outOK bool) {
	switch e.state {
	case stateRecvPrefix:
		if !inOK {
			return 0, false
		}
		switch in {
		case '$':
			e.recv.Clear()
			e.checksum = 0
			e.state = stateRecvPacket
		case 0x03:
			// GDB's interrupt is a bare byte outside any frame. Hand
			// it to the dispatcher as a one-byte command; the reply
			// goes through the normal send path, without an ack.
			e.recv.Clear()
			e.recv.PutByte(0x03)
			e.dispatch()
			e.state = stateSendPrefix
		}

	case stateRecvPacket:
		if !inOK {
			return 0, false
		}
		switch in {
		case '#':
			e.expectedChecksum = 0
			e.state = stateRecvSuffix1
		case '}':
			e.checksum += in
			e.state = stateRecvEscape
		default:
			e.checksum += in
			e.recv.PutByte(in)
		}

	case stateRecvEscape:
		if !inOK {
			return 0, false
		}
		e.checksum += in
		e.recv.PutByte(in ^ 0x20)
		e.state = stateRecvPacket

	case stateRecvSuffix1:
		if !inOK {
			return 0, false
		}
		d, _ := fromHex(in)
		e.expectedChecksum = e.expectedChecksum<<4 | d
		e.state = stateRecvSuffix2

	case stateRecvSuffix2:
		if !inOK {
			return 0, false
		}
		d, _ := fromHex(in)
		e.expectedChecksum = e.expectedChecksum<<4 | d

		if e.checksum != e.expectedChecksum {
			e.log.WithFields(logrus.Fields{
				"expected": e.expectedChecksum,
				"actual":   e.checksum,
			}).Warn("packet transmission error, rejecting frame")
			e.stats.BadChecksums.Add(1)
			e.state = stateRecvPrefix
			return '-', true
		}

		e.stats.FramesRx.Add(1)
		e.dispatch()
		if e.noReply {
			// kill explicitly has no reply frame
			e.state = stateRecvPrefix
		} else {
			e.state = stateSendPrefix
		}
		return '+', true

	case stateSendPrefix:
		e.checksum = 0
		e.send.Cursor = 0
		if e.send.Size() > 0 {
			e.state = stateSendPacket
		} else {
			e.state = stateSendSuffix1
		}
		return '$', true

	case stateSendPacket:
		c := e.send.Buf[e.send.Cursor]
		if mustEscape(c) {
			e.checksum += '}'
			e.state = stateSendEscape
			return '}', true
		}
		e.checksum += c
		e.send.Cursor++
		if e.send.Cursor == e.send.Size() {
			e.state = stateSendSuffix1
		}
		return c, true

	case stateSendEscape:
		c := e.send.Buf[e.send.Cursor] ^ 0x20
		e.checksum += c
		e.send.Cursor++
		if e.send.Cursor == e.send.Size() {
			e.state = stateSendSuffix1
		} else {
			e.state = stateSendPacket
		}
		return c, true

	case stateSendSuffix1:
		e.state = stateSendSuffix2
		return '#', true

	case stateSendSuffix2:
		e.state = stateSendSuffix3
		return toHex(e.checksum >> 4), true

	case stateSendSuffix3:
		e.stats.FramesTx.Add(1)
		e.state = stateRecvAck
		return toHex(e.checksum), true

	case stateRecvAck:
		if !inOK {
			return 0, false
		}
		switch in {
		case '+':
			e.state = stateRecvPrefix
		case '-':
			e.log.Warn("peer rejected frame, retransmitting")
			e.stats.Nacks.Add(1)
			// Retransmit the whole frame: SendPrefix resets the
			// checksum and send cursor and re-emits the $.
			e.state = stateSendPrefix
		default:
			e.log.WithField("byte", in).Debug("garbage ack byte discarded")
		}
	}

	return 0, false
}
