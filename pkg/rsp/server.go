// Package rsp implements the GDB Remote Serial Protocol endpoint of the
// debug bridge: a byte-driven framing state machine, the command
// dispatcher with the handler set needed to drive a halted CH32V003,
// and the write-coalescing flash page cache.
//
// The endpoint owns no I/O. The host loop feeds it one byte at a time
// through Tick and writes out whatever bytes it yields; everything
// target-side goes through the Target adapter. Target faults are logged
// and the debugger is answered as if the operation succeeded, matching
// the probe firmware this package descends from.
//
// Some documentation on the wire protocol:
// https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
// https://www.embecosm.com/appnotes/ean4/embecosm-howto-rsp-server-ean4-issue-2.html
package rsp

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Stats counts endpoint activity. Fields are atomics so a metrics
// collector can read them while the session goroutine is ticking.
type Stats struct {
	FramesRx     atomic.Uint64
	FramesTx     atomic.Uint64
	Nacks        atomic.Uint64
	BadChecksums atomic.Uint64
	ParseErrors  atomic.Uint64
	UnknownCmds  atomic.Uint64
	FlashPages   atomic.Uint64
	ChipErases   atomic.Uint64
	SectorErases atomic.Uint64
	PageErases   atomic.Uint64
}

// Endpoint is one RSP session: buffers, framing state, flash cache and
// the target adapter. It is strictly single-threaded; all methods must
// be called from the goroutine driving Tick.
type Endpoint struct {
	recv  RecvBuffer
	send  SendBuffer
	flash *FlashCache

	target Target
	log    logrus.FieldLogger
	stats  Stats

	state            framerState
	checksum         uint8
	expectedChecksum uint8

	// noReply suppresses the send phase for the current exchange;
	// only the kill command uses it.
	noReply bool
}

// NewEndpoint returns an endpoint driving t. The logger carries frame
// and handler diagnostics; pass logrus.StandardLogger() if in doubt.
func NewEndpoint(t Target, log logrus.FieldLogger) *Endpoint {
	e := &Endpoint{
		target: t,
		log:    log,
		state:  stateRecvPrefix,
	}
	e.flash = newFlashCache(t, &e.stats, log)
	return e
}

// Stats exposes the session counters for metrics collection.
func (e *Endpoint) Stats() *Stats { return &e.stats }

// Flash exposes the page cache, mainly for tests.
func (e *Endpoint) Flash() *FlashCache { return e.flash }

// Close flushes any staged flash page. The host loop must call it when
// the session ends so a trailing partial page is not silently dropped.
func (e *Endpoint) Close() {
	e.flash.Flush()
}

// handler table, scanned in order; the first entry whose name is a
// prefix of the packet body wins.
var handlerTab = []struct {
	name string
	fn   func(*Endpoint)
}{
	{"?", (*Endpoint).handleHaltReason},
	{"!", (*Endpoint).handleExtendedMode},
	{"\x03", (*Endpoint).handleBreak},
	{"c", (*Endpoint).handleContinue},
	{"D", (*Endpoint).handleDetach},
	{"g", (*Endpoint).handleReadRegs},
	{"G", (*Endpoint).handleWriteRegs},
	{"H", (*Endpoint).handleSetThread},
	{"k", (*Endpoint).handleKill},
	{"m", (*Endpoint).handleReadMem},
	{"M", (*Endpoint).handleWriteMem},
	{"p", (*Endpoint).handleReadReg},
	{"P", (*Endpoint).handleWriteReg},
	{"q", (*Endpoint).handleQuery},
	{"s", (*Endpoint).handleStep},
	{"R", (*Endpoint).handleRestart},
	{"v", (*Endpoint).handleV},
}

func hasPrefix(buf []byte, name string) bool {
	if len(buf) < len(name) {
		return false
	}
	return string(buf[:len(name)]) == name
}

// dispatch runs the handler for the packet in the receive buffer and
// leaves the reply in the send buffer. Unknown commands get the empty
// reply that the protocol defines as "unsupported".
func (e *Endpoint) dispatch() {
	var fn func(*Endpoint)
	for _, h := range handlerTab {
		if hasPrefix(e.recv.Buf, h.name) {
			fn = h.fn
			break
		}
	}

	e.noReply = false
	e.recv.Cursor = 0
	e.send.Clear()

	if fn == nil {
		e.log.WithField("packet", string(e.recv.Buf)).Debug("no handler for command")
		e.stats.UnknownCmds.Add(1)
		e.send.SetPacket("")
		return
	}

	fn(e)

	if e.noReply {
		return
	}
	if e.recv.Err {
		e.log.WithField("packet", string(e.recv.Buf)).Warn("parse failure for packet")
		e.stats.ParseErrors.Add(1)
		e.send.SetPacket("E00")
		return
	}
	if e.recv.Cursor != e.recv.Size() {
		e.log.WithField("leftover", string(e.recv.Buf[e.recv.Cursor:])).Debug("leftover text in packet")
	}
	if !e.send.Valid {
		e.log.WithField("packet", string(e.recv.Buf)).Warn("handler left an incomplete reply")
		e.send.SetPacket("")
	}
}
