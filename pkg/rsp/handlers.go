package rsp

// Report why the CPU halted. The probe only ever holds the target in a
// debug halt, which GDB reads as a SIGINT stop.
func (e *Endpoint) handleHaltReason() {
	e.recv.TakeLiteral('?')
	e.send.SetPacket("T02")
}

// Enable extended mode.
func (e *Endpoint) handleExtendedMode() {
	e.recv.TakeLiteral('!')
	e.send.SetPacket("OK")
}

// Break (raw 0x03).
func (e *Endpoint) handleBreak() {
	e.recv.TakeLiteral(0x03)
	e.send.SetPacket("OK")
}

// Continue - "c<addr>". Run control is not supported; the empty reply
// tells GDB so.
func (e *Endpoint) handleContinue() {
	e.recv.TakeLiteral('c')
	e.recv.SkipRest()
	e.send.SetPacket("")
}

// Detach.
func (e *Endpoint) handleDetach() {
	e.recv.TakeLiteral('D')
	e.recv.SkipRest()
	e.send.SetPacket("OK")
}

// Read general registers: 16 GPRs then DPC, little-endian hex each.
func (e *Endpoint) handleReadRegs() {
	e.recv.TakeLiteral('g')
	if e.recv.Err {
		return
	}

	e.send.StartPacket()
	for i := 0; i < NumGPRs; i++ {
		v, err := e.target.GetGPR(i)
		if err != nil {
			e.log.WithError(err).WithField("gpr", i).Warn("gpr read failed")
		}
		e.send.PutHexU32(v)
	}
	dpc, err := e.target.GetCSR(CSRDPC)
	if err != nil {
		e.log.WithError(err).Warn("dpc read failed")
	}
	e.send.PutHexU32(dpc)
	e.send.EndPacket()
}

// Write general registers - "G<data>". Not supported; the registers
// are left unchanged and the empty reply tells GDB so.
func (e *Endpoint) handleWriteRegs() {
	e.recv.TakeLiteral('G')
	e.recv.SkipRest()
	e.send.SetPacket("")
}

// Set thread for subsequent operations - "H<op><id>". There is only
// one hart, so any selection succeeds; a malformed one keeps the E01
// reply the interface has always had.
func (e *Endpoint) handleSetThread() {
	e.recv.TakeLiteral('H')
	e.recv.Skip(1)
	e.recv.TakeHexI32()

	if e.recv.Err {
		e.recv.Err = false
		e.recv.SkipRest()
		e.send.SetPacket("E01")
		return
	}
	e.send.SetPacket("OK")
}

// Kill. 'k' explicitly does not have a reply.
func (e *Endpoint) handleKill() {
	e.recv.TakeLiteral('k')
	e.noReply = true
}

// Read memory - "m<addr>,<size>". Word-sized reads take the single-word
// fast path; anything larger goes through one block read.
func (e *Endpoint) handleReadMem() {
	e.recv.TakeLiteral('m')
	addr := e.recv.TakeHexU32()
	e.recv.TakeLiteral(',')
	size := e.recv.TakeHexU32()

	if e.recv.Err {
		return
	}

	if size == 4 {
		v, err := e.target.GetMem(addr)
		if err != nil {
			e.log.WithError(err).WithField("addr", addr).Warn("memory read failed")
		}
		e.send.StartPacket()
		e.send.PutHexU32(v)
		e.send.EndPacket()
		return
	}

	words := make([]uint32, size/4)
	if err := e.target.GetBlock(addr, words); err != nil {
		e.log.WithError(err).WithField("addr", addr).Warn("memory block read failed")
	}
	e.send.StartPacket()
	for _, w := range words {
		e.send.PutHexU32(w)
	}
	e.send.EndPacket()
}

// Write memory - "M<addr>,<len>:<data>". Only word-aligned writes of
// whole words are accepted. The data is parsed in full before the first
// target write so a malformed packet has no side effects.
func (e *Endpoint) handleWriteMem() {
	e.recv.TakeLiteral('M')
	addr := e.recv.TakeHexU32()
	e.recv.TakeLiteral(',')
	length := e.recv.TakeHexU32()
	e.recv.TakeLiteral(':')

	if e.recv.Err {
		return
	}
	if length%4 != 0 || addr%4 != 0 {
		e.recv.SkipRest()
		e.send.SetPacket("")
		return
	}

	words := make([]uint32, length/4)
	for i := range words {
		words[i] = e.recv.TakeHexWord()
	}
	if e.recv.Err {
		return
	}

	for i, w := range words {
		if err := e.target.SetMem(addr+uint32(i)*4, w); err != nil {
			e.log.WithError(err).WithField("addr", addr+uint32(i)*4).Warn("memory write failed")
		}
	}
	e.send.SetPacket("OK")
}

// Read the value of register N - "p<idx>". Index 16 is the DPC, the
// position it occupies in the g reply.
func (e *Endpoint) handleReadReg() {
	e.recv.TakeLiteral('p')
	idx := e.recv.TakeHexU32()
	if e.recv.Err {
		return
	}

	var v uint32
	var err error
	if idx == NumGPRs {
		v, err = e.target.GetCSR(CSRDPC)
	} else {
		v, err = e.target.GetGPR(int(idx))
	}
	if err != nil {
		e.log.WithError(err).WithField("reg", idx).Warn("register read failed")
	}

	e.send.StartPacket()
	e.send.PutHexU32(v)
	e.send.EndPacket()
}

// Write the value of register N - "P<idx>=<val>".
func (e *Endpoint) handleWriteReg() {
	e.recv.TakeLiteral('P')
	idx := e.recv.TakeHexU32()
	e.recv.TakeLiteral('=')
	val := e.recv.TakeHexWord()
	if e.recv.Err {
		return
	}

	var err error
	if idx == NumGPRs {
		err = e.target.SetCSR(CSRDPC, val)
	} else {
		err = e.target.SetGPR(int(idx), val)
	}
	if err != nil {
		e.log.WithError(err).WithField("reg", idx).Warn("register write failed")
	}
	e.send.SetPacket("OK")
}

func (e *Endpoint) handleQuery() {
	switch {
	case e.recv.Match("qAttached"):
		// '1': attached to an existing process.
		e.recv.SkipRest()
		e.send.SetPacket("1")

	case e.recv.Match("qC"):
		// Current thread id.
		e.send.SetPacket("QC0")

	case e.recv.Match("qfThreadInfo"):
		e.send.SetPacket("m0")

	case e.recv.Match("qsThreadInfo"):
		e.send.SetPacket("l")

	case e.recv.Match("qSupported"):
		// The feature list GDB offers is irrelevant to this stub.
		e.recv.SkipRest()
		e.send.SetPacket("PacketSize=32768;qXfer:memory-map:read+")

	case e.recv.Match("qXfer:"):
		if e.recv.Match("memory-map:read::") {
			e.recv.TakeHexU32()
			e.recv.TakeLiteral(',')
			e.recv.TakeHexU32()

			if e.recv.Err {
				e.recv.Err = false
				e.send.SetPacket("E00")
				return
			}
			// The document is far below PacketSize, so the offset and
			// length are accepted but the whole annex goes out at once.
			e.send.StartPacket()
			e.send.PutStr("l")
			e.send.PutStr(memoryMapXML)
			e.send.EndPacket()
			return
		}
		e.recv.SkipRest()
		e.send.SetPacket("")

	default:
		e.recv.SkipRest()
		e.send.SetPacket("")
	}
}

// Step. Not supported, like continue.
func (e *Endpoint) handleStep() {
	e.recv.TakeLiteral('s')
	e.recv.SkipRest()
	e.send.SetPacket("")
}

// Restart.
func (e *Endpoint) handleRestart() {
	e.recv.TakeLiteral('R')
	e.recv.SkipRest()
	e.send.SetPacket("")
}

func (e *Endpoint) handleV() {
	switch {
	case e.recv.Match("vCont"):
		e.recv.SkipRest()
		e.send.SetPacket("")

	case e.recv.Match("vFlash"):
		switch {
		case e.recv.Match("Write"):
			e.recv.TakeLiteral(':')
			addr := e.recv.TakeHexU32()
			e.recv.TakeLiteral(':')
			if e.recv.Err {
				return
			}
			// The framer has already unescaped the payload; every
			// remaining byte is raw data.
			for e.recv.Remaining() > 0 {
				e.flash.PutByte(addr, e.recv.TakeChar())
				addr++
			}
			e.send.SetPacket("OK")

		case e.recv.Match("Done"):
			e.flash.Flush()
			e.send.SetPacket("OK")

		case e.recv.Match("Erase"):
			e.recv.TakeLiteral(':')
			addr := e.recv.TakeHexU32()
			e.recv.TakeLiteral(',')
			size := e.recv.TakeHexU32()

			if e.recv.Err {
				e.log.Warn("bad vFlashErase packet")
				return
			}
			if err := e.flash.Erase(addr, size); err != nil {
				e.send.SetPacket("E00")
				return
			}
			e.send.SetPacket("OK")
		}

	case e.recv.Match("vKill"):
		e.recv.SkipRest()
		e.send.SetPacket("OK")

	case e.recv.Match("vMustReplyEmpty"):
		e.send.SetPacket("")

	default:
		e.recv.SkipRest()
		e.send.SetPacket("")
	}
}
