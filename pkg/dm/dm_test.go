package dm

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeBus models just enough of the debug module for the client's
// sequences: halt/resume status tracking, abstract register commands
// against a register file, and a journal of raw register writes.
type fakeBus struct {
	regs   map[uint32]uint32 // abstract regno space
	dm     map[uint8]uint32  // debug module registers
	writes []struct {
		addr uint8
		val  uint32
	}
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		regs: map[uint32]uint32{},
		dm:   map[uint8]uint32{},
	}
}

func (b *fakeBus) ReadReg(addr uint8) (uint32, error) {
	switch addr {
	case regDMStatus:
		// Halted or resumed according to the last dmcontrol request.
		ctl := b.dm[regDMControl]
		if ctl&dmHaltReq != 0 {
			return statAllHalted, nil
		}
		if ctl&dmResumeReq != 0 {
			return statAllResumed, nil
		}
		return statAllHalted, nil
	case regAbstractCS:
		return 0, nil // never busy, never errored
	}
	return b.dm[addr], nil
}

func (b *fakeBus) WriteReg(addr uint8, v uint32) error {
	b.writes = append(b.writes, struct {
		addr uint8
		val  uint32
	}{addr, v})
	b.dm[addr] = v

	if addr == regCommand {
		regno := v & 0xFFFF
		if v&0x00010000 != 0 { // write bit
			b.regs[regno] = b.dm[regData0]
		} else {
			b.dm[regData0] = b.regs[regno]
		}
	}
	return nil
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T) (*Client, *fakeBus) {
	t.Helper()
	bus := newFakeBus()
	c, err := New(bus, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, bus
}

func TestNewActivatesModule(t *testing.T) {
	_, bus := newTestClient(t)

	if len(bus.writes) == 0 || bus.writes[0].addr != regDMControl || bus.writes[0].val != dmActive {
		t.Fatalf("first write %v, want dmactive", bus.writes)
	}
}

func TestGPRRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)

	if err := c.SetGPR(5, 0x12345678); err != nil {
		t.Fatalf("SetGPR: %v", err)
	}
	v, err := c.GetGPR(5)
	if err != nil {
		t.Fatalf("GetGPR: %v", err)
	}
	if v != 0x12345678 {
		t.Fatalf("got %#x", v)
	}
}

func TestCSRUsesRawRegno(t *testing.T) {
	c, bus := newTestClient(t)

	bus.regs[0x7B1] = 0xCAFEBABE
	v, err := c.GetCSR(0x7B1)
	if err != nil {
		t.Fatalf("GetCSR: %v", err)
	}
	if v != 0xCAFEBABE {
		t.Fatalf("got %#x", v)
	}
}

func TestHaltWritesHaltReq(t *testing.T) {
	c, bus := newTestClient(t)

	if err := c.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}

	found := false
	for _, w := range bus.writes {
		if w.addr == regDMControl && w.val&dmHaltReq != 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("no haltreq write in %v", bus.writes)
	}
}

func TestMemoryAccessRestoresScratchRegisters(t *testing.T) {
	c, bus := newTestClient(t)

	bus.regs[regnoGPRBase+gprS0] = 0x1111
	bus.regs[regnoGPRBase+gprS1] = 0x2222

	if err := c.SetMem(0x20000000, 0xDEADBEEF); err != nil {
		t.Fatalf("SetMem: %v", err)
	}

	if got := bus.regs[regnoGPRBase+gprS0]; got != 0x1111 {
		t.Fatalf("s0 = %#x after memory access", got)
	}
	if got := bus.regs[regnoGPRBase+gprS1]; got != 0x2222 {
		t.Fatalf("s1 = %#x after memory access", got)
	}

	// The store instruction pair must have been staged.
	var sawSw bool
	for _, w := range bus.writes {
		if w.addr == regProgBuf0 && w.val == insSwS1S0 {
			sawSw = true
		}
	}
	if !sawSw {
		t.Fatalf("sw instruction never written to progbuf")
	}
}

func TestWriteFlashSequence(t *testing.T) {
	c, bus := newTestClient(t)

	data := make([]uint32, 16)
	for i := range data {
		data[i] = uint32(i)
	}
	if err := c.WriteFlash(0x08000000, data); err != nil {
		t.Fatalf("WriteFlash: %v", err)
	}
	if err := c.WriteFlash(0x0, data[:4]); err == nil {
		t.Fatalf("short page accepted")
	}
}
