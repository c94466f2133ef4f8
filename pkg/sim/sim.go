// Package sim provides an in-memory CH32V003 stand-in for the debug
// bridge: 16 KiB of flash, 2 KiB of RAM, sixteen GPRs and the DPC. It
// implements the rsp.Target adapter so the endpoint can run without
// hardware, and it counts erase and program operations so tests can
// assert on them.
package sim

import (
	"encoding/binary"
	"fmt"

	"github.com/rvlabs/rvlink/pkg/rsp"
)

const (
	flashAlias = 0x08000000
	ramBase    = 0x20000000
	ramSize    = 0x800
)

// Target is one simulated chip. It is not safe for concurrent use; the
// endpoint drives it from a single goroutine, like real hardware.
type Target struct {
	GPRs [rsp.NumGPRs]uint32
	CSRs map[uint16]uint32

	Flash [rsp.FlashSize]byte
	RAM   [ramSize]byte

	// Operation counters.
	ChipErases   int
	SectorErases int
	PageErases   int
	PagePrograms int
}

func New() *Target {
	t := &Target{CSRs: map[uint16]uint32{}}
	for i := range t.Flash {
		t.Flash[i] = 0xFF
	}
	return t
}

func (t *Target) GetGPR(i int) (uint32, error) {
	if i < 0 || i >= rsp.NumGPRs {
		return 0, fmt.Errorf("gpr %d out of range", i)
	}
	return t.GPRs[i], nil
}

func (t *Target) SetGPR(i int, v uint32) error {
	if i < 0 || i >= rsp.NumGPRs {
		return fmt.Errorf("gpr %d out of range", i)
	}
	t.GPRs[i] = v
	return nil
}

func (t *Target) GetCSR(id uint16) (uint32, error) {
	return t.CSRs[id], nil
}

func (t *Target) SetCSR(id uint16, v uint32) error {
	t.CSRs[id] = v
	return nil
}

// mem resolves addr to the backing slice. Flash is visible both at 0
// and at its 0x08000000 alias, as on the real part.
func (t *Target) mem(addr uint32) ([]byte, error) {
	a := addr &^ flashAlias
	switch {
	case a+4 <= rsp.FlashSize:
		return t.Flash[a : a+4], nil
	case addr >= ramBase && addr+4 <= ramBase+ramSize:
		return t.RAM[addr-ramBase : addr-ramBase+4], nil
	}
	return nil, fmt.Errorf("address %#08x outside flash and ram", addr)
}

func (t *Target) GetMem(addr uint32) (uint32, error) {
	b, err := t.mem(addr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (t *Target) SetMem(addr uint32, v uint32) error {
	b, err := t.mem(addr)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func (t *Target) GetBlock(addr uint32, out []uint32) error {
	for i := range out {
		v, err := t.GetMem(addr + uint32(i)*4)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func (t *Target) WipeChip() error {
	t.ChipErases++
	for i := range t.Flash {
		t.Flash[i] = 0xFF
	}
	return nil
}

func (t *Target) WipeSector(addr uint32) error {
	a := addr &^ flashAlias
	if a%rsp.SectorSize != 0 || a+rsp.SectorSize > rsp.FlashSize {
		return fmt.Errorf("bad sector address %#08x", addr)
	}
	t.SectorErases++
	for i := uint32(0); i < rsp.SectorSize; i++ {
		t.Flash[a+i] = 0xFF
	}
	return nil
}

func (t *Target) WipePage(addr uint32) error {
	a := addr &^ flashAlias
	if a%rsp.PageSize != 0 || a+rsp.PageSize > rsp.FlashSize {
		return fmt.Errorf("bad page address %#08x", addr)
	}
	t.PageErases++
	for i := uint32(0); i < rsp.PageSize; i++ {
		t.Flash[a+i] = 0xFF
	}
	return nil
}

func (t *Target) WriteFlash(pageBase uint32, data []uint32) error {
	a := pageBase &^ flashAlias
	if a%rsp.PageSize != 0 || len(data) != rsp.PageWords {
		return fmt.Errorf("bad page program at %#08x (%d words)", pageBase, len(data))
	}
	if a+rsp.PageSize > rsp.FlashSize {
		return fmt.Errorf("page program %#08x outside flash", pageBase)
	}
	t.PagePrograms++
	for i, w := range data {
		binary.LittleEndian.PutUint32(t.Flash[a+uint32(i)*4:], w)
	}
	return nil
}
