// Package dm drives the RISC-V debug module of a CH32V003 through a
// probe's register bus: halt and resume, GPR/CSR access via abstract
// commands, memory access through the program buffer, and the part's
// fast-page flash sequences. The Client satisfies the bridge's target
// adapter interface.
package dm

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Bus is word access to the debug module's 7-bit register space, as
// exposed by the single-wire probe.
type Bus interface {
	ReadReg(addr uint8) (uint32, error)
	WriteReg(addr uint8, v uint32) error
}

// Debug module registers (RISC-V debug spec 0.13).
const (
	regData0        = 0x04
	regDMControl    = 0x10
	regDMStatus     = 0x11
	regAbstractCS   = 0x16
	regCommand      = 0x17
	regAbstractAuto = 0x18
	regProgBuf0     = 0x20
	regProgBuf1     = 0x21
	regProgBuf2     = 0x22
)

// dmcontrol bits.
const (
	dmActive    = 1 << 0
	dmNDMReset  = 1 << 1
	dmResumeReq = 1 << 30
	dmHaltReq   = 1 << 31
)

// dmstatus bits.
const (
	statAllHalted  = 1 << 9
	statAllResumed = 1 << 17
)

// abstractcs fields.
const (
	csBusy      = 1 << 12
	csCmdErrPos = 8
	csCmdErrAny = 7 << csCmdErrPos
)

// Abstract "access register" command fields.
const (
	cmdRegRead  = 0x00220000 // aarsize=32, transfer
	cmdRegWrite = 0x00230000 // aarsize=32, transfer, write
	cmdPostExec = 1 << 18

	regnoGPRBase = 0x1000
)

// GPRs clobbered by the progbuf memory routines; saved and restored
// around each access.
const (
	gprS0 = 8
	gprS1 = 9
)

// Program buffer instruction encodings.
const (
	insLwS1S0   = 0x00042483 // lw   s1, 0(s0)
	insSwS1S0   = 0x00942023 // sw   s1, 0(s0)
	insAddiS0x4 = 0x00440413 // addi s0, s0, 4
	insEbreak   = 0x00100073
)

// Flash controller of the CH32V003.
const (
	flashKEYR     = 0x40022004
	flashSTATR    = 0x4002200C
	flashCTLR     = 0x40022010
	flashADDR     = 0x40022014
	flashMODEKEYR = 0x40022024

	flashKey1 = 0x45670123
	flashKey2 = 0xCDEF89AB

	ctlPER     = 1 << 1
	ctlMER     = 1 << 2
	ctlSTRT    = 1 << 6
	ctlLOCK    = 1 << 7
	ctlFLOCK   = 1 << 15
	ctlFTPG    = 1 << 16
	ctlFTER    = 1 << 17
	ctlBUFLOAD = 1 << 18
	ctlBUFRST  = 1 << 19

	statBusy = 1 << 0
)

const pollLimit = 10000

// Client is a debug session with one hart. Not safe for concurrent
// use.
type Client struct {
	bus Bus
	log logrus.FieldLogger
}

func New(bus Bus, log logrus.FieldLogger) (*Client, error) {
	c := &Client{bus: bus, log: log}
	// Bring the module up before anything else; writes while dmactive
	// is clear are ignored.
	if err := c.bus.WriteReg(regDMControl, dmActive); err != nil {
		return nil, fmt.Errorf("enabling debug module: %w", err)
	}
	return c, nil
}

// Halt requests a debug halt and waits for the hart to take it.
func (c *Client) Halt() error {
	if err := c.bus.WriteReg(regDMControl, dmHaltReq|dmActive); err != nil {
		return err
	}
	for i := 0; i < pollLimit; i++ {
		st, err := c.bus.ReadReg(regDMStatus)
		if err != nil {
			return err
		}
		if st&statAllHalted != 0 {
			return c.bus.WriteReg(regDMControl, dmActive)
		}
	}
	return fmt.Errorf("hart did not halt")
}

// Resume lets the hart run again.
func (c *Client) Resume() error {
	if err := c.bus.WriteReg(regDMControl, dmResumeReq|dmActive); err != nil {
		return err
	}
	for i := 0; i < pollLimit; i++ {
		st, err := c.bus.ReadReg(regDMStatus)
		if err != nil {
			return err
		}
		if st&statAllResumed != 0 {
			return c.bus.WriteReg(regDMControl, dmActive)
		}
	}
	return fmt.Errorf("hart did not resume")
}

// Reset pulses ndmreset with the halt request held, leaving the hart
// halted at the reset vector.
func (c *Client) Reset() error {
	if err := c.bus.WriteReg(regDMControl, dmHaltReq|dmNDMReset|dmActive); err != nil {
		return err
	}
	if err := c.bus.WriteReg(regDMControl, dmHaltReq|dmActive); err != nil {
		return err
	}
	return c.Halt()
}

// waitAbstract polls abstractcs until the current command finishes and
// reports any command error.
func (c *Client) waitAbstract() error {
	for i := 0; i < pollLimit; i++ {
		cs, err := c.bus.ReadReg(regAbstractCS)
		if err != nil {
			return err
		}
		if cs&csBusy != 0 {
			continue
		}
		if cmderr := (cs & csCmdErrAny) >> csCmdErrPos; cmderr != 0 {
			// W1C: clear the error before reporting it.
			if werr := c.bus.WriteReg(regAbstractCS, csCmdErrAny); werr != nil {
				return werr
			}
			return fmt.Errorf("abstract command error %d", cmderr)
		}
		return nil
	}
	return fmt.Errorf("abstract command stuck busy")
}

func (c *Client) readRegno(regno uint32) (uint32, error) {
	if err := c.bus.WriteReg(regCommand, cmdRegRead|regno); err != nil {
		return 0, err
	}
	if err := c.waitAbstract(); err != nil {
		return 0, err
	}
	return c.bus.ReadReg(regData0)
}

func (c *Client) writeRegno(regno uint32, v uint32) error {
	if err := c.bus.WriteReg(regData0, v); err != nil {
		return err
	}
	if err := c.bus.WriteReg(regCommand, cmdRegWrite|regno); err != nil {
		return err
	}
	return c.waitAbstract()
}

func (c *Client) GetGPR(i int) (uint32, error) {
	return c.readRegno(regnoGPRBase + uint32(i))
}

func (c *Client) SetGPR(i int, v uint32) error {
	return c.writeRegno(regnoGPRBase+uint32(i), v)
}

func (c *Client) GetCSR(id uint16) (uint32, error) {
	return c.readRegno(uint32(id))
}

func (c *Client) SetCSR(id uint16, v uint32) error {
	return c.writeRegno(uint32(id), v)
}

// withScratch saves s0/s1, runs fn, and restores them. The progbuf
// memory routines use the pair as address and data registers.
func (c *Client) withScratch(fn func() error) error {
	s0, err := c.GetGPR(gprS0)
	if err != nil {
		return err
	}
	s1, err := c.GetGPR(gprS1)
	if err != nil {
		return err
	}
	ferr := fn()
	if err := c.SetGPR(gprS0, s0); err != nil && ferr == nil {
		ferr = err
	}
	if err := c.SetGPR(gprS1, s1); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

// GetMem reads one word of target memory via lw in the program buffer.
func (c *Client) GetMem(addr uint32) (v uint32, err error) {
	err = c.withScratch(func() error {
		if err := c.bus.WriteReg(regProgBuf0, insLwS1S0); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regProgBuf1, insEbreak); err != nil {
			return err
		}
		if err := c.writeRegno(regnoGPRBase+gprS0, addr); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regCommand, cmdRegRead|cmdPostExec|regnoGPRBase+gprS0); err != nil {
			return err
		}
		if err := c.waitAbstract(); err != nil {
			return err
		}
		v, err = c.GetGPR(gprS1)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading %#08x: %w", addr, err)
	}
	return v, nil
}

// SetMem writes one word of target memory via sw in the program buffer.
func (c *Client) SetMem(addr uint32, v uint32) error {
	err := c.withScratch(func() error {
		if err := c.bus.WriteReg(regProgBuf0, insSwS1S0); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regProgBuf1, insEbreak); err != nil {
			return err
		}
		if err := c.writeRegno(regnoGPRBase+gprS0, addr); err != nil {
			return err
		}
		if err := c.writeRegno(regnoGPRBase+gprS1, v); err != nil {
			return err
		}
		// Writing s1 again with postexec runs the store.
		if err := c.bus.WriteReg(regData0, v); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regCommand, cmdRegWrite|cmdPostExec|regnoGPRBase+gprS1); err != nil {
			return err
		}
		return c.waitAbstract()
	})
	if err != nil {
		return fmt.Errorf("writing %#08x: %w", addr, err)
	}
	return nil
}

// GetBlock reads consecutive words using the auto-incrementing load
// loop in the program buffer with abstractauto, one data read per word
// after the first.
func (c *Client) GetBlock(addr uint32, out []uint32) error {
	if len(out) == 0 {
		return nil
	}
	err := c.withScratch(func() error {
		if err := c.bus.WriteReg(regProgBuf0, insLwS1S0); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regProgBuf1, insAddiS0x4); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regProgBuf2, insEbreak); err != nil {
			return err
		}
		if err := c.writeRegno(regnoGPRBase+gprS0, addr); err != nil {
			return err
		}
		// First load: run the progbuf, then move s1 into data0.
		if err := c.bus.WriteReg(regCommand, cmdRegRead|cmdPostExec|regnoGPRBase+gprS0); err != nil {
			return err
		}
		if err := c.waitAbstract(); err != nil {
			return err
		}
		if err := c.bus.WriteReg(regCommand, cmdRegRead|cmdPostExec|regnoGPRBase+gprS1); err != nil {
			return err
		}
		if err := c.waitAbstract(); err != nil {
			return err
		}
		// Every data0 read from here on reruns the command.
		if err := c.bus.WriteReg(regAbstractAuto, 1); err != nil {
			return err
		}
		for i := range out {
			v, err := c.bus.ReadReg(regData0)
			if err != nil {
				c.bus.WriteReg(regAbstractAuto, 0)
				return err
			}
			out[i] = v
		}
		if err := c.bus.WriteReg(regAbstractAuto, 0); err != nil {
			return err
		}
		return c.waitAbstract()
	})
	if err != nil {
		return fmt.Errorf("reading block at %#08x: %w", addr, err)
	}
	return nil
}
