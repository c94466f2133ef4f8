package dm

import "fmt"

// Flash sequences for the CH32V003: standard 1 KiB page erase and mass
// erase, plus the fast-mode 64-byte page erase and program used by the
// debugger's download path. The controller is driven entirely through
// target memory writes while the hart is halted.

func (c *Client) unlockFlash() error {
	if err := c.SetMem(flashKEYR, flashKey1); err != nil {
		return err
	}
	if err := c.SetMem(flashKEYR, flashKey2); err != nil {
		return err
	}
	// Fast-mode operations need the second unlock.
	if err := c.SetMem(flashMODEKEYR, flashKey1); err != nil {
		return err
	}
	return c.SetMem(flashMODEKEYR, flashKey2)
}

func (c *Client) lockFlash() error {
	return c.SetMem(flashCTLR, ctlLOCK|ctlFLOCK)
}

func (c *Client) waitFlash() error {
	for i := 0; i < pollLimit; i++ {
		st, err := c.GetMem(flashSTATR)
		if err != nil {
			return err
		}
		if st&statBusy == 0 {
			return nil
		}
	}
	return fmt.Errorf("flash controller stuck busy")
}

func (c *Client) WipeChip() error {
	c.log.Debug("mass erase")
	if err := c.unlockFlash(); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlMER); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlMER|ctlSTRT); err != nil {
		return err
	}
	if err := c.waitFlash(); err != nil {
		return err
	}
	return c.lockFlash()
}

func (c *Client) WipeSector(addr uint32) error {
	c.log.WithField("addr", addr).Debug("sector erase")
	if err := c.unlockFlash(); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlPER); err != nil {
		return err
	}
	if err := c.SetMem(flashADDR, addr); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlPER|ctlSTRT); err != nil {
		return err
	}
	if err := c.waitFlash(); err != nil {
		return err
	}
	return c.lockFlash()
}

func (c *Client) WipePage(addr uint32) error {
	c.log.WithField("addr", addr).Debug("fast page erase")
	if err := c.unlockFlash(); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlFTER); err != nil {
		return err
	}
	if err := c.SetMem(flashADDR, addr); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlFTER|ctlSTRT); err != nil {
		return err
	}
	if err := c.waitFlash(); err != nil {
		return err
	}
	return c.lockFlash()
}

// WriteFlash programs one 64-byte page with the fast-mode buffer: reset
// the page buffer, load it word by word, then start the program cycle
// with the page address latched.
func (c *Client) WriteFlash(pageBase uint32, data []uint32) error {
	if len(data) != 16 {
		return fmt.Errorf("page program needs 16 words, got %d", len(data))
	}
	c.log.WithField("base", pageBase).Debug("fast page program")

	if err := c.unlockFlash(); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlFTPG); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlFTPG|ctlBUFRST); err != nil {
		return err
	}
	if err := c.waitFlash(); err != nil {
		return err
	}

	for i, w := range data {
		if err := c.SetMem(pageBase+uint32(i)*4, w); err != nil {
			return err
		}
		if err := c.SetMem(flashCTLR, ctlFTPG|ctlBUFLOAD); err != nil {
			return err
		}
		if err := c.waitFlash(); err != nil {
			return err
		}
	}

	if err := c.SetMem(flashADDR, pageBase); err != nil {
		return err
	}
	if err := c.SetMem(flashCTLR, ctlFTPG|ctlSTRT); err != nil {
		return err
	}
	if err := c.waitFlash(); err != nil {
		return err
	}
	return c.lockFlash()
}
