package rsp

import (
	"encoding/binary"
	"errors"

	"github.com/sirupsen/logrus"
)

// noPage marks an empty cache; real page bases are 64-byte aligned.
const noPage = ^uint32(0)

// ErrUnalignedErase is returned for erase requests that are not
// page-aligned in both address and size.
var ErrUnalignedErase = errors.New("erase not page-aligned")

// FlashCache coalesces the byte stream of vFlashWrite fragments into
// aligned 64-byte page programs. One page is staged at a time; writing
// a byte on a different page flushes the staged one first. Bytes never
// supplied keep the erased value 0xFF.
type FlashCache struct {
	pageBase uint32
	bitmap   uint64
	cache    [PageSize]byte

	target Target
	stats  *Stats
	log    logrus.FieldLogger
}

func newFlashCache(t Target, stats *Stats, log logrus.FieldLogger) *FlashCache {
	c := &FlashCache{target: t, stats: stats, log: log}
	c.reset()
	return c
}

func (c *FlashCache) reset() {
	c.pageBase = noPage
	c.bitmap = 0
	for i := range c.cache {
		c.cache[i] = 0xFF
	}
}

// Empty reports whether no page is staged.
func (c *FlashCache) Empty() bool { return c.pageBase == noPage }

// Bitmap returns the per-byte written mask of the staged page.
func (c *FlashCache) Bitmap() uint64 { return c.bitmap }

// PutByte stages one byte. Crossing into a different page flushes the
// staged one. A byte offset written twice keeps its first value.
func (c *FlashCache) PutByte(addr uint32, b byte) {
	base := addr &^ (PageSize - 1)
	offset := addr & (PageSize - 1)

	if c.bitmap != 0 && base != c.pageBase {
		c.Flush()
	}
	c.pageBase = base

	if c.bitmap&(1<<offset) != 0 {
		c.log.WithField("addr", addr).Warn("flash page byte written twice, keeping first value")
		return
	}
	c.cache[offset] = b
	c.bitmap |= 1 << offset
}

// Erase wipes [addr, addr+size) using the widest units that fit: the
// whole chip when the request covers all of flash, 1 KiB sectors on
// sector boundaries, 64-byte pages otherwise. Both addr and size must
// be multiples of the page size. Erases never flush the staged page.
func (c *FlashCache) Erase(addr, size uint32) error {
	if (addr|size)&(PageSize-1) != 0 {
		c.log.WithFields(logrus.Fields{"addr": addr, "size": size}).Warn("rejecting unaligned flash erase")
		return ErrUnalignedErase
	}

	for size > 0 {
		switch {
		case addr == 0 && size == FlashSize:
			c.log.Debug("erase chip")
			if err := c.target.WipeChip(); err != nil {
				c.log.WithError(err).Warn("chip erase failed")
			}
			c.stats.ChipErases.Add(1)
			addr += FlashSize
			size = 0
		case addr%SectorSize == 0 && size >= SectorSize:
			c.log.WithField("addr", addr).Debug("erase sector")
			if err := c.target.WipeSector(addr); err != nil {
				c.log.WithError(err).Warn("sector erase failed")
			}
			c.stats.SectorErases.Add(1)
			addr += SectorSize
			size -= SectorSize
		default:
			c.log.WithField("addr", addr).Debug("erase page")
			if err := c.target.WipePage(addr); err != nil {
				c.log.WithError(err).Warn("page erase failed")
			}
			c.stats.PageErases.Add(1)
			addr += PageSize
			size -= PageSize
		}
	}
	return nil
}

// Flush programs the staged page and resets the cache. A cache with a
// page base but no written bytes is logged and dropped without
// programming. Partial pages are programmed in full, the unwritten
// bytes carrying 0xFF.
func (c *FlashCache) Flush() {
	if c.pageBase == noPage {
		return
	}

	if c.bitmap == 0 {
		c.log.WithField("base", c.pageBase).Debug("empty page write, nothing to program")
	} else {
		if c.bitmap == ^uint64(0) {
			c.log.WithField("base", c.pageBase).Debug("full page write")
		} else {
			c.log.WithFields(logrus.Fields{"base": c.pageBase, "mask": c.bitmap}).Debug("partial page write")
		}

		words := make([]uint32, PageWords)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(c.cache[i*4:])
		}
		if err := c.target.WriteFlash(c.pageBase, words); err != nil {
			c.log.WithError(err).WithField("base", c.pageBase).Warn("flash page program failed")
		}
		c.stats.FlashPages.Add(1)
	}

	c.reset()
}
