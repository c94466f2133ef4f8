// Package probe talks to the single-wire debug probe over its USB-CDC
// serial device. The probe exposes the target's debug-module register
// space through a fixed-size framed request/response protocol; this
// package implements the host side of that protocol and hands the
// register bus to the dm client.
package probe

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Wire framing. Every request is 8 bytes, every response 7; the last
// byte of each is the additive checksum of the bytes before it.
const (
	magicReq  = 0xA5
	magicResp = 0x5A

	opReadReg  = 0x01
	opWriteReg = 0x02

	reqLen  = 8
	respLen = 7
)

// ErrUnsupported is returned by Open on platforms without a serial
// backend.
var ErrUnsupported = errors.New("probe: serial transport not supported on this platform")

// Conn is one probe connection. ReadReg and WriteReg satisfy the dm
// register bus. A mutex serializes request/response round trips, so
// concurrent callers cannot interleave frames.
type Conn struct {
	mu  sync.Mutex
	rw  io.ReadWriteCloser
	log logrus.FieldLogger
}

// New wraps an already-open byte stream. Open in the platform files is
// the usual way in.
func New(rw io.ReadWriteCloser, log logrus.FieldLogger) *Conn {
	return &Conn{rw: rw, log: log}
}

func (c *Conn) Close() error { return c.rw.Close() }

func sum(b []byte) byte {
	var s byte
	for _, v := range b {
		s += v
	}
	return s
}

func (c *Conn) roundTrip(op, addr uint8, data uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := [reqLen]byte{
		magicReq, op, addr,
		byte(data), byte(data >> 8), byte(data >> 16), byte(data >> 24),
		0,
	}
	req[reqLen-1] = sum(req[:reqLen-1])
	if _, err := c.rw.Write(req[:]); err != nil {
		return 0, fmt.Errorf("probe write: %w", err)
	}

	return c.readResp()
}

// readResp scans for the response magic so a session survives stray
// bytes on the line, then validates checksum and status.
func (c *Conn) readResp() (uint32, error) {
	var resp [respLen]byte
	for {
		if _, err := io.ReadFull(c.rw, resp[:1]); err != nil {
			return 0, fmt.Errorf("probe read: %w", err)
		}
		if resp[0] == magicResp {
			break
		}
		c.log.WithField("byte", resp[0]).Debug("discarding garbage before response magic")
	}
	if _, err := io.ReadFull(c.rw, resp[1:]); err != nil {
		return 0, fmt.Errorf("probe read: %w", err)
	}
	if got, want := resp[respLen-1], sum(resp[:respLen-1]); got != want {
		return 0, fmt.Errorf("probe response checksum %#02x, want %#02x", got, want)
	}
	if status := resp[1]; status != 0 {
		return 0, fmt.Errorf("probe status %d", status)
	}
	return uint32(resp[2]) | uint32(resp[3])<<8 | uint32(resp[4])<<16 | uint32(resp[5])<<24, nil
}

// ReadReg reads one debug-module register.
func (c *Conn) ReadReg(addr uint8) (uint32, error) {
	return c.roundTrip(opReadReg, addr, 0)
}

// WriteReg writes one debug-module register.
func (c *Conn) WriteReg(addr uint8, v uint32) error {
	_, err := c.roundTrip(opWriteReg, addr, v)
	return err
}
